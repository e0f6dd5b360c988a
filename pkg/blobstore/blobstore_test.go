package blobstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/ids"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	rootKey, err := crypto.DeriveRootKey([]byte("correct horse battery staple"), "01234567")
	require.NoError(t, err)

	stagedDir := filepath.Join(t.TempDir(), "staged")
	committedDir := filepath.Join(t.TempDir(), "committed")
	require.NoError(t, os.MkdirAll(stagedDir, 0o755))
	require.NoError(t, os.MkdirAll(committedDir, 0o755))

	return New(stagedDir, committedDir, func(id ids.BLOBId) (crypto.SecretBytes, error) {
		return crypto.DeriveSubkey(rootKey, "blob:"+string(id))
	})
}

func TestAddBlobThenGetRoundTrips(t *testing.T) {
	s := testStore(t)

	content := []byte("hello, this is a blob")
	id, err := s.AddBlob(bytes.NewReader(content))
	require.NoError(t, err)

	assert.True(t, s.StagedBlobExists(id))
	assert.False(t, s.CommittedBlobExists(id))

	r, err := s.GetBlob(id)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestAddBlobIsIdempotentByContent(t *testing.T) {
	s := testStore(t)

	content := []byte("duplicate content")
	id1, err := s.AddBlob(bytes.NewReader(content))
	require.NoError(t, err)

	id2, err := s.AddBlob(bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	allIds, err := s.ListBlobs()
	require.NoError(t, err)
	assert.Len(t, allIds, 1)
}

func TestPromoteToCommittedMovesBlob(t *testing.T) {
	s := testStore(t)

	content := []byte("promote me")
	id, err := s.AddBlob(bytes.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, s.PromoteToCommitted(id))

	assert.False(t, s.StagedBlobExists(id))
	assert.True(t, s.CommittedBlobExists(id))

	r, err := s.GetBlob(id)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGetBlobNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetBlob(ids.BLOBId("sha256-doesnotexist"))
	assert.ErrorIs(t, err, bazaerr.ErrNotFound)
}

func TestVerifyIntegrity(t *testing.T) {
	s := testStore(t)

	id, err := s.AddBlob(bytes.NewReader([]byte("verify me")))
	require.NoError(t, err)

	assert.NoError(t, s.VerifyIntegrity(id))
}
