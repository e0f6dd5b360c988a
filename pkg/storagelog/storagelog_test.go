package storagelog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

func testDeriveKey(t *testing.T) func() (crypto.SecretBytes, error) {
	t.Helper()
	rootKey, err := crypto.DeriveRootKey([]byte("correct horse battery staple"), "01234567")
	require.NoError(t, err)
	return func() (crypto.SecretBytes, error) {
		return crypto.DeriveSubkey(rootKey, "storage")
	}
}

func newDoc(id ids.Id, instance ids.InstanceId, counter uint64, title string) document.Document {
	now := time.Now().UTC()
	return document.Document{
		Id:           id,
		Rev:          revision.Revision{instance: counter},
		PrevRev:      revision.Staging(),
		DocumentType: "note",
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         document.Data{"title": title},
	}
}

func TestAppendThenGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	store, err := Open(dir, "salt", testDeriveKey(t))
	require.NoError(t, err)

	doc := newDoc("abc123", "inst-a", 1, "hello")
	require.NoError(t, store.Append([]document.Document{doc}))

	got, err := store.Get(document.ForDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Data["title"])
}

func TestAppendSkipsDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "salt", testDeriveKey(t))
	require.NoError(t, err)

	doc := newDoc("abc123", "inst-a", 1, "hello")
	require.NoError(t, store.Append([]document.Document{doc}))

	dup := doc
	dup.Data = document.Data{"title": "should not overwrite"}
	require.NoError(t, store.Append([]document.Document{dup}))

	got, err := store.Get(document.ForDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Data["title"])
}

func TestReopenMergesShards(t *testing.T) {
	dir := t.TempDir()
	deriveKey := testDeriveKey(t)

	store, err := Open(dir, "salt", deriveKey)
	require.NoError(t, err)

	doc := newDoc("abc123", "inst-a", 1, "hello")
	require.NoError(t, store.Append([]document.Document{doc}))

	reopened, err := Open(dir, "salt", deriveKey)
	require.NoError(t, err)

	assert.True(t, reopened.Contains(document.ForDocument(doc)))
	assert.ElementsMatch(t, []string{"abc123"}, reopened.AllIds())
}

func TestEraseHistoryRemovesPriorSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "salt", testDeriveKey(t))
	require.NoError(t, err)

	id := ids.Id("abc123")
	v1 := newDoc(id, "inst-a", 1, "v1")
	v2 := newDoc(id, "inst-a", 2, "v2")
	require.NoError(t, store.Append([]document.Document{v1, v2}))

	priorKeys := store.AllKeysForId(string(id))
	assert.Len(t, priorKeys, 2)

	tombstone := v2
	tombstone.DocumentType = document.ErasedType
	tombstone.Data = document.Data{}
	tombstone.Rev = revision.Revision{"inst-a": 3}

	require.NoError(t, store.EraseHistory(tombstone, priorKeys))

	remaining := store.AllKeysForId(string(id))
	require.Len(t, remaining, 1)
	assert.Equal(t, tombstone.Rev, remaining[0].Rev)

	got, err := store.Get(document.ForDocument(tombstone))
	require.NoError(t, err)
	assert.True(t, got.IsErased())
}
