package container

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/crypto"
)

func testKey(t *testing.T) crypto.SecretBytes {
	t.Helper()
	key, err := crypto.DeriveRootKey([]byte("correct horse battery staple"), "01234567")
	require.NoError(t, err)
	return key
}

func TestCreateOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "test.c1")

	names := []string{"alpha", "beta"}
	entries := map[string][]byte{
		"alpha": []byte("first entry"),
		"beta":  []byte("second entry"),
	}

	require.NoError(t, Create(path, key, "deadbeef", names, entries))

	r, err := Open(path, key)
	require.NoError(t, err)

	assert.Equal(t, names, r.Index().Names())

	for name, want := range entries {
		got, err := r.GetBytes(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	wrongKey, err := crypto.DeriveRootKey([]byte("a different password"), "87654321")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.c1")
	require.NoError(t, Create(path, key, "deadbeef", []string{"a"}, map[string][]byte{"a": []byte("x")}))

	_, err = Open(path, wrongKey)
	assert.Error(t, err)
}

func TestReadSaltWithoutKey(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "test.c1")
	require.NoError(t, Create(path, key, "the-salt-value", []string{}, map[string][]byte{}))

	salt, err := ReadSalt(path)
	require.NoError(t, err)
	assert.Equal(t, "the-salt-value", salt)
}

func TestGzipNamedContainerRoundTrips(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "shard.gz.c1")

	body := []byte("highly compressible highly compressible highly compressible")
	require.NoError(t, Create(path, key, "salt", []string{"only"}, map[string][]byte{"only": body}))

	r, err := Open(path, key)
	require.NoError(t, err)

	got, err := r.GetBytes("only")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestPatchAndSaveSetAndDelete(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "test.c1")

	require.NoError(t, Create(path, key, "salt", []string{"a", "b"}, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))

	existing, err := Open(path, key)
	require.NoError(t, err)

	patch := NewPatch()
	patch.Set["c"] = []byte("3")
	patch.Delete["a"] = struct{}{}

	require.NoError(t, PatchAndSave(path, key, "salt", existing, patch))

	reopened, err := Open(path, key)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, reopened.Index().Names())

	_, err = reopened.Get("a")
	assert.Error(t, err)

	bBody, err := reopened.GetBytes("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), bBody)

	cReader, err := reopened.Get("c")
	require.NoError(t, err)
	cBody, err := io.ReadAll(cReader)
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), cBody)
}

func TestPatchAndSavePreservesPriorOrder(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "test.c1")

	require.NoError(t, Create(path, key, "salt", []string{"x", "y", "z"}, map[string][]byte{
		"x": []byte("1"), "y": []byte("2"), "z": []byte("3"),
	}))

	existing, err := Open(path, key)
	require.NoError(t, err)

	patch := NewPatch()
	patch.Set["y"] = []byte("replaced")

	require.NoError(t, PatchAndSave(path, key, "salt", existing, patch))

	reopened, err := Open(path, key)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z"}, reopened.Index().Names())
	got, err := reopened.GetBytes("y")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
}
