// Package blobstore implements baza's content-addressed attachment
// store: a flat directory of encrypted, single-entry container files
// named by the SHA-256 of their decrypted content, split across a
// "staged" directory (edits not yet committed) and a "committed"
// directory (blobs referenced by committed heads).
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/container"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/ids"
)

// blobEntryName is the single entry every blob container holds.
const blobEntryName = "blob"

// Store manages staged and committed blob directories for one open baza
// instance. Blob subkeys are derived per-blob by the caller (context
// "blob:"+blobID) so each blob is independently decryptable.
type Store struct {
	stagedDir    string
	committedDir string
	deriveKey    func(blobID ids.BLOBId) (crypto.SecretBytes, error)
}

// New returns a Store rooted at stagedDir/committedDir. deriveKey
// derives the per-blob subkey on demand; the store never holds key
// material longer than a single operation needs it.
func New(stagedDir, committedDir string, deriveKey func(blobID ids.BLOBId) (crypto.SecretBytes, error)) *Store {
	return &Store{stagedDir: stagedDir, committedDir: committedDir, deriveKey: deriveKey}
}

func blobPath(dir string, id ids.BLOBId) string {
	return filepath.Join(dir, string(id)+".c1")
}

// AddBlob streams r, computing its content hash, and installs it as a
// new staged blob. If a blob with the same id already exists (staged or
// committed), the existing id is returned unchanged and r is still fully
// consumed so callers can always treat AddBlob as "drain the reader".
func (s *Store) AddBlob(r io.Reader) (ids.BLOBId, error) {
	tmp, err := os.CreateTemp(s.stagedDir, "blob-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hashedReader := io.TeeReader(r, tmp)
	id, err := crypto.HashReader(hashedReader)
	tmp.Close()
	if err != nil {
		return "", fmt.Errorf("blobstore: hashing content: %w", err)
	}

	if s.StagedBlobExists(id) || s.CommittedBlobExists(id) {
		return id, nil
	}

	key, err := s.deriveKey(id)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}

	dest := blobPath(s.stagedDir, id)
	tmpDest := dest + ".tmp"
	if err := container.Create(tmpDest, key, string(id), []string{blobEntryName}, map[string][]byte{blobEntryName: content}); err != nil {
		_ = os.Remove(tmpDest)
		return "", fmt.Errorf("blobstore: installing blob %s: %w", id, err)
	}
	if err := os.Rename(tmpDest, dest); err != nil {
		_ = os.Remove(tmpDest)
		return "", fmt.Errorf("blobstore: installing blob %s: %w", id, err)
	}

	return id, nil
}

// GetBlob opens id for reading, checking the staged directory first and
// falling back to committed.
func (s *Store) GetBlob(id ids.BLOBId) (io.Reader, error) {
	key, err := s.deriveKey(id)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{s.stagedDir, s.committedDir} {
		path := blobPath(dir, id)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		reader, err := container.Open(path, key)
		if err != nil {
			return nil, fmt.Errorf("blobstore: opening blob %s: %w", id, err)
		}

		return reader.Get(blobEntryName)
	}

	return nil, fmt.Errorf("blobstore: %w: blob %s", bazaerr.ErrNotFound, id)
}

// ListBlobs returns the union of every blob id present in either
// directory.
func (s *Store) ListBlobs() ([]ids.BLOBId, error) {
	seen := map[ids.BLOBId]struct{}{}

	for _, dir := range []string{s.stagedDir, s.committedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, entry := range entries {
			id, ok := blobIDFromFileName(entry.Name())
			if ok {
				seen[id] = struct{}{}
			}
		}
	}

	out := make([]ids.BLOBId, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// StagedBlobExists reports whether id has a staged (uncommitted) file.
func (s *Store) StagedBlobExists(id ids.BLOBId) bool {
	_, err := os.Stat(blobPath(s.stagedDir, id))
	return err == nil
}

// CommittedBlobExists reports whether id has a committed file.
func (s *Store) CommittedBlobExists(id ids.BLOBId) bool {
	_, err := os.Stat(blobPath(s.committedDir, id))
	return err == nil
}

// PromoteToCommitted atomically moves a staged blob into the committed
// directory, called once per newly-referenced blob during commit.
func (s *Store) PromoteToCommitted(id ids.BLOBId) error {
	src := blobPath(s.stagedDir, id)
	dst := blobPath(s.committedDir, id)

	if _, err := os.Stat(src); err != nil {
		if s.CommittedBlobExists(id) {
			return nil
		}
		return fmt.Errorf("blobstore: %w: staged blob %s", bazaerr.ErrNotFound, id)
	}

	return os.Rename(src, dst)
}

// RemoveStaged deletes a staged blob file if present, used to discard a
// fetched blob whose content did not match the requested id. Committed
// blobs are never removed this way.
func (s *Store) RemoveStaged(id ids.BLOBId) error {
	err := os.Remove(blobPath(s.stagedDir, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// VerifyIntegrity re-derives id's key, decrypts the blob, and checks
// that its content still hashes to id. Used by tests and consistency
// checks, not on every read.
func (s *Store) VerifyIntegrity(id ids.BLOBId) error {
	r, err := s.GetBlob(id)
	if err != nil {
		return err
	}

	actual, err := crypto.HashReader(r)
	if err != nil {
		return err
	}

	if actual != id {
		return fmt.Errorf("blobstore: %w: blob %s rehashes to %s", bazaerr.ErrIntegrityFailure, id, actual)
	}

	return nil
}

func blobIDFromFileName(name string) (ids.BLOBId, bool) {
	const suffix = ".c1"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return "", false
	}

	raw := name[:len(name)-len(suffix)]
	if ids.ValidateBLOBId(raw) != nil {
		return "", false
	}

	return ids.BLOBId(raw), true
}
