// Package storagelog implements baza's storage file: the append-only log
// of every document snapshot ever admitted, keyed by DocumentKey. The
// storage file may be split across several on-disk shards; readers
// transparently merge their indexes. The only way a snapshot leaves
// storage is an erase, which removes the prior snapshots of an id while
// keeping the tombstone.
package storagelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/container"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/document"
)

// MainShardName is the always-present shard every store writes new
// snapshots to.
const MainShardName = "baza.gz.c1"

// shard is one on-disk storage container plus its decrypted reader.
type shard struct {
	name   string
	path   string
	reader *container.Reader
}

// Store aggregates every shard under a storage directory into a single
// logical append-only log.
type Store struct {
	dir       string
	deriveKey func() (crypto.SecretBytes, error)
	salt      string
	shards    []*shard
}

// Open scans dir for every "*.c1" shard and loads its index. deriveKey
// returns the storage subkey (stable across shards, since the storage
// subkey depends only on the store's root key and the "storage"
// context, not per-shard).
func Open(dir string, salt string, deriveKey func() (crypto.SecretBytes, error)) (*Store, error) {
	s := &Store{dir: dir, deriveKey: deriveKey, salt: salt}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	key, err := deriveKey()
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".c1") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		reader, err := container.Open(path, key)
		if err != nil {
			return nil, fmt.Errorf("storagelog: opening shard %s: %w", entry.Name(), err)
		}

		s.shards = append(s.shards, &shard{name: entry.Name(), path: path, reader: reader})
	}

	sort.Slice(s.shards, func(i, j int) bool { return s.shards[i].name < s.shards[j].name })

	return s, nil
}

// mainShard returns the always-writable main shard, opening an empty one
// in memory if this is a brand-new store.
func (s *Store) mainShard() *shard {
	for _, sh := range s.shards {
		if sh.name == MainShardName {
			return sh
		}
	}
	return nil
}

// Get returns the Document stored under key, searching every shard.
func (s *Store) Get(key document.DocumentKey) (document.Document, error) {
	name := key.String()

	for _, sh := range s.shards {
		if !sh.reader.Index().Contains(name) {
			continue
		}

		raw, err := sh.reader.GetBytes(name)
		if err != nil {
			return document.Document{}, err
		}

		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return document.Document{}, fmt.Errorf("storagelog: parsing snapshot %s: %w", name, err)
		}

		return doc, nil
	}

	return document.Document{}, fmt.Errorf("storagelog: %w: snapshot %s", bazaerr.ErrNotFound, name)
}

// Contains reports whether any shard already holds key, used to skip
// duplicate snapshots while applying a sync changeset.
func (s *Store) Contains(key document.DocumentKey) bool {
	name := key.String()
	for _, sh := range s.shards {
		if sh.reader.Index().Contains(name) {
			return true
		}
	}
	return false
}

// AllKeysForId returns every DocumentKey present in any shard for id,
// across every shard — the full known revision history used to seed a
// LatestRevComputer.
func (s *Store) AllKeysForId(id string) []document.DocumentKey {
	var out []document.DocumentKey
	for _, sh := range s.shards {
		for _, name := range sh.reader.Index().Names() {
			key, err := document.ParseDocumentKey(name)
			if err != nil {
				continue
			}
			if string(key.Id) == id {
				out = append(out, key)
			}
		}
	}
	return out
}

// AllIds returns every distinct document id with at least one snapshot in
// storage, used by crash recovery to recompute every head from scratch.
func (s *Store) AllIds() []string {
	seen := map[string]struct{}{}
	for _, sh := range s.shards {
		for _, name := range sh.reader.Index().Names() {
			key, err := document.ParseDocumentKey(name)
			if err != nil {
				continue
			}
			seen[string(key.Id)] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Append writes snapshots to the main shard, keyed by their DocumentKey.
// Duplicate keys already present anywhere in the store are silently
// skipped, matching the AlreadyExists-is-not-an-error rule for applying
// changesets.
func (s *Store) Append(snapshots []document.Document) error {
	patch := container.NewPatch()

	for _, doc := range snapshots {
		key := document.ForDocument(doc)
		if s.Contains(key) {
			continue
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("storagelog: serialising snapshot %s: %w", key, err)
		}

		patch.Set[key.String()] = raw
	}

	if len(patch.Set) == 0 {
		return nil
	}

	return s.applyToMainShard(patch)
}

// EraseHistory replaces every prior snapshot of id with tombstone: all of
// priorKeys are removed from whichever shard holds them and tombstone is
// appended to the main shard. This is the only operation that removes
// entries from storage.
func (s *Store) EraseHistory(tombstone document.Document, priorKeys []document.DocumentKey) error {
	raw, err := json.Marshal(tombstone)
	if err != nil {
		return fmt.Errorf("storagelog: serialising tombstone: %w", err)
	}

	byShard := map[*shard]map[string]struct{}{}
	for _, key := range priorKeys {
		name := key.String()
		for _, sh := range s.shards {
			if sh.reader.Index().Contains(name) {
				if byShard[sh] == nil {
					byShard[sh] = map[string]struct{}{}
				}
				byShard[sh][name] = struct{}{}
			}
		}
	}

	for sh, deletes := range byShard {
		patch := container.NewPatch()
		patch.Delete = deletes
		if err := s.applyToShard(sh, patch); err != nil {
			return err
		}
	}

	appendPatch := container.NewPatch()
	appendPatch.Set[document.ForDocument(tombstone).String()] = raw
	return s.applyToMainShard(appendPatch)
}

func (s *Store) applyToMainShard(patch container.Patch) error {
	main := s.mainShard()
	path := filepath.Join(s.dir, MainShardName)

	var existingReader *container.Reader
	if main != nil {
		existingReader = main.reader
	}

	key, err := s.deriveKey()
	if err != nil {
		return err
	}

	if err := container.PatchAndSave(path, key, s.salt, existingReader, patch); err != nil {
		return fmt.Errorf("storagelog: patching main shard: %w", err)
	}

	reader, err := container.Open(path, key)
	if err != nil {
		return fmt.Errorf("storagelog: reopening main shard: %w", err)
	}

	if main != nil {
		main.reader = reader
	} else {
		s.shards = append(s.shards, &shard{name: MainShardName, path: path, reader: reader})
	}

	return nil
}

func (s *Store) applyToShard(sh *shard, patch container.Patch) error {
	key, err := s.deriveKey()
	if err != nil {
		return err
	}

	if err := container.PatchAndSave(sh.path, key, s.salt, sh.reader, patch); err != nil {
		return fmt.Errorf("storagelog: patching shard %s: %w", sh.name, err)
	}

	reader, err := container.Open(sh.path, key)
	if err != nil {
		return fmt.Errorf("storagelog: reopening shard %s: %w", sh.name, err)
	}
	sh.reader = reader

	return nil
}
