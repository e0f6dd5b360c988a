package container

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/mbme/baza/pkg/crypto"
)

// Patch describes a container mutation: entries to add or replace (keyed
// by name) and entries to remove, by name.
type Patch struct {
	Set    map[string][]byte
	Delete map[string]struct{}
}

// NewPatch returns an empty patch.
func NewPatch() Patch {
	return Patch{Set: map[string][]byte{}, Delete: map[string]struct{}{}}
}

// PatchAndSave computes a new container whose entries are
// (existing \ patch.Delete) ∪ patch.Set, preserving the prior entry
// order where possible and appending any brand-new names at the end,
// then atomically replaces path with it. If existing is nil, path is
// treated as not yet existing (first write). salt is reused from
// existing when present; callers creating a container for the first
// time must supply one themselves via Create.
//
// The patch is never applied in place: a crash at any point leaves
// either the old file or the fully-written new file, never a partially
// written one, since the new container is built at a temp path and only
// then renamed over path.
func PatchAndSave(path string, key crypto.SecretBytes, salt string, existing *Reader, patch Patch) error {
	var priorNames []string
	entries := map[string][]byte{}

	if existing != nil {
		priorNames = existing.Index().Names()
		for _, name := range priorNames {
			if body, err := existing.GetBytes(name); err == nil {
				entries[name] = body
			}
		}
	}

	var newNames []string
	for _, name := range priorNames {
		if _, deleted := patch.Delete[name]; deleted {
			continue
		}
		newNames = append(newNames, name)
	}
	for name := range patch.Set {
		if !containsName(newNames, name) {
			newNames = append(newNames, name)
		}
	}

	for name, body := range patch.Set {
		entries[name] = body
	}
	for name := range patch.Delete {
		delete(entries, name)
	}

	tmpPath := tempPathFor(path)

	if err := Create(tmpPath, key, salt, newNames, entries); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("container: writing patched container: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("container: renaming patched container into place: %w", err)
	}

	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func tempPathFor(path string) string {
	return fmt.Sprintf("%s.tmp-%x", path, rand.Uint64())
}
