package baza

import (
	"fmt"
	"sort"

	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

// recoverFromCrash rebuilds every id's committed head straight from
// storage, the one source of truth Commit always writes to before it
// touches state. A process that crashed between the storage write and
// the state flush leaves state pointing at stale data with its staged
// edit still attached; recomputing from storage and dropping a staged
// edit that storage shows already landed closes that window. Must be
// called with b.mu already held, before anything else reads state.
func (b *Baza) recoverFromCrash() error {
	storedIds := b.storage.AllIds()

	for _, rawID := range storedIds {
		if err := b.recoverDocumentLocked(rawID); err != nil {
			return err
		}
	}

	return nil
}

func (b *Baza) recoverDocumentLocked(rawID string) error {
	id := idFromString(rawID)

	keys := b.storage.AllKeysForId(rawID)
	if len(keys) == 0 {
		return nil
	}

	computer := revision.NewLatestRevComputer()
	for _, key := range keys {
		computer.Add(key.Rev)
	}
	heads := computer.Heads()

	sort.Slice(heads, func(i, j int) bool { return heads[i].ToFileName() < heads[j].ToFileName() })

	var committed *document.Document
	for _, rev := range heads {
		doc, err := b.storage.Get(document.NewDocumentKey(id, rev))
		if err != nil {
			return fmt.Errorf("baza: recovering document %s: %w", id, err)
		}
		d := doc
		committed = &d
	}

	existing := b.state.Documents[id]
	newHead := document.DocumentHead{
		Committed: committed,
		Staged:    existing.Staged,
	}
	if len(heads) > 1 {
		newHead.ConflictRevs = heads
	}

	if newHead.Staged != nil && committed != nil && stagedAlreadyCommitted(*newHead.Staged, *committed) {
		newHead.Staged = nil
	}

	b.state.Documents[id] = newHead

	return nil
}

// stagedAlreadyCommitted reports whether staged is the same edit as the
// already-committed doc recovered from storage, meaning Commit wrote the
// snapshot before the crash and only the state flush was lost.
func stagedAlreadyCommitted(staged, committed document.Document) bool {
	return staged.DocumentType == committed.DocumentType &&
		staged.UpdatedAt.Equal(committed.UpdatedAt) &&
		dataEqual(staged.Data, committed.Data)
}

func dataEqual(a, b document.Data) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func idFromString(s string) ids.Id {
	return ids.Id(s)
}
