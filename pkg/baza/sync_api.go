package baza

import (
	"fmt"
	"io"
	"time"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

// This file is the narrow surface pkg/sync drives a store through: a
// sync session only ever sees data_version, a store-wide revision
// summary, and the ability to pull or apply a changeset and fetch/store
// blobs. It never reaches into pkg/state or pkg/storagelog directly.

// DataVersion returns the schema/format version this store was created
// with, compared against a peer's Ping to detect an outdated instance.
func (b *Baza) DataVersion() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.Info.DataVersion
}

// StoreRevision returns the component-wise maximum, across every
// document head this instance knows of (committed or still conflicted),
// of every writer's counter: a single vector clock summarising how much
// of the whole store this instance has observed from each instance. Sync
// agents are ordered by this value and changesets are diffed against it.
func (b *Baza) StoreRevision() revision.Revision {
	b.mu.Lock()
	defer b.mu.Unlock()

	revs := make([]revision.Revision, 0, len(b.state.Documents)*2)
	for _, head := range b.state.Documents {
		if head.Committed != nil {
			revs = append(revs, head.Committed.Rev)
		}
		revs = append(revs, head.ConflictRevs...)
	}

	return revision.Merge(revs...)
}

// LastSyncTime returns when Finalize last ran, the zero value if never.
func (b *Baza) LastSyncTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastSyncTime
}

// PullChangeset returns every snapshot this instance holds whose
// revision baseRev does not already dominate: everything a peer
// reporting baseRev as its store revision hasn't seen yet.
func (b *Baza) PullChangeset(baseRev revision.Revision) ([]document.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []document.Document

	for id, head := range b.state.Documents {
		revs := head.ConflictRevs
		if len(revs) == 0 && head.Committed != nil {
			revs = []revision.Revision{head.Committed.Rev}
		}

		for _, rev := range revs {
			if baseRev.Dominates(rev) {
				continue
			}

			doc, err := b.storage.Get(document.NewDocumentKey(id, rev))
			if err != nil {
				return nil, fmt.Errorf("baza: pulling changeset: %w", err)
			}
			out = append(out, doc)
		}
	}

	return out, nil
}

// ApplyChangeset imports a peer's offered snapshots. It refuses the whole
// batch if this instance has any staged, uncommitted edits (sync never
// touches a dirty working set) or if dataVersion mismatches, leaving the
// caller to mark the peer PeerError/InstanceOutdated as appropriate.
// Applying the same changeset twice is a no-op the second time: every
// snapshot already in storage is silently skipped.
func (b *Baza) ApplyChangeset(dataVersion int, docs []document.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	if dataVersion != b.state.Info.DataVersion {
		b.events.Publish(&events.Event{
			Type:    events.EventInstanceOutdated,
			Message: fmt.Sprintf("peer data_version %d != local %d", dataVersion, b.state.Info.DataVersion),
		})
		return fmt.Errorf("baza: %w: peer data_version %d, local %d", bazaerr.ErrOutdated, dataVersion, b.state.Info.DataVersion)
	}

	for _, head := range b.state.Documents {
		if head.Staged != nil {
			return fmt.Errorf("baza: %w", bazaerr.ErrDirtyWorkingSet)
		}
	}

	if len(docs) == 0 {
		return nil
	}

	for _, doc := range docs {
		if lock, locked := b.state.Locks[doc.Id]; locked {
			return fmt.Errorf("baza: %w: document %s is locked: %s", bazaerr.ErrLocked, doc.Id, lock.Reason)
		}
	}

	var normal []document.Document
	var tombstones []document.Document
	for _, doc := range docs {
		if doc.IsErased() {
			tombstones = append(tombstones, doc)
		} else {
			normal = append(normal, doc)
		}
	}

	if len(normal) > 0 {
		if err := b.storage.Append(normal); err != nil {
			return b.poison(fmt.Errorf("baza: applying changeset: %w", err))
		}
	}

	// A tombstone truncates its id's prior history on arrival, the same
	// way a locally committed erase does.
	for _, tomb := range tombstones {
		tombKey := document.ForDocument(tomb).String()

		var priorKeys []document.DocumentKey
		for _, key := range b.storage.AllKeysForId(string(tomb.Id)) {
			if key.String() != tombKey {
				priorKeys = append(priorKeys, key)
			}
		}

		if err := b.storage.EraseHistory(tomb, priorKeys); err != nil {
			return b.poison(fmt.Errorf("baza: applying tombstone for %s: %w", tomb.Id, err))
		}
	}

	touched := map[ids.Id]struct{}{}
	for _, doc := range docs {
		touched[doc.Id] = struct{}{}
	}

	for id := range touched {
		wasConflict := b.state.Documents[id].IsConflict()

		if err := b.recoverDocumentLocked(string(id)); err != nil {
			return b.poison(fmt.Errorf("baza: reconciling document %s after sync: %w", id, err))
		}

		head := b.state.Documents[id]

		b.dropRefsForIdLocked(id)

		if head.Committed == nil {
			continue
		}
		if head.Committed.IsErased() {
			b.search.RemoveDocument(id)
			continue
		}

		b.cacheRefsLocked(*head.Committed)
		for _, rev := range head.ConflictRevs {
			doc, err := b.storage.Get(document.NewDocumentKey(id, rev))
			if err == nil {
				b.cacheRefsLocked(doc)
			}
		}

		if head.IsConflict() && !wasConflict {
			b.events.Publish(&events.Event{
				Type:    events.EventConflictDetected,
				Message: fmt.Sprintf("document %s has concurrent revisions", id),
				Metadata: map[string]string{
					"document_id": string(id),
				},
			})
		}

		title, fields := b.registry.SelectSearchFields(*head.Committed)
		b.search.IndexDocument(id, title, fields)
	}

	b.state.Modified = true

	if err := b.flushLocked(); err != nil {
		return b.poison(err)
	}

	return nil
}

// cacheRefsLocked extracts and caches doc's refs via the schema, the
// same extraction a local stage performs, so that snapshots arriving
// from a peer feed back-reference queries and MissingBlobs exactly like
// locally authored ones. Validation problems are ignored here: the
// snapshot is already committed on the peer, and refusing to record its
// refs would only hide the blobs it needs.
func (b *Baza) cacheRefsLocked(doc document.Document) {
	if doc.IsErased() {
		return
	}

	_, refs := b.registry.Validate(string(doc.DocumentType), doc.Data, nil)
	b.state.Refs[document.ForDocument(doc).String()] = refs
}

// MissingBlobs returns every blob id referenced anywhere in state.Refs
// that isn't yet present locally, staged or committed.
func (b *Baza) MissingBlobs() ([]ids.BLOBId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	seen := map[ids.BLOBId]struct{}{}
	var missing []ids.BLOBId

	for _, refs := range b.state.Refs {
		for blobID := range refs.Blobs {
			if _, ok := seen[blobID]; ok {
				continue
			}
			seen[blobID] = struct{}{}

			if b.blobs.StagedBlobExists(blobID) || b.blobs.CommittedBlobExists(blobID) {
				continue
			}
			missing = append(missing, blobID)
		}
	}

	return missing, nil
}

// StoreFetchedBlob installs r as the content for a blob fetched from a
// peer, rejecting it outright if it doesn't rehash to expected. The blob
// is installed directly as committed, since only already-committed refs
// ever appear in state.Refs.
func (b *Baza) StoreFetchedBlob(expected ids.BLOBId, r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	got, err := b.blobs.AddBlob(r)
	if err != nil {
		return fmt.Errorf("baza: storing fetched blob: %w", err)
	}

	if got != expected {
		_ = b.blobs.RemoveStaged(got)
		return fmt.Errorf("baza: %w: fetched blob rehashes to %s, expected %s", bazaerr.ErrIntegrityFailure, got, expected)
	}

	if err := b.blobs.PromoteToCommitted(got); err != nil {
		return fmt.Errorf("baza: promoting fetched blob: %w", err)
	}

	b.events.Publish(&events.Event{
		Type:    events.EventBlobCommitted,
		Message: fmt.Sprintf("received blob %s from peer", got),
		Metadata: map[string]string{
			"blob_id": string(got),
		},
	})

	return nil
}

// Finalize records that a sync session with at least one peer completed
// and emits Synced.
func (b *Baza) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSyncTime = time.Now().UTC()

	b.events.Publish(&events.Event{
		Type:    events.EventSyncFinished,
		Message: "sync finished",
	})
}
