package baza

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
	"github.com/mbme/baza/pkg/revision"
)

// Commit durably writes every currently staged edit to storage in one
// atomic batch, assigning each its final revision. An id with an active
// lock aborts the whole batch; nothing is partially committed.
func (b *Baza) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	staged := make(map[ids.Id]document.DocumentHead, 8)
	for id, head := range b.state.Documents {
		if head.Staged != nil {
			staged[id] = head
		}
	}
	if len(staged) == 0 {
		return nil
	}

	for id := range staged {
		if _, locked := b.state.Locks[id]; locked {
			return fmt.Errorf("baza: %w: document %s is locked, cannot commit", bazaerr.ErrLocked, id)
		}
	}

	globalMax := b.globalCounterLocked()

	type pending struct {
		id     ids.Id
		head   document.DocumentHead
		newDoc document.Document
	}

	pendings := make([]pending, 0, len(staged))
	var normalSnapshots []document.Document

	for id, head := range staged {
		newDoc := *head.Staged
		newDoc.Rev = newDoc.PrevRev.Bump(b.instanceID, globalMax)

		pendings = append(pendings, pending{id: id, head: head, newDoc: newDoc})

		if !newDoc.IsErased() {
			normalSnapshots = append(normalSnapshots, newDoc)
		}
	}

	if len(normalSnapshots) > 0 {
		if err := b.storage.Append(normalSnapshots); err != nil {
			return b.poison(fmt.Errorf("baza: committing snapshots: %w", err))
		}
	}

	for _, p := range pendings {
		if !p.newDoc.IsErased() {
			continue
		}

		priorKeys := b.storage.AllKeysForId(string(p.id))
		if err := b.storage.EraseHistory(p.newDoc, priorKeys); err != nil {
			return b.poison(fmt.Errorf("baza: erasing document %s: %w", p.id, err))
		}
	}

	now := time.Now().UTC()

	for _, p := range pendings {
		stagingKey := document.NewDocumentKey(p.id, revision.Staging()).String()
		refs, hasRefs := b.state.Refs[stagingKey]

		// Superseded revisions take their cached refs with them; only the
		// newly committed snapshot's refs stay live for back-reference
		// queries and GC.
		b.dropRefsForIdLocked(p.id)

		if hasRefs && !p.newDoc.IsErased() {
			for blobID := range refs.Blobs {
				if err := b.blobs.PromoteToCommitted(blobID); err != nil {
					return b.poison(fmt.Errorf("baza: promoting blob %s for document %s: %w", blobID, p.id, err))
				}
			}

			b.state.Refs[document.NewDocumentKey(p.id, p.newDoc.Rev).String()] = refs
		}

		head := p.head
		head.Committed = &p.newDoc
		head.Staged = nil
		head.ConflictRevs = nil
		b.state.Documents[p.id] = head

		logger := log.WithDocument(string(p.id))
		logger.Debug().Str("rev", p.newDoc.Rev.ToFileName()).Msg("committed")

		if p.newDoc.IsErased() {
			b.search.RemoveDocument(p.id)
			b.events.Publish(&events.Event{
				Type:    events.EventDocumentErased,
				Message: fmt.Sprintf("erased document %s", p.id),
				Metadata: map[string]string{
					"document_id": string(p.id),
				},
			})
		} else {
			title, fields := b.registry.SelectSearchFields(p.newDoc)
			b.search.IndexDocument(p.id, title, fields)
		}
	}

	b.state.Modified = true
	b.lastUpdateTime = now

	if err := b.flushLocked(); err != nil {
		return b.poison(err)
	}

	committedIds := make([]string, 0, len(pendings))
	for _, p := range pendings {
		committedIds = append(committedIds, string(p.id))
	}

	b.events.Publish(&events.Event{
		Type:    events.EventDocumentCommitted,
		Message: fmt.Sprintf("committed %d document(s)", len(pendings)),
		Metadata: map[string]string{
			"document_ids": fmt.Sprint(committedIds),
			"count":        fmt.Sprint(len(pendings)),
		},
	})

	return nil
}

// dropRefsForIdLocked removes every cached Refs entry for id, across all
// revisions including the staging slot. Refs entries are keyed by
// DocumentKey.String(), which always starts with "<id> ".
func (b *Baza) dropRefsForIdLocked(id ids.Id) {
	prefix := string(id) + " "
	for key := range b.state.Refs {
		if strings.HasPrefix(key, prefix) {
			delete(b.state.Refs, key)
		}
	}
}

// globalCounterLocked returns the highest counter this instance has ever
// used for any document anywhere in the store: every head's committed
// revision and every unresolved conflict revision. Computed once per
// Commit call so every document staged in the same batch is stamped
// against the same baseline, which is what makes concurrently staged
// edits receive strictly increasing, mutually consistent counters.
func (b *Baza) globalCounterLocked() uint64 {
	var max uint64

	bump := func(rev revision.Revision) {
		if c := rev[b.instanceID]; c > max {
			max = c
		}
	}

	for _, head := range b.state.Documents {
		if head.Committed != nil {
			bump(head.Committed.Rev)
		}
		for _, rev := range head.ConflictRevs {
			bump(rev)
		}
	}

	return max
}
