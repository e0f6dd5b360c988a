package baza

import (
	"fmt"
	"time"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
	"github.com/mbme/baza/pkg/revision"
)

// StageRequest describes one document edit to stage. Leave Id empty to
// stage a brand-new document; set it to edit an existing one. LockKey is
// only needed when the id is currently locked.
type StageRequest struct {
	Id           ids.Id
	DocumentType document.DocumentType
	Data         document.Data
	LockKey      string
}

// Stage validates and installs data as the staged edit for an id,
// creating a new id if req.Id is empty. It never commits: the edit is
// only visible in storage after a successful Commit.
func (b *Baza) Stage(req StageRequest) (document.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return document.Document{}, err
	}

	id := req.Id
	var head document.DocumentHead
	var createdAt time.Time

	if id == "" {
		id = ids.NewId()
		createdAt = time.Now().UTC()
	} else {
		existing, ok := b.state.Documents[id]
		if !ok {
			return document.Document{}, fmt.Errorf("baza: %w: document %s", bazaerr.ErrNotFound, id)
		}
		head = existing

		if head.IsErased() {
			verr := &bazaerr.ValidationError{}
			verr.AddDocumentError("document %s is erased", id)
			return document.Document{}, verr
		}

		if err := b.checkLockLocked(id, req.LockKey); err != nil {
			return document.Document{}, err
		}

		createdAt = documentCreatedAt(head)
	}

	prevRev := resolvePrevRev(head)

	var prior *document.Document
	if head.Committed != nil {
		prior = head.Committed
	}

	var verr *bazaerr.ValidationError
	var refs document.Refs
	if req.DocumentType.IsErased() {
		refs = document.NewRefs()
	} else {
		verr, refs = b.registry.Validate(string(req.DocumentType), req.Data, prior)
		if verr.HasErrors() {
			return document.Document{}, verr
		}
	}

	now := time.Now().UTC()
	doc := document.Document{
		Id:           id,
		Rev:          revision.Staging(),
		PrevRev:      prevRev,
		DocumentType: req.DocumentType,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
		Data:         req.Data,
	}

	head.Staged = &doc
	b.state.Documents[id] = head
	b.state.Refs[document.NewDocumentKey(id, revision.Staging()).String()] = refs
	b.state.Modified = true
	b.lastUpdateTime = now

	logger := log.WithDocument(string(id))
	logger.Debug().Str("type", string(req.DocumentType)).Msg("staged edit")

	b.events.Publish(&events.Event{
		Type:    events.EventDocumentStaged,
		Message: fmt.Sprintf("staged document %s", id),
		Metadata: map[string]string{
			"document_id": string(id),
		},
	})

	return doc, nil
}

// resolvePrevRev picks the revision a new staged edit should record as
// its prev_rev: the merge of every conflicting head revision, or the
// single committed revision, or Staging() for a document with no
// committed history at all. Resolving a conflict this way is exactly the
// covering prev_rev the commit pipeline needs to subsume every
// conflicting snapshot at once.
func resolvePrevRev(head document.DocumentHead) revision.Revision {
	if head.IsConflict() {
		return revision.Merge(head.ConflictRevs...)
	}
	if head.Committed != nil {
		return head.Committed.Rev
	}
	return revision.Staging()
}

func documentCreatedAt(head document.DocumentHead) time.Time {
	if head.Staged != nil {
		return head.Staged.CreatedAt
	}
	if head.Committed != nil {
		return head.Committed.CreatedAt
	}
	return time.Now().UTC()
}

// Get returns the most current view of a document: its staged edit if
// one is pending, otherwise its committed snapshot.
func (b *Baza) Get(id ids.Id) (document.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return document.Document{}, err
	}

	head, ok := b.state.Documents[id]
	if !ok {
		return document.Document{}, fmt.Errorf("baza: %w: document %s", bazaerr.ErrNotFound, id)
	}

	if head.Staged != nil {
		return *head.Staged, nil
	}
	if head.Committed != nil {
		return *head.Committed, nil
	}

	return document.Document{}, fmt.Errorf("baza: %w: document %s", bazaerr.ErrNotFound, id)
}

// GetHead returns the full per-id head summary, including any conflict
// revisions the caller needs to surface for manual resolution.
func (b *Baza) GetHead(id ids.Id) (document.DocumentHead, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return document.DocumentHead{}, err
	}

	head, ok := b.state.Documents[id]
	if !ok {
		return document.DocumentHead{}, fmt.Errorf("baza: %w: document %s", bazaerr.ErrNotFound, id)
	}

	return head, nil
}

// ListIds returns every known document id, including tombstones.
func (b *Baza) ListIds() []ids.Id {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ids.Id, 0, len(b.state.Documents))
	for id := range b.state.Documents {
		out = append(out, id)
	}
	return out
}

// Query runs a full-text search against the committed, indexed documents
// and returns matches ranked by relevance. limit <= 0 means no limit.
func (b *Baza) Query(text string, limit int) ([]document.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	results := b.search.Query(text, limit)

	out := make([]document.Document, 0, len(results))
	for _, r := range results {
		head, ok := b.state.Documents[r.DocumentId]
		if !ok || head.Committed == nil {
			continue
		}
		out = append(out, *head.Committed)
	}

	return out, nil
}
