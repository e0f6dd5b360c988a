package baza

import (
	"fmt"

	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/log"
	"github.com/mbme/baza/pkg/search"
)

// loadOrRebuildSearchIndex loads the persisted search index and falls
// back to a full rebuild from state if it is missing, corrupt, or out of
// sync with how many documents are actually committed. Must be called
// with b.mu already held, after recoverFromCrash has settled state.
func (b *Baza) loadOrRebuildSearchIndex() error {
	idx, err := search.Load(searchPath(b.rootDir), b.subkey("search"))
	if err == nil && idx.DocumentCount() == b.committedDocumentCountLocked() {
		b.search = idx
		return nil
	}

	logger := log.WithComponent("search")
	logger.Debug().Err(err).Msg("rebuilding search index from state")
	return b.rebuildSearchIndexLocked()
}

func (b *Baza) committedDocumentCountLocked() int {
	count := 0
	for _, head := range b.state.Documents {
		if head.Committed != nil && !head.Committed.IsErased() {
			count++
		}
	}
	return count
}

func (b *Baza) rebuildSearchIndexLocked() error {
	idx := search.NewIndex()

	for id, head := range b.state.Documents {
		if head.Committed == nil || head.Committed.IsErased() {
			continue
		}

		title, fields := b.registry.SelectSearchFields(*head.Committed)
		idx.IndexDocument(id, title, fields)
	}

	b.search = idx

	if err := idx.Save(searchPath(b.rootDir), b.subkey("search"), b.salt); err != nil {
		return fmt.Errorf("baza: persisting rebuilt search index: %w", err)
	}

	b.events.Publish(&events.Event{
		Type:    events.EventIndexRebuilt,
		Message: fmt.Sprintf("rebuilt search index (%d document(s))", idx.DocumentCount()),
	})

	return nil
}
