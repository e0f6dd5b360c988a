package baza

import (
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
)

// Erase stages a tombstone for id: its type and data are cleared while
// the id itself, and its full revision history, are kept. The tombstone
// only removes prior storage entries once Commit actually runs, which is
// when EraseHistory, not Append, writes to the storage log.
func (b *Baza) Erase(id ids.Id, lockKey string) (document.Document, error) {
	return b.Stage(StageRequest{
		Id:           id,
		DocumentType: document.ErasedType,
		Data:         document.Data{},
		LockKey:      lockKey,
	})
}
