package document

import "github.com/mbme/baza/pkg/revision"

// DocumentHead is the per-id summary kept in the state file: the latest
// committed snapshot (if any), an optional staged edit, and every
// concurrent revision currently unresolved for this id.
//
// At most one staged edit exists per id; Committed is nil only for an id
// that has been staged but never committed yet.
type DocumentHead struct {
	Committed *Document `json:"committed,omitempty"`
	Staged    *Document `json:"staged,omitempty"`

	// ConflictRevs holds every revision in storage for this id that is
	// concurrent with another and therefore not subsumed by Committed.
	// len(ConflictRevs) > 1 marks the head as IsConflict.
	ConflictRevs []revision.Revision `json:"conflict_revs,omitempty"`
}

// IsErased reports whether the committed snapshot is a tombstone. A
// missing committed snapshot (staged-only head) is never erased.
func (h DocumentHead) IsErased() bool {
	return h.Committed != nil && h.Committed.IsErased()
}

// IsConflict reports whether storage holds two or more concurrent,
// differing revisions for this id that a human still needs to reconcile.
func (h DocumentHead) IsConflict() bool {
	return len(h.ConflictRevs) > 1
}

// IsStaged reports whether this head has an uncommitted edit pending.
func (h DocumentHead) IsStaged() bool {
	return h.Staged != nil
}
