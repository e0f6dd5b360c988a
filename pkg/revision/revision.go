// Package revision implements baza's vector-clock style revision algebra:
// every document snapshot is stamped with a Revision recording, for each
// writing instance, how many times that instance has written the document.
// Comparing two revisions tells a reader whether one is a strict ancestor
// of the other or whether they were written concurrently on separate
// devices and need reconciling.
package revision

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mbme/baza/pkg/ids"
)

// Revision maps each writing instance to the number of times it has
// committed a write to a document. A document that has never been
// committed (only staged) carries the zero-value Staging revision, an
// empty map.
type Revision map[ids.InstanceId]uint64

// Staging is the revision of a document that has been staged but not yet
// committed, or that has no prior committed revision at all.
func Staging() Revision {
	return Revision{}
}

// IsStaging reports whether r is the staging revision.
func (r Revision) IsStaging() bool {
	return len(r) == 0
}

// Clone returns an independent copy of r.
func (r Revision) Clone() Revision {
	out := make(Revision, len(r))
	for id, count := range r {
		out[id] = count
	}
	return out
}

// Bump returns a copy of r recording a new write by instance. globalMax is
// the highest counter instance has ever used for this document anywhere
// in its known history (storage may hold snapshots with a higher counter
// for instance than r itself carries, e.g. after a sync pulled ahead of
// a stale staged edit); the new counter is max(r[instance], globalMax)+1,
// guaranteeing each writer's counters grow strictly even across merges.
func (r Revision) Bump(instance ids.InstanceId, globalMax uint64) Revision {
	out := r.Clone()
	base := out[instance]
	if globalMax > base {
		base = globalMax
	}
	out[instance] = base + 1
	return out
}

// Merge returns the smallest revision that dominates every revision in
// revs: the component-wise maximum of their counters. Used when staging a
// resolution for two or more conflicting heads, so the resolving edit's
// prev_rev covers every conflicting revision at once.
func Merge(revs ...Revision) Revision {
	out := Revision{}
	for _, r := range revs {
		for id, count := range r {
			if count > out[id] {
				out[id] = count
			}
		}
	}
	return out
}

// dominates reports whether r >= other component-wise, i.e. every counter
// in other is matched or exceeded by the corresponding counter in r (a
// missing entry counts as zero).
func (r Revision) dominates(other Revision) bool {
	for id, count := range other {
		if r[id] < count {
			return false
		}
	}
	return true
}

// Dominates is the exported form of dominates, used by the sync engine to
// decide whether a peer's offered revision tells it anything it doesn't
// already know.
func (r Revision) Dominates(other Revision) bool {
	return r.dominates(other)
}

// Older reports whether r happened strictly before other: other dominates
// r and the two revisions are not equal.
func (r Revision) Older(other Revision) bool {
	return other.dominates(r) && !r.Equal(other)
}

// Newer reports whether r happened strictly after other.
func (r Revision) Newer(other Revision) bool {
	return other.Older(r)
}

// Concurrent reports whether neither revision dominates the other, meaning
// they were written independently without either device having seen the
// other's write.
func (r Revision) Concurrent(other Revision) bool {
	return !r.dominates(other) && !other.dominates(r)
}

// Equal reports whether r and other carry identical counters.
func (r Revision) Equal(other Revision) bool {
	if len(r) != len(other) {
		return false
	}
	for id, count := range r {
		if other[id] != count {
			return false
		}
	}
	return true
}

// IsConcurrentOrOlderThan reports whether other should win over r: either
// they conflict, or other is strictly newer. It is false only when r
// dominates other, i.e. r already reflects everything other knows.
func (r Revision) IsConcurrentOrOlderThan(other Revision) bool {
	return r.Concurrent(other) || r.Older(other)
}

// ToFileName renders r in the deterministic sorted "id:count-id:count"
// form used as part of on-disk storage keys and the staging file name
// for a document's index entry. Staging encodes as the empty string.
func (r Revision) ToFileName() string {
	if len(r) == 0 {
		return ""
	}

	keys := make([]string, 0, len(r))
	for id := range r {
		keys = append(keys, string(id))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, id := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", id, r[ids.InstanceId(id)]))
	}

	return strings.Join(parts, "-")
}

// FromFileName parses the format produced by ToFileName. An instance id
// may itself contain "-", so a component only ends at a segment carrying
// the ":" counter separator.
func FromFileName(s string) (Revision, error) {
	if s == "" {
		return Staging(), nil
	}

	rev := Revision{}

	var pending []string
	for _, part := range strings.Split(s, "-") {
		pending = append(pending, part)
		if !strings.Contains(part, ":") {
			continue
		}

		joined := strings.Join(pending, "-")
		pending = nil

		cut := strings.LastIndex(joined, ":")
		idRaw, countRaw := joined[:cut], joined[cut+1:]

		count, err := strconv.ParseUint(countRaw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("revision: bad counter in %q: %w", joined, err)
		}

		rev[ids.InstanceId(idRaw)] = count
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("revision: malformed component %q in %q", strings.Join(pending, "-"), s)
	}

	return rev, nil
}

// LatestRevComputer tracks the maximal, pairwise non-dominated revisions
// seen across a set of document snapshots, e.g. while scanning a storage
// index for a document's current heads. Feed it every known revision for
// a document id; Heads then holds every revision not dominated by another
// one seen so far — the concurrent "conflict heads" a reader must
// reconcile.
type LatestRevComputer struct {
	heads []Revision
}

// NewLatestRevComputer returns an empty computer.
func NewLatestRevComputer() *LatestRevComputer {
	return &LatestRevComputer{}
}

// Add folds rev into the computer's current set of heads.
func (c *LatestRevComputer) Add(rev Revision) {
	for _, head := range c.heads {
		if head.dominates(rev) {
			return
		}
	}

	kept := c.heads[:0]
	for _, head := range c.heads {
		if !rev.dominates(head) {
			kept = append(kept, head)
		}
	}
	c.heads = append(kept, rev)
}

// Heads returns every revision added so far that is not dominated by any
// other. A single head means the document has one linear history; more
// than one means concurrent writes are waiting to be reconciled.
func (c *LatestRevComputer) Heads() []Revision {
	out := make([]Revision, len(c.heads))
	copy(out, c.heads)
	return out
}
