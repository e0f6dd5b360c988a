package document

import "github.com/mbme/baza/pkg/ids"

// Refs is the set of other documents and blobs a single document
// snapshot points to, as extracted by the schema. Stored per
// DocumentKey so the reference graph is an arena of plain data, not a
// pointer graph — cyclic references between documents are inert.
type Refs struct {
	Documents map[ids.Id]struct{}     `json:"documents"`
	Blobs     map[ids.BLOBId]struct{} `json:"blobs"`
}

// NewRefs returns an empty Refs value.
func NewRefs() Refs {
	return Refs{
		Documents: map[ids.Id]struct{}{},
		Blobs:     map[ids.BLOBId]struct{}{},
	}
}

// AddDocument records a reference to another document.
func (r *Refs) AddDocument(id ids.Id) {
	r.Documents[id] = struct{}{}
}

// AddBlob records a reference to a blob.
func (r *Refs) AddBlob(id ids.BLOBId) {
	r.Blobs[id] = struct{}{}
}
