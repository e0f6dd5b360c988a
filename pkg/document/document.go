// Package document defines the record types baza stores and versions:
// Document, its per-id head summary, references, and locks. These types
// are intentionally schema-agnostic — pkg/schema and its Validator
// implementations give document_type-specific meaning to Data.
package document

import (
	"time"

	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

// ErasedType is the document_type of a tombstone: the erase operation
// clears both the type and the data but keeps the id alive forever.
const ErasedType = ""

// DocumentType tags a document with the schema descriptor that should
// validate its Data.
type DocumentType string

// IsErased reports whether t marks a tombstone snapshot.
func (t DocumentType) IsErased() bool {
	return t == ErasedType
}

func (t DocumentType) String() string {
	if t.IsErased() {
		return "erased"
	}
	return string(t)
}

// Data is a document's free-form, schema-validated payload. Go maps have
// no intrinsic order; encoding/json serialises map keys sorted, which is
// the deterministic order baza relies on for stable snapshot bytes.
type Data map[string]any

// Document is one versioned snapshot: either the currently staged edit
// for an id, or a committed entry in the storage log.
type Document struct {
	Id           ids.Id            `json:"id"`
	Rev          revision.Revision `json:"rev"`
	PrevRev      revision.Revision `json:"prev_rev"`
	DocumentType DocumentType      `json:"document_type"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Data         Data              `json:"data"`
}

// NewDocument starts a brand-new, never-before-staged document of the
// given type with empty data. Rev and PrevRev are both Staging until the
// document is committed for the first time.
func NewDocument(documentType DocumentType) Document {
	now := time.Now().UTC()

	return Document{
		Id:           ids.NewId(),
		Rev:          revision.Staging(),
		PrevRev:      revision.Staging(),
		DocumentType: documentType,
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         Data{},
	}
}

// IsErased reports whether d is a tombstone.
func (d Document) IsErased() bool {
	return d.DocumentType.IsErased()
}

// IsStaged reports whether d is an uncommitted edit.
func (d Document) IsStaged() bool {
	return d.Rev.IsStaging()
}

// IsInitial reports whether d is a document's very first committed edit,
// i.e. it was staged with no prior committed revision to build on.
func (d Document) IsInitial() bool {
	return d.PrevRev.IsStaging()
}

// Erase turns d into a tombstone in place: type and data are cleared and
// both revisions reset to staging, ready to be committed as the final
// snapshot for this id.
func (d *Document) Erase() {
	d.DocumentType = ErasedType
	d.Rev = revision.Staging()
	d.PrevRev = revision.Staging()
	d.Data = Data{}
	d.UpdatedAt = time.Now().UTC()
}

// Key returns the DocumentKey identifying this exact snapshot.
func (d Document) Key() DocumentKey {
	return DocumentKey{Id: d.Id, Rev: d.Rev}
}
