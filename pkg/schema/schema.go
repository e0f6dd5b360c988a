// Package schema defines the pluggable validation boundary between the
// storage core and concrete document type catalogues. The core never
// hardcodes what a "book" or "task" document looks like; callers
// register a Validator per document type with a Registry and the
// staging/commit pipeline defers to it.
package schema

import (
	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
)

// Validator validates and extracts cross-references for one document
// type, and tells the search indexer which fields of a committed
// document to index.
type Validator interface {
	// Validate checks data for the given document type against prior,
	// the document's previously committed snapshot (nil for a brand new
	// document). It returns every validation problem found (not just the
	// first) plus the Refs extracted from data — document and blob ids
	// the new snapshot points to.
	Validate(documentType string, data document.Data, prior *document.Document) (*bazaerr.ValidationError, document.Refs)

	// SelectSearchFields picks the title string and the set of
	// (field name -> text) pairs the search indexer should tokenise for
	// doc.
	SelectSearchFields(doc document.Document) (title string, fields map[string]string)
}

// Registry is the default Validator lookup: one Validator per document
// type string, with no built-in catalogue of its own.
type Registry struct {
	validators map[string]Validator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: map[string]Validator{}}
}

// Register associates documentType with validator, replacing any
// previous registration for the same type.
func (r *Registry) Register(documentType string, validator Validator) {
	r.validators[documentType] = validator
}

// Validate dispatches to the Validator registered for documentType. An
// unregistered type is itself a document-level validation error, not a
// panic: callers (including sync, applying a peer's changeset) should be
// able to surface "unknown type" the same way as any other rejection.
func (r *Registry) Validate(documentType string, data document.Data, prior *document.Document) (*bazaerr.ValidationError, document.Refs) {
	v, ok := r.validators[documentType]
	if !ok {
		verr := &bazaerr.ValidationError{}
		verr.AddDocumentError("unknown document type %q", documentType)
		return verr, document.NewRefs()
	}

	return v.Validate(documentType, data, prior)
}

// SelectSearchFields dispatches to the Validator registered for doc's
// type. An unregistered type yields no search fields at all, rather than
// failing: indexing is best-effort.
func (r *Registry) SelectSearchFields(doc document.Document) (string, map[string]string) {
	v, ok := r.validators[string(doc.DocumentType)]
	if !ok {
		return "", nil
	}

	return v.SelectSearchFields(doc)
}
