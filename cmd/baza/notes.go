package main

import (
	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/schema"
)

// noteDocumentType is the one concrete document type this CLI ships: a
// plain title+body note with no cross-references. Real callers register
// their own Validators; this exists so `baza` is runnable end to end
// without a separate schema package.
const noteDocumentType = "note"

type noteValidator struct{}

func (noteValidator) Validate(documentType string, data document.Data, prior *document.Document) (*bazaerr.ValidationError, document.Refs) {
	verr := &bazaerr.ValidationError{}
	refs := document.NewRefs()

	title, ok := data["title"]
	if !ok {
		verr.AddFieldError("title", "is required")
	} else if _, ok := title.(string); !ok {
		verr.AddFieldError("title", "must be a string")
	}

	if body, ok := data["body"]; ok {
		if _, ok := body.(string); !ok {
			verr.AddFieldError("body", "must be a string")
		}
	}

	if !verr.HasErrors() {
		return nil, refs
	}
	return verr, refs
}

func (noteValidator) SelectSearchFields(doc document.Document) (string, map[string]string) {
	title, _ := doc.Data["title"].(string)
	fields := map[string]string{}
	if body, ok := doc.Data["body"].(string); ok {
		fields["body"] = body
	}
	return title, fields
}

// newRegistry builds the schema.Registry this CLI opens every store
// with. DataVersion in Options must stay in step with whatever set of
// document types a Registry understands; this CLI has exactly one.
func newRegistry() *schema.Registry {
	registry := schema.NewRegistry()
	registry.Register(noteDocumentType, noteValidator{})
	return registry
}
