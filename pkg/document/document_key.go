package document

import (
	"fmt"
	"strings"

	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

// DocumentKey identifies one exact snapshot of a document: an id paired
// with the revision it was committed (or staged) at. It is the key every
// storage and state index entry is filed under.
type DocumentKey struct {
	Id  ids.Id
	Rev revision.Revision
}

// NewDocumentKey builds a DocumentKey from its parts.
func NewDocumentKey(id ids.Id, rev revision.Revision) DocumentKey {
	return DocumentKey{Id: id, Rev: rev}
}

// ForDocument returns the key of d's current snapshot.
func ForDocument(d Document) DocumentKey {
	return DocumentKey{Id: d.Id, Rev: d.Rev}
}

// String renders the key in the container-index form "<id> <rev-file-form>",
// the same serialisation used as a storage index entry name.
func (k DocumentKey) String() string {
	return fmt.Sprintf("%s %s", k.Id, k.Rev.ToFileName())
}

// ParseDocumentKey parses the format produced by String.
func ParseDocumentKey(value string) (DocumentKey, error) {
	idRaw, revRaw, ok := strings.Cut(value, " ")
	if !ok {
		return DocumentKey{}, fmt.Errorf("document: malformed document key %q", value)
	}

	rev, err := revision.FromFileName(revRaw)
	if err != nil {
		return DocumentKey{}, fmt.Errorf("document: bad revision in key %q: %w", value, err)
	}

	return DocumentKey{Id: ids.Id(idRaw), Rev: rev}, nil
}

// MarshalText implements encoding.TextMarshaler so DocumentKey can be used
// directly as a JSON object key.
func (k DocumentKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DocumentKey) UnmarshalText(text []byte) error {
	parsed, err := ParseDocumentKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
