package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

func TestNewDocumentStartsStaging(t *testing.T) {
	doc := NewDocument("note")

	assert.True(t, doc.IsStaged())
	assert.True(t, doc.IsInitial())
	assert.False(t, doc.IsErased())
	assert.Equal(t, DocumentType("note"), doc.DocumentType)
}

func TestDocumentErase(t *testing.T) {
	doc := NewDocument("note")
	doc.Data["title"] = "x"

	doc.Erase()

	assert.True(t, doc.IsErased())
	assert.True(t, doc.IsStaged())
	assert.Empty(t, doc.Data)
}

func TestDocumentTypeIsErased(t *testing.T) {
	assert.True(t, ErasedType.IsErased())
	assert.False(t, DocumentType("note").IsErased())
	assert.Equal(t, "erased", ErasedType.String())
	assert.Equal(t, "note", DocumentType("note").String())
}

func TestDocumentHead(t *testing.T) {
	committed := NewDocument("note")

	head := DocumentHead{Committed: &committed}
	assert.False(t, head.IsStaged())
	assert.False(t, head.IsConflict())
	assert.False(t, head.IsErased())

	erased := committed
	erased.Erase()
	head.Committed = &erased
	assert.True(t, head.IsErased())

	head.ConflictRevs = []revision.Revision{{"a": 1}, {"b": 1}}
	assert.True(t, head.IsConflict())
}

func TestRefs(t *testing.T) {
	refs := NewRefs()
	id := ids.NewId()
	blobID := ids.BLOBId("sha256-abc")

	refs.AddDocument(id)
	refs.AddBlob(blobID)

	_, hasDoc := refs.Documents[id]
	_, hasBlob := refs.Blobs[blobID]
	assert.True(t, hasDoc)
	assert.True(t, hasBlob)
}

func TestDocumentLock(t *testing.T) {
	lock := NewDocumentLock("editing")

	assert.True(t, lock.IsValidKey(lock.Key))
	assert.False(t, lock.IsValidKey("wrong-key"))
	assert.Contains(t, lock.String(), "editing")
}

func TestDocumentKeyRoundTrip(t *testing.T) {
	key := DocumentKey{Id: ids.NewId(), Rev: revision.Revision{"a": 2, "b": 1}}

	encoded := key.String()
	parsed, err := ParseDocumentKey(encoded)
	require.NoError(t, err)

	assert.Equal(t, key.Id, parsed.Id)
	assert.True(t, key.Rev.Equal(parsed.Rev))
}

func TestDocumentKeyMarshalText(t *testing.T) {
	key := DocumentKey{Id: ids.NewId(), Rev: revision.Staging()}

	text, err := key.MarshalText()
	require.NoError(t, err)

	var parsed DocumentKey
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, key.Id, parsed.Id)
}

func TestParseDocumentKeyMalformed(t *testing.T) {
	_, err := ParseDocumentKey("no-separator-here")
	assert.Error(t, err)
}
