package sync

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/baza"
	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/schema"
)

// noteValidator is the minimal title-required schema these tests stage
// documents with, redeclared here since pkg/baza's test file can't be
// imported (it would cycle back into this one). A "blob_id" field is
// extracted as a blob reference so the blob-transfer scenario can rely
// on the usual refs plumbing.
type noteValidator struct{}

func (noteValidator) Validate(documentType string, data document.Data, prior *document.Document) (*bazaerr.ValidationError, document.Refs) {
	verr := &bazaerr.ValidationError{}
	refs := document.NewRefs()

	if _, ok := data["title"]; !ok {
		verr.AddFieldError("title", "is required")
	}

	if raw, ok := data["blob_id"].(string); ok {
		blobID, err := ids.ParseBLOBId(raw)
		if err != nil {
			verr.AddFieldError("blob_id", "is not a valid blob id")
		} else {
			refs.AddBlob(blobID)
		}
	}

	if verr.HasErrors() {
		return verr, refs
	}
	return nil, refs
}

func (noteValidator) SelectSearchFields(doc document.Document) (string, map[string]string) {
	title, _ := doc.Data["title"].(string)
	return title, nil
}

func testOptions() baza.Options {
	registry := schema.NewRegistry()
	registry.Register("note", noteValidator{})
	return baza.Options{
		Password: []byte("correct horse battery"),
		Registry: registry,
	}
}

// openClone opens a brand-new empty store at root and syncs it once
// against seed, so it starts from seed's exact committed history the way
// a freshly paired second device would.
func openClone(t *testing.T, root string, seed *baza.Baza) *baza.Baza {
	t.Helper()

	clone, err := baza.Create(root, testOptions())
	require.NoError(t, err)

	syncOneWay(t, clone, seed)

	return clone
}

func syncOneWay(t *testing.T, dst, src *baza.Baza) Summary {
	t.Helper()

	summary, err := NewEngine(dst).SyncWith(context.Background(), []Agent{
		NewInMemoryAgent(string(src.InstanceId()), src),
	})
	require.NoError(t, err)
	return summary
}

func syncBothWays(t *testing.T, a, b *baza.Baza) {
	t.Helper()

	syncOneWay(t, a, b)
	syncOneWay(t, b, a)
}

// TestConflictAndResolution: two instances edit the same document
// concurrently, sync both ways and
// observe a two-member conflict, then resolve it from one side and sync
// again to converge on a single head.
func TestConflictAndResolution(t *testing.T) {
	a, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer a.Close()

	staged, err := a.Stage(baza.StageRequest{DocumentType: "note", Data: document.Data{"title": "original"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	id := staged.Id

	b := openClone(t, t.TempDir(), a)
	defer b.Close()

	_, err = a.Stage(baza.StageRequest{Id: id, DocumentType: "note", Data: document.Data{"title": "alpha"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	_, err = b.Stage(baza.StageRequest{Id: id, DocumentType: "note", Data: document.Data{"title": "beta"}})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	syncBothWays(t, a, b)

	headA, err := a.GetHead(id)
	require.NoError(t, err)
	assert.True(t, headA.IsConflict())
	assert.Len(t, headA.ConflictRevs, 2)

	headB, err := b.GetHead(id)
	require.NoError(t, err)
	assert.True(t, headB.IsConflict())
	assert.Len(t, headB.ConflictRevs, 2)

	_, err = a.Stage(baza.StageRequest{Id: id, DocumentType: "note", Data: document.Data{"title": "gamma"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	syncBothWays(t, a, b)

	headA, err = a.GetHead(id)
	require.NoError(t, err)
	assert.False(t, headA.IsConflict())
	assert.Equal(t, "gamma", headA.Committed.Data["title"])

	headB, err = b.GetHead(id)
	require.NoError(t, err)
	assert.False(t, headB.IsConflict())
	assert.Equal(t, "gamma", headB.Committed.Data["title"])
}

// TestBlobTransfer checks that a blob added and referenced on one
// instance arrives byte-for-byte on a peer after sync.
func TestBlobTransfer(t *testing.T) {
	a, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer a.Close()

	b := openClone(t, t.TempDir(), a)
	defer b.Close()

	content := []byte("a small jpeg's worth of bytes")
	blobID, err := a.AddBlob(bytes.NewReader(content))
	require.NoError(t, err)

	_, err = a.Stage(baza.StageRequest{
		DocumentType: "note",
		Data:         document.Data{"title": "asset", "blob_id": string(blobID)},
	})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	_, err = b.GetBlob(blobID)
	assert.ErrorIs(t, err, bazaerr.ErrNotFound)

	syncOneWay(t, b, a)

	r, err := b.GetBlob(blobID)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
}

// TestEraseSyncsAsTombstone confirms a tombstone committed on one
// instance truncates the document's history on the peer that pulls it:
// after sync the peer sees an erased head, not the old data.
func TestEraseSyncsAsTombstone(t *testing.T) {
	a, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer a.Close()

	staged, err := a.Stage(baza.StageRequest{DocumentType: "note", Data: document.Data{"title": "doomed"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	id := staged.Id

	b := openClone(t, t.TempDir(), a)
	defer b.Close()

	_, err = a.Erase(id, "")
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	syncOneWay(t, b, a)

	head, err := b.GetHead(id)
	require.NoError(t, err)
	assert.True(t, head.IsErased())
	assert.False(t, head.IsConflict())
}

// TestSyncIsIdempotent applies the same changeset twice by running the
// sync session twice in a row once both sides have already converged;
// the second run must be a no-op.
func TestSyncIsIdempotent(t *testing.T) {
	a, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Stage(baza.StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	b := openClone(t, t.TempDir(), a)
	defer b.Close()

	summary := syncOneWay(t, b, a)
	assert.Zero(t, summary.DocumentsApplied)
	assert.Empty(t, summary.Errors)
}

// TestSyncRefusesDirtyWorkingSet confirms ApplyChangeset's documented
// refusal to touch a side with staged, uncommitted edits; the peer error
// is recorded but does not fail the whole sync call.
func TestSyncRefusesDirtyWorkingSet(t *testing.T) {
	a, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Stage(baza.StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	b, err := baza.Create(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Stage(baza.StageRequest{DocumentType: "note", Data: document.Data{"title": "dirty"}})
	require.NoError(t, err)

	summary := syncOneWay(t, b, a)
	assert.Zero(t, summary.DocumentsApplied)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], bazaerr.ErrDirtyWorkingSet)
}
