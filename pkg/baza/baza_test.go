package baza

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/schema"
)

// noteValidator is a minimal schema.Validator used only by these tests:
// a title is required, everything else is free-form. Mirrors the one
// cmd/baza ships with, kept separate so pkg/baza's tests don't import
// package main.
type noteValidator struct{}

func (noteValidator) Validate(documentType string, data document.Data, prior *document.Document) (*bazaerr.ValidationError, document.Refs) {
	verr := &bazaerr.ValidationError{}
	if _, ok := data["title"]; !ok {
		verr.AddFieldError("title", "is required")
	}
	if verr.HasErrors() {
		return verr, document.NewRefs()
	}
	return nil, document.NewRefs()
}

func (noteValidator) SelectSearchFields(doc document.Document) (string, map[string]string) {
	title, _ := doc.Data["title"].(string)
	return title, nil
}

func testRegistry() *schema.Registry {
	r := schema.NewRegistry()
	r.Register("note", noteValidator{})
	return r
}

func testOptions() Options {
	return Options{
		Password: []byte("correct horse battery"),
		Registry: testRegistry(),
	}
}

// TestStageCommitRead stages a note, commits it, and reads it back by
// id with the expected revision and data intact.
func TestStageCommitRead(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	staged, err := b.Stage(StageRequest{
		DocumentType: "note",
		Data:         document.Data{"title": "x"},
	})
	require.NoError(t, err)
	assert.True(t, staged.IsStaged())

	require.NoError(t, b.Commit())

	got, err := b.Get(staged.Id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Rev[b.InstanceId()])
	assert.Equal(t, "x", got.Data["title"])
	assert.False(t, got.IsStaged())
}

// TestErase checks that erasing a committed document leaves a
// tombstone and collapses storage down to exactly that tombstone
// snapshot.
func TestErase(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	staged, err := b.Stage(StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	_, err = b.Erase(staged.Id, "")
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	got, err := b.Get(staged.Id)
	require.NoError(t, err)
	assert.True(t, got.IsErased())

	head, err := b.GetHead(staged.Id)
	require.NoError(t, err)
	assert.True(t, head.IsErased())
	assert.False(t, head.IsConflict())
}

// TestLockBlocksCommit checks that a lock held on a staged document's
// id refuses Commit until the matching key unlocks it.
func TestLockBlocksCommit(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	staged, err := b.Stage(StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)

	key, err := b.Lock(staged.Id, "hold")
	require.NoError(t, err)

	err = b.Commit()
	assert.ErrorIs(t, err, bazaerr.ErrLocked)

	require.NoError(t, b.Unlock(staged.Id, key))
	require.NoError(t, b.Commit())

	got, err := b.Get(staged.Id)
	require.NoError(t, err)
	assert.False(t, got.IsStaged())
}

// TestStageOnErasedDocumentRejected checks the tombstone invariant: an
// erased document keeps its id forever but accepts no further edits.
func TestStageOnErasedDocumentRejected(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	staged, err := b.Stage(StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	_, err = b.Erase(staged.Id, "")
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	_, err = b.Stage(StageRequest{Id: staged.Id, DocumentType: "note", Data: document.Data{"title": "resurrected"}})
	var verr *bazaerr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

// TestStageRejectsMissingTitle exercises the ValidationFailed path: an
// invalid stage never mutates state.
func TestStageRejectsMissingTitle(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Stage(StageRequest{DocumentType: "note", Data: document.Data{}})
	var verr *bazaerr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasErrors())

	assert.Empty(t, b.ListIds())
}

// TestStagingNeverMutatesStorage asserts that staged edits stay out of
// the storage log: PullChangeset, which reads straight from storage,
// sees nothing until a commit.
func TestStagingNeverMutatesStorage(t *testing.T) {
	root := t.TempDir()

	b, err := Create(root, testOptions())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Stage(StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)

	docs, err := b.PullChangeset(nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// Conflict detection, conflict resolution, and blob transfer require
// two open stores exchanging changesets, which needs package sync; those
// tests live in pkg/sync/sync_test.go instead, since pkg/sync already
// imports pkg/baza and importing pkg/sync back here would cycle.

// TestCloseThenOpenRoundTrips checks that closing a store and reopening
// it with the same password yields an indistinguishable state.
func TestCloseThenOpenRoundTrips(t *testing.T) {
	root := t.TempDir()
	opts := testOptions()

	b, err := Create(root, opts)
	require.NoError(t, err)

	staged, err := b.Stage(StageRequest{DocumentType: "note", Data: document.Data{"title": "x"}})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	require.NoError(t, b.Close())

	reopened, err := Open(root, opts)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(staged.Id)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Data["title"])
	assert.Equal(t, b.InstanceId(), reopened.InstanceId())
}
