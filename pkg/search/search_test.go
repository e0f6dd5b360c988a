package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/ids"
)

func TestTokenizeCaseFoldsAndNormalises(t *testing.T) {
	tokens := Tokenize("Café Life 2024!")
	require.Len(t, tokens, 3)
	assert.Equal(t, "cafe", tokens[0].Term)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, "life", tokens[1].Term)
	assert.Equal(t, "2024", tokens[2].Term)
}

func TestQueryMatchesAndOmitsNonMatchingDocs(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-a", "Great Expectations", map[string]string{"body": "a story about growing up"})
	idx.IndexDocument("doc-b", "Unrelated Title", map[string]string{"body": "nothing about the query"})

	results := idx.Query("expectations", 10)
	require.Len(t, results, 1)
	assert.Equal(t, ids.Id("doc-a"), results[0].DocumentId)
}

func TestQueryIsMultiTermAND(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-a", "red blue", nil)
	idx.IndexDocument("doc-b", "red only", nil)

	results := idx.Query("red blue", 10)
	require.Len(t, results, 1)
	assert.Equal(t, ids.Id("doc-a"), results[0].DocumentId)
}

func TestQueryBoostsTitleOverBody(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("title-match", "dragon", nil)
	idx.IndexDocument("body-match", "unrelated", map[string]string{"body": "dragon appears once here"})

	results := idx.Query("dragon", 10)
	require.Len(t, results, 2)
	assert.Equal(t, ids.Id("title-match"), results[0].DocumentId)
}

func TestProximityBoostsAdjacentTerms(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("adjacent", "", map[string]string{"body": "the quick brown fox jumps"})
	idx.IndexDocument("scattered", "", map[string]string{
		"body": "quick and slow words scattered far apart until finally a brown object and much later the word fox shows up",
	})

	results := idx.Query("quick brown fox", 10)
	require.Len(t, results, 2)
	assert.Equal(t, ids.Id("adjacent"), results[0].DocumentId)
}

func TestRemoveDocumentDropsItFromResults(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-a", "removable", nil)
	require.Len(t, idx.Query("removable", 10), 1)

	idx.RemoveDocument("doc-a")
	assert.Empty(t, idx.Query("removable", 10))
	assert.Equal(t, 0, idx.DocumentCount())
}

func TestReindexingReplacesPriorEntry(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-a", "original title", nil)
	idx.IndexDocument("doc-a", "updated title", nil)

	assert.Empty(t, idx.Query("original", 10))
	require.Len(t, idx.Query("updated", 10), 1)
}

func TestQueryWithNoMatchingTermReturnsEmpty(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-a", "something", nil)

	assert.Empty(t, idx.Query("nonexistent", 10))
}
