// Package search implements baza's derived, rebuildable full-text index:
// a BM25-like inverted index over each committed document's schema-picked
// title and searchable fields, with a proximity boost for documents where
// every query term lands close together in the same field.
package search

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/mbme/baza/pkg/ids"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// defaultFieldBoosts weighs title and id matches higher than arbitrary
// body fields.
func defaultFieldBoosts() map[string]float64 {
	return map[string]float64{
		"title": 2.5,
		"id":    2.0,
	}
}

// Index is an in-memory inverted index: term -> document -> field ->
// token positions, plus the per-document field lengths and per-term
// document frequencies BM25 scoring needs. Safe for concurrent queries;
// mutation is serialised by mu, mirroring the single-writer/multi-reader
// model the rest of the store follows.
type Index struct {
	mu          sync.RWMutex
	fieldBoosts map[string]float64
	postings    map[string]map[ids.Id]map[string][]int
	docFieldLen map[ids.Id]map[string]int
	docFreq     map[string]int
	docIds      map[ids.Id]struct{}
}

// NewIndex returns an empty index with the default field boosts.
func NewIndex() *Index {
	return &Index{
		fieldBoosts: defaultFieldBoosts(),
		postings:    map[string]map[ids.Id]map[string][]int{},
		docFieldLen: map[ids.Id]map[string]int{},
		docFreq:     map[string]int{},
		docIds:      map[ids.Id]struct{}{},
	}
}

// Reset drops every indexed document, keeping field boost configuration,
// used when rebuilding from scratch after a schema change or a failed
// consistency check.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.postings = map[string]map[ids.Id]map[string][]int{}
	idx.docFieldLen = map[ids.Id]map[string]int{}
	idx.docFreq = map[string]int{}
	idx.docIds = map[ids.Id]struct{}{}
}

func (idx *Index) fieldBoost(field string) float64 {
	if b, ok := idx.fieldBoosts[field]; ok {
		return b
	}
	return 1.0
}

// IndexDocument (re)indexes id under title (mapped to the "title" field)
// and fields. Any previous entry for id is removed first, so calling this
// again after an edit keeps the index consistent with the latest
// committed snapshot. Passing an empty title and no fields removes id
// from the index entirely (used when a document is erased).
func (idx *Index) IndexDocument(id ids.Id, title string, fields map[string]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeDocumentLocked(id)

	allFields := map[string]string{}
	if strings.TrimSpace(title) != "" {
		allFields["title"] = title
	}
	for name, text := range fields {
		if strings.TrimSpace(text) != "" {
			allFields[name] = text
		}
	}
	if len(allFields) == 0 {
		return
	}

	idx.docIds[id] = struct{}{}
	idx.docFieldLen[id] = map[string]int{}

	termsSeen := map[string]struct{}{}
	for field, text := range allFields {
		tokens := Tokenize(text)
		idx.docFieldLen[id][field] = len(tokens)

		for _, tok := range tokens {
			byDoc, ok := idx.postings[tok.Term]
			if !ok {
				byDoc = map[ids.Id]map[string][]int{}
				idx.postings[tok.Term] = byDoc
			}
			byField, ok := byDoc[id]
			if !ok {
				byField = map[string][]int{}
				byDoc[id] = byField
			}
			byField[field] = append(byField[field], tok.Position)

			termsSeen[tok.Term] = struct{}{}
		}
	}

	for term := range termsSeen {
		idx.docFreq[term]++
	}
}

// RemoveDocument drops id from the index entirely.
func (idx *Index) RemoveDocument(id ids.Id) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeDocumentLocked(id)
}

func (idx *Index) removeDocumentLocked(id ids.Id) {
	if _, ok := idx.docIds[id]; !ok {
		return
	}

	delete(idx.docIds, id)
	delete(idx.docFieldLen, id)

	for term, byDoc := range idx.postings {
		if _, ok := byDoc[id]; !ok {
			continue
		}

		delete(byDoc, id)
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
		if len(byDoc) == 0 {
			delete(idx.postings, term)
		}
	}
}

// DocumentCount returns how many documents are currently indexed, used to
// sanity-check a loaded index against the state file's committed count.
func (idx *Index) DocumentCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.docIds)
}

// Result is one scored hit from a Query.
type Result struct {
	DocumentId ids.Id
	Score      float64
}

// Query performs a multi-term AND search: only documents matching every
// term in queryText (in any field) are returned, ranked by BM25-like
// score with per-field boost and a proximity bonus. limit <= 0 means no
// limit.
func (idx *Index) Query(queryText string, limit int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tokens := Tokenize(queryText)
	if len(tokens) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.Term]; ok {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}

	var candidates map[ids.Id]struct{}
	for _, term := range terms {
		byDoc, ok := idx.postings[term]
		if !ok {
			return nil
		}

		if candidates == nil {
			candidates = make(map[ids.Id]struct{}, len(byDoc))
			for docID := range byDoc {
				candidates[docID] = struct{}{}
			}
			continue
		}

		for docID := range candidates {
			if _, ok := byDoc[docID]; !ok {
				delete(candidates, docID)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	totalDocs := float64(len(idx.docIds))

	results := make([]Result, 0, len(candidates))
	for docID := range candidates {
		results = append(results, Result{
			DocumentId: docID,
			Score:      idx.scoreDocument(docID, terms, totalDocs),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results
}

func (idx *Index) scoreDocument(docID ids.Id, terms []string, totalDocs float64) float64 {
	total := 0.0
	fieldMatches := make(map[string]map[string][]int, len(terms))

	for _, term := range terms {
		fields := idx.postings[term][docID]
		fieldMatches[term] = fields

		df := float64(idx.docFreq[term])
		idf := math.Log(1 + (totalDocs-df+0.5)/(df+0.5))

		tf := 0.0
		for field, positions := range fields {
			avgLen := idx.averageFieldLength(field)
			fieldLen := float64(idx.docFieldLen[docID][field])
			lengthNorm := 1 - bm25B + bm25B*(fieldLen/math.Max(avgLen, 1))

			termFreq := float64(len(positions))
			saturated := (termFreq * (bm25K1 + 1)) / (termFreq + bm25K1*lengthNorm)

			tf += saturated * idx.fieldBoost(field)
		}

		total += idf * tf
	}

	return total * idx.proximityBonus(fieldMatches, len(terms))
}

func (idx *Index) averageFieldLength(field string) float64 {
	total, count := 0, 0
	for _, fields := range idx.docFieldLen {
		if l, ok := fields[field]; ok {
			total += l
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return float64(total) / float64(count)
}

// proximityBonus applies the smallest-range-covering-k-lists algorithm to
// every field that matched all query terms, returning the largest bonus
// across those fields. Documents matching only one term, or matching
// terms in no single common field, get the neutral bonus of 1.0.
func (idx *Index) proximityBonus(fieldMatches map[string]map[string][]int, termCount int) float64 {
	if termCount < 2 {
		return 1.0
	}

	var anyTermFields map[string][]int
	for _, fields := range fieldMatches {
		anyTermFields = fields
		break
	}

	best := 1.0
	for field := range anyTermFields {
		lists := make([][]int, 0, termCount)
		complete := true

		for _, fields := range fieldMatches {
			positions, ok := fields[field]
			if !ok {
				complete = false
				break
			}
			lists = append(lists, positions)
		}
		if !complete {
			continue
		}

		lo, hi, _ := smallestRangeCoveringKLists(lists)
		bonus := clamp(100.0/(float64(hi-lo)+10.0), 1.1, 2.0)
		if bonus > best {
			best = bonus
		}
	}

	return best
}
