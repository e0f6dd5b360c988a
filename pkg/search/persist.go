package search

import (
	"encoding/json"
	"fmt"

	"github.com/mbme/baza/pkg/container"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/ids"
)

// entryName is the search container's single logical entry.
const entryName = "search"

// FileName is the on-disk name of the search index container, relative
// to the store's root.
const FileName = "search.c1"

// snapshot is the on-disk JSON shape of an Index.
type snapshot struct {
	FieldBoosts map[string]float64                        `json:"field_boosts"`
	Postings    map[string]map[ids.Id]map[string][]int    `json:"postings"`
	DocFieldLen map[ids.Id]map[string]int                 `json:"doc_field_len"`
	DocFreq     map[string]int                             `json:"doc_freq"`
	DocIds      []ids.Id                                   `json:"doc_ids"`
}

// Save persists idx to path, always as a full rewrite via
// container.PatchAndSave: the index is small and cheap to rebuild, so
// unlike state and storage it never needs incremental patches.
func (idx *Index) Save(path string, key crypto.SecretBytes, salt string) error {
	idx.mu.RLock()
	snap := snapshot{
		FieldBoosts: idx.fieldBoosts,
		Postings:    idx.postings,
		DocFieldLen: idx.docFieldLen,
		DocFreq:     idx.docFreq,
		DocIds:      make([]ids.Id, 0, len(idx.docIds)),
	}
	for id := range idx.docIds {
		snap.DocIds = append(snap.DocIds, id)
	}
	idx.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("search: serialising index: %w", err)
	}

	patch := container.NewPatch()
	patch.Set[entryName] = raw

	if err := container.PatchAndSave(path, key, salt, nil, patch); err != nil {
		return fmt.Errorf("search: writing %s: %w", path, err)
	}

	return nil
}

// Load decrypts and parses the search index container at path.
func Load(path string, key crypto.SecretBytes) (*Index, error) {
	reader, err := container.Open(path, key)
	if err != nil {
		return nil, fmt.Errorf("search: opening %s: %w", path, err)
	}

	raw, err := reader.GetBytes(entryName)
	if err != nil {
		return nil, fmt.Errorf("search: reading entry: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("search: parsing index: %w", err)
	}

	idx := &Index{
		fieldBoosts: snap.FieldBoosts,
		postings:    snap.Postings,
		docFieldLen: snap.DocFieldLen,
		docFreq:     snap.DocFreq,
		docIds:      map[ids.Id]struct{}{},
	}
	if idx.fieldBoosts == nil {
		idx.fieldBoosts = defaultFieldBoosts()
	}
	if idx.postings == nil {
		idx.postings = map[string]map[ids.Id]map[string][]int{}
	}
	if idx.docFieldLen == nil {
		idx.docFieldLen = map[ids.Id]map[string]int{}
	}
	if idx.docFreq == nil {
		idx.docFreq = map[string]int{}
	}
	for _, id := range snap.DocIds {
		idx.docIds[id] = struct{}{}
	}

	return idx, nil
}
