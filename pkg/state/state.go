// Package state implements baza's state file: the single authoritative,
// in-memory-while-open index of "what exists now" — document heads,
// references, and locks. It is rewritten to disk only when modified,
// always atomically via pkg/container.PatchAndSave.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbme/baza/pkg/container"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
)

// entryName is the state container's single logical entry.
const entryName = "state"

// FileName is the on-disk name of the state container, relative to the
// store's state directory.
const FileName = "state.c1"

// Info carries the store's identity and schema/format metadata, stored
// in the state header so open() can validate compatibility before
// touching anything else.
type Info struct {
	SchemaName   string    `json:"schema_name"`
	DataVersion  int       `json:"data_version"`
	CreationTime time.Time `json:"creation_time"`
	Salt         string    `json:"salt"`
}

// file is the on-disk JSON shape of the state container's single entry.
// Refs is keyed by document.DocumentKey.String() rather than the struct
// itself: DocumentKey embeds a revision.Revision, which is a map, and a
// type containing a map has no defined equality, so it cannot be a Go
// map key.
type file struct {
	InstanceId ids.InstanceId `json:"instance_id"`
	Info       Info           `json:"info"`

	Documents map[ids.Id]document.DocumentHead `json:"documents"`
	Refs      map[string]document.Refs         `json:"refs"`
	Locks     map[ids.Id]document.DocumentLock `json:"locks"`
}

// State is the in-memory state of an open store. Mutations go through
// its methods, which set Modified so the owning *baza.Baza knows whether
// a flush to disk is needed at commit/close time.
type State struct {
	InstanceId ids.InstanceId
	Info       Info
	Documents  map[ids.Id]document.DocumentHead
	// Refs is keyed by document.DocumentKey.String(); see file.Refs.
	Refs  map[string]document.Refs
	Locks map[ids.Id]document.DocumentLock

	Modified bool
}

// New creates a brand-new, empty state for a freshly initialised store.
func New(instanceID ids.InstanceId, info Info) *State {
	return &State{
		InstanceId: instanceID,
		Info:       info,
		Documents:  map[ids.Id]document.DocumentHead{},
		Refs:       map[string]document.Refs{},
		Locks:      map[ids.Id]document.DocumentLock{},
		Modified:   true,
	}
}

// Load decrypts and parses the state container at path.
func Load(path string, key crypto.SecretBytes) (*State, error) {
	reader, err := container.Open(path, key)
	if err != nil {
		return nil, fmt.Errorf("state: opening %s: %w", path, err)
	}

	raw, err := reader.GetBytes(entryName)
	if err != nil {
		return nil, fmt.Errorf("state: reading entry: %w", err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("state: parsing state file: %w", err)
	}

	return &State{
		InstanceId: f.InstanceId,
		Info:       f.Info,
		Documents:  f.Documents,
		Refs:       f.Refs,
		Locks:      f.Locks,
	}, nil
}

// Save persists s to path if, and only if, it has been modified since
// the last successful save. Callers pass the same key used to load (or
// create) the store's state subkey.
func (s *State) Save(path string, key crypto.SecretBytes) error {
	if !s.Modified {
		return nil
	}

	f := file{
		InstanceId: s.InstanceId,
		Info:       s.Info,
		Documents:  s.Documents,
		Refs:       s.Refs,
		Locks:      s.Locks,
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("state: serialising state file: %w", err)
	}

	patch := container.NewPatch()
	patch.Set[entryName] = raw

	if err := container.PatchAndSave(path, key, s.Info.Salt, nil, patch); err != nil {
		return fmt.Errorf("state: writing %s: %w", path, err)
	}

	s.Modified = false
	return nil
}
