// Package sync implements baza's peer-to-peer replication: discovering
// other instances of the same store on the local network, exchanging
// ping summaries to decide who has what, pulling and applying changesets,
// and fetching the blobs those changesets reference. It is the one
// package in the module that talks to goroutines and the network; every
// other package stays synchronous.
package sync

import (
	"time"

	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/revision"
)

// Ping is the greeting exchanged at the start of a sync session: a
// summary of how much of the store the sending instance has, without
// enumerating any document. Rev is the component-wise maximum, across
// every document the sender knows of, of every writer's counter — see
// Baza.StoreRevision.
type Ping struct {
	InstanceId  ids.InstanceId    `json:"instance_id"`
	DataVersion int               `json:"data_version"`
	Rev         revision.Revision `json:"rev"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ChangesetRequest asks a peer for every snapshot not already implied by
// BaseRev, the requester's own store revision.
type ChangesetRequest struct {
	BaseRev revision.Revision `json:"base_rev"`
}

// Changeset is a peer's response to a ChangesetRequest: its own
// DataVersion (checked again at apply time, in case it changed between
// Ping and now) plus every document snapshot the requester is missing.
type Changeset struct {
	DataVersion int                 `json:"data_version"`
	Documents   []document.Document `json:"documents"`
}
