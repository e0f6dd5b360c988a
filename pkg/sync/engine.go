package sync

import (
	"context"
	"errors"
	"sort"

	"github.com/mbme/baza/pkg/baza"
	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
	"github.com/mbme/baza/pkg/revision"
)

// Engine drives a sync session for one *baza.Baza against a set of
// agents, running the protocol in order: ping exchange, ordering, pull
// changeset, apply with conflict detection, fetch missing blobs,
// finalise. One engine per store, reused across sessions.
type Engine struct {
	store *baza.Baza
}

// NewEngine returns an Engine driving store.
func NewEngine(store *baza.Baza) *Engine {
	return &Engine{store: store}
}

// Summary reports what one SyncWith call accomplished.
type Summary struct {
	PeersContacted   int
	DocumentsApplied int
	BlobsFetched     int
	Errors           []error
}

// SyncWith runs one sync session against every agent, in order of least
// to most advanced reported revision so the session settles its easiest
// conflicts first. A single peer's failure (network error, outdated
// version, a still-dirty local working set) is recorded in
// Summary.Errors as a bazaerr.PeerError and never aborts the rest of the
// batch.
func (e *Engine) SyncWith(ctx context.Context, agents []Agent) (Summary, error) {
	var summary Summary

	e.store.Events().Publish(&events.Event{
		Type:    events.EventSyncStarted,
		Message: "sync session started",
	})

	type pinged struct {
		agent Agent
		ping  Ping
	}

	var live []pinged
	for _, agent := range agents {
		ping, err := agent.Ping(ctx)
		if err != nil {
			summary.Errors = append(summary.Errors, bazaerr.NewPeerError(agent.PeerID(), err))
			continue
		}
		live = append(live, pinged{agent: agent, ping: ping})
	}

	sort.Slice(live, func(i, j int) bool {
		return revisionWeight(live[i].ping.Rev) < revisionWeight(live[j].ping.Rev)
	})

	for _, p := range live {
		summary.PeersContacted++

		applied, err := e.syncOnePeer(ctx, p.agent, p.ping)
		if err != nil {
			summary.Errors = append(summary.Errors, bazaerr.NewPeerError(p.agent.PeerID(), err))
			continue
		}
		summary.DocumentsApplied += applied

		fetched, err := e.fetchMissingBlobs(ctx, p.agent)
		if err != nil {
			summary.Errors = append(summary.Errors, bazaerr.NewPeerError(p.agent.PeerID(), err))
		}
		summary.BlobsFetched += fetched
	}

	e.store.Finalize()

	return summary, nil
}

func (e *Engine) syncOnePeer(ctx context.Context, agent Agent, ping Ping) (int, error) {
	if ping.DataVersion != e.store.DataVersion() {
		e.store.Events().Publish(&events.Event{
			Type:    events.EventInstanceOutdated,
			Message: "peer reports a different data_version",
			Metadata: map[string]string{
				"peer_id": agent.PeerID(),
			},
		})
		return 0, bazaerr.ErrOutdated
	}

	localRev := e.store.StoreRevision()
	if localRev.Dominates(ping.Rev) {
		// Peer has nothing we don't already have.
		return 0, nil
	}

	changeset, err := agent.PullChangeset(ctx, ChangesetRequest{BaseRev: localRev})
	if err != nil {
		return 0, err
	}

	if len(changeset.Documents) == 0 {
		return 0, nil
	}

	if err := e.store.ApplyChangeset(changeset.DataVersion, changeset.Documents); err != nil {
		if errors.Is(err, bazaerr.ErrDirtyWorkingSet) {
			logger := log.WithPeer(agent.PeerID())
			logger.Warn().Msg("skipping peer: local working set has staged edits")
		}
		return 0, err
	}

	return len(changeset.Documents), nil
}

// fetchMissingBlobs fetches every blob this instance is missing from
// agent, re-hashing each on arrival. A mismatch is logged and the blob
// is left missing for a later peer to supply; it never aborts the sync
// session.
func (e *Engine) fetchMissingBlobs(ctx context.Context, agent Agent) (int, error) {
	missing, err := e.store.MissingBlobs()
	if err != nil {
		return 0, err
	}

	fetched := 0
	for _, blobID := range missing {
		if err := e.fetchOneBlob(ctx, agent, blobID); err != nil {
			logger := log.WithPeer(agent.PeerID())
			logger.Warn().Err(err).Str("blob_id", string(blobID)).Msg("failed to fetch blob from peer")
			continue
		}
		fetched++
	}

	return fetched, nil
}

func (e *Engine) fetchOneBlob(ctx context.Context, agent Agent, blobID ids.BLOBId) error {
	r, err := agent.FetchBlob(ctx, blobID)
	if err != nil {
		return err
	}
	defer r.Close()

	return e.store.StoreFetchedBlob(blobID, r)
}

// revisionWeight gives Revision a total order for agent sorting: the sum
// of every writer's counter. Revisions are only a partial order, so two
// genuinely concurrent peers can tie or invert here; that's fine, since
// ordering only decides which conflicts get resolved first within this
// session, not correctness — ApplyChangeset's dirty-working-set and
// data_version checks are what guarantee correctness.
func revisionWeight(rev revision.Revision) uint64 {
	var total uint64
	for _, count := range rev {
		total += count
	}
	return total
}
