/*
Package events provides an in-memory event broker for baza's own
components to observe each other without coupling: the staging/commit
pipeline, the sync engine, and the search indexer all publish through
one Broker, and a CLI or a future UI server can subscribe without
either side knowing the other exists.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - in-memory, single process                │          │
	│  │  - all events broadcast (no topics)         │          │
	│  │  - non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │  Publisher → buffered event channel         │          │
	│  │       ↓                                      │          │
	│  │  Broadcast loop → subscriber channels        │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Event types

Document lifecycle: EventDocumentStaged, EventDocumentCommitted,
EventDocumentErased, EventDocumentLocked, EventDocumentUnlocked.

Blob lifecycle: EventBlobStaged, EventBlobCommitted.

Sync lifecycle: EventSyncStarted, EventSyncFinished,
EventConflictDetected, EventInstanceOutdated, EventPeerDiscovered,
EventPeerLost.

Search: EventIndexRebuilt, published whenever loadOrRebuildSearchIndex
decides the persisted index can no longer be trusted.

# Delivery semantics

Publish never blocks the caller: a subscriber with a full buffer simply
misses the event rather than stalling the staging/commit pipeline or
the sync engine. This is deliberate — the broker exists for
observability (a CLI's --watch flag, a future UI's live document list),
not for anything the storage engine depends on to be correct. Nothing
in pkg/baza or pkg/sync reads back its own published events to decide
what to do next.

# See also

  - pkg/log for the complementary structured-logging channel
*/
package events
