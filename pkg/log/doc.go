/*
Package log provides structured logging for baza using zerolog.

The log package wraps zerolog to give every baza component (the
staging/commit pipeline, the sync engine, the CLI) a JSON- or
console-formatted logger with timestamps, configurable severity, and
child loggers scoped to a component, an instance id, a peer, or a
document id.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance                         │          │
	│  │  - initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - JSONOutput: JSON or console (human)      │          │
	│  │  - Output: stdout, or a custom io.Writer    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Scoped child loggers                │          │
	│  │  - WithComponent("sync")                    │          │
	│  │  - WithInstance(instanceID)                 │          │
	│  │  - WithPeer(peerID)                         │          │
	│  │  - WithDocument(documentID)                 │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Use

Init must run once, early in main, before any component logs. Every
call site logs through Logger directly or through a child built with
one of the With* helpers, which carries its scoping field on every
subsequent entry without the caller having to repeat it — the sync
engine, for instance, uses WithPeer(peerID) once per session rather
than stamping peer_id onto every log line by hand.

# See also

  - pkg/events for the event bus components also publish state changes
    through, a complementary but separate channel from logging
*/
package log
