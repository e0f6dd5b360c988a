// Package events is the best-effort notification bus a single open store
// publishes lifecycle events onto: document staged/committed/erased,
// blob staged/committed, locks, sync progress, and peer discovery. It
// has exactly one producer — the *baza.Baza that owns it — and a
// handful of local subscribers (a CLI watch command, a future UI), not
// the many-node fan-in/fan-out a cluster control plane bus needs, so
// its buffers are sized for that: small and meant to never fill.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventDocumentStaged    EventType = "document.staged"
	EventDocumentCommitted EventType = "document.committed"
	EventDocumentErased    EventType = "document.erased"
	EventDocumentLocked    EventType = "document.locked"
	EventDocumentUnlocked  EventType = "document.unlocked"
	EventBlobStaged        EventType = "blob.staged"
	EventBlobCommitted     EventType = "blob.committed"
	EventConflictDetected  EventType = "sync.conflict"
	EventSyncStarted       EventType = "sync.started"
	EventSyncFinished      EventType = "sync.finished"
	EventInstanceOutdated  EventType = "sync.instance_outdated"
	EventPeerDiscovered    EventType = "peer.discovered"
	EventPeerLost          EventType = "peer.lost"
	EventIndexRebuilt      EventType = "search.index_rebuilt"
)

// Event is one notification: what happened, when, and any metadata a
// subscriber needs to react without calling back into the store.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel a caller reads published events from.
type Subscriber chan *Event

// Broker fans out events published by the owning store to every current
// subscriber. A slow or absent subscriber never blocks the publisher:
// a full subscriber buffer drops the event rather than stalling
// broadcast.
type Broker struct {
	subscribers map[Subscriber]filter
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// filter restricts a subscription to a subset of event types; a nil (or
// empty) filter means "everything."
type filter map[EventType]struct{}

func (f filter) matches(t EventType) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}

// eventChBufferSize and subscriberBufferSize are sized for a single
// open store's own traffic (stage/commit/lock calls plus one sync
// session at a time), not a multi-node event stream.
const (
	eventChBufferSize    = 32
	subscriberBufferSize = 16
)

// NewBroker creates a broker in the stopped state; call Start to begin
// distributing published events.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]filter),
		eventCh:     make(chan *Event, eventChBufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. Published events after Stop are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a channel receiving every published event.
func (b *Broker) Subscribe() Subscriber {
	return b.SubscribeTo()
}

// SubscribeTo returns a channel receiving only events of the given
// types; with no types given it behaves like Subscribe.
func (b *Broker) SubscribeTo(types ...EventType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := make(filter, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}

	sub := make(Subscriber, subscriberBufferSize)
	b.subscribers[sub] = f
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish delivers event to every matching subscriber. It stamps
// Timestamp if the caller left it zero.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, f := range b.subscribers {
		if !f.matches(event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
