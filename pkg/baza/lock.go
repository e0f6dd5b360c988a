package baza

import (
	"fmt"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
)

// Lock grants exclusive staging/commit access to id until Unlock is
// called with the returned key, blocking sync from applying conflicting
// changesets for id in the meantime. reason is stored for diagnostics.
func (b *Baza) Lock(id ids.Id, reason string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return "", err
	}

	if _, ok := b.state.Documents[id]; !ok {
		return "", fmt.Errorf("baza: %w: document %s", bazaerr.ErrNotFound, id)
	}

	if existing, locked := b.state.Locks[id]; locked {
		return "", fmt.Errorf("baza: %w: document %s already locked: %s", bazaerr.ErrLocked, id, existing.Reason)
	}

	lock := document.NewDocumentLock(reason)
	b.state.Locks[id] = lock
	b.state.Modified = true

	b.events.Publish(&events.Event{
		Type:    events.EventDocumentLocked,
		Message: fmt.Sprintf("locked document %s: %s", id, reason),
		Metadata: map[string]string{
			"document_id": string(id),
			"reason":      reason,
		},
	})

	return lock.Key, nil
}

// Unlock releases id's lock. key must match the key Lock returned.
func (b *Baza) Unlock(id ids.Id, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	lock, ok := b.state.Locks[id]
	if !ok {
		return nil
	}

	if !lock.IsValidKey(key) {
		return fmt.Errorf("baza: %w: wrong key for document %s", bazaerr.ErrLocked, id)
	}

	delete(b.state.Locks, id)
	b.state.Modified = true

	b.events.Publish(&events.Event{
		Type:    events.EventDocumentUnlocked,
		Message: fmt.Sprintf("unlocked document %s", id),
		Metadata: map[string]string{
			"document_id": string(id),
		},
	})

	return nil
}

// checkLockLocked enforces id's lock, if any, against key. Must be called
// with b.mu already held.
func (b *Baza) checkLockLocked(id ids.Id, key string) error {
	lock, ok := b.state.Locks[id]
	if !ok {
		return nil
	}

	if !lock.IsValidKey(key) {
		return fmt.Errorf("baza: %w: document %s is locked: %s", bazaerr.ErrLocked, id, lock.Reason)
	}

	return nil
}

// IsLocked reports whether id currently has an active lock.
func (b *Baza) IsLocked(id ids.Id) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.state.Locks[id]
	return ok
}

// anyLockHeld reports whether at least one document is currently locked,
// consulted by the auto-commit task before committing on the caller's
// behalf. Must be called with b.mu already held.
func (b *Baza) anyLockHeldLocked() bool {
	return len(b.state.Locks) > 0
}
