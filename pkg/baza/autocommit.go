package baza

import (
	"time"

	"github.com/mbme/baza/pkg/log"
)

// runAutoCommit commits staged edits on the caller's behalf once they
// have sat idle for autoCommitTimeout, so a crash or a forgotten Commit
// call never loses more than one timeout window of work. It never
// commits while any document is locked, leaving manual conflict
// resolution or long-running edits alone until they are released.
func (b *Baza) runAutoCommit() {
	defer close(b.autoCommitDone)

	interval := b.autoCommitTimeout / 2
	if interval <= 0 {
		interval = DefaultAutoCommitTimeout / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopAutoCommit:
			return
		case <-ticker.C:
			b.maybeAutoCommit()
		}
	}
}

func (b *Baza) maybeAutoCommit() {
	if !b.dueForAutoCommit() {
		return
	}

	if err := b.Commit(); err != nil {
		logger := log.WithInstance(string(b.instanceID))
		logger.Warn().Err(err).Msg("auto-commit failed")
	}
}

func (b *Baza) dueForAutoCommit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.anyLockHeldLocked() {
		return false
	}

	hasStaged := false
	for _, head := range b.state.Documents {
		if head.Staged != nil {
			hasStaged = true
			break
		}
	}
	if !hasStaged {
		return false
	}

	return time.Since(b.lastUpdateTime) >= b.autoCommitTimeout
}
