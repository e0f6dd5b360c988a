package document

import (
	"fmt"
	"time"

	"github.com/mbme/baza/pkg/ids"
)

// DocumentLock blocks commit and sync on a specific document id until
// released. The caller that creates the lock receives its Key and must
// present it again to unlock or to stage/commit the locked id.
type DocumentLock struct {
	Key      string    `json:"key"`
	LockTime time.Time `json:"lock_time"`
	Reason   string    `json:"reason"`
}

// NewDocumentLock creates a lock with a fresh random key.
func NewDocumentLock(reason string) DocumentLock {
	return DocumentLock{
		Key:      ids.RandomLockKey(),
		LockTime: time.Now().UTC(),
		Reason:   reason,
	}
}

// IsValidKey reports whether key matches the key required to act on the
// locked id.
func (l DocumentLock) IsValidKey(key string) bool {
	return l.Key == key
}

func (l DocumentLock) String() string {
	return fmt.Sprintf("%s [%s]: %s", l.LockTime.Format(time.RFC3339), l.Key, l.Reason)
}
