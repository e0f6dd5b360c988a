// Package lockfile implements baza's process-wide exclusive lock: a single
// "baza.lock" file that prevents two processes from opening the same store
// at once.
package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mbme/baza/pkg/log"
)

// LockFile holds an exclusive advisory lock on a file for as long as the
// process keeps it open. Release drops the lock and, if this LockFile
// created the file itself, removes it.
type LockFile struct {
	file    *os.File
	path    string
	cleanup bool
}

// TryLock attempts to acquire the lock without blocking, returning an
// error immediately if another process already holds it.
func TryLock(path string) (*LockFile, error) {
	log.Logger.Debug().Str("path", path).Msg("locking file")

	file, created, err := openForLock(path)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if created {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("lockfile: %s is already locked: %w", path, err)
	}

	return &LockFile{file: file, path: path, cleanup: created}, nil
}

// WaitLock blocks until the lock at path can be acquired.
func WaitLock(path string) (*LockFile, error) {
	log.Logger.Debug().Str("path", path).Msg("waiting to lock file")

	file, created, err := openForLock(path)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		if created {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("lockfile: locking %s: %w", path, err)
	}

	return &LockFile{file: file, path: path, cleanup: created}, nil
}

func openForLock(path string) (file *os.File, created bool, err error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		created = true
	}

	file, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("lockfile: opening %s: %w", path, err)
	}

	return file, created, nil
}

// Release unlocks the file and closes its handle, removing the file from
// disk if this LockFile was the one that created it.
func (l *LockFile) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("lockfile: unlocking %s: %w", l.path, err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("lockfile: closing %s: %w", l.path, err)
	}

	if l.cleanup {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			log.Logger.Warn().Err(err).Str("path", l.path).Msg("failed to remove lock file")
		}
	}

	return nil
}
