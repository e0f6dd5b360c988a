// Package baza is the single exported façade over an opened personal
// document store: the staging/commit pipeline, crash recovery, auto-commit
// lifecycle, and every collaborator (a UI server, a CLI, sync) depends on
// only this package, never on pkg/state, pkg/storagelog, or pkg/blobstore
// directly.
package baza

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/blobstore"
	"github.com/mbme/baza/pkg/container"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/lockfile"
	"github.com/mbme/baza/pkg/log"
	"github.com/mbme/baza/pkg/schema"
	"github.com/mbme/baza/pkg/search"
	"github.com/mbme/baza/pkg/state"
	"github.com/mbme/baza/pkg/storagelog"
)

// DefaultAutoCommitTimeout is how long staged edits sit idle before the
// auto-commit task commits them on the caller's behalf.
const DefaultAutoCommitTimeout = 5 * time.Minute

// Options configures Create and Open. Password is the only required
// field; the zero value of every other field selects its documented
// default.
type Options struct {
	Password []byte

	// Registry dispatches document-type validation; required.
	Registry *schema.Registry

	// AutoCommitTimeout overrides DefaultAutoCommitTimeout; the
	// auto-commit task runs on a ticker at half this interval.
	AutoCommitTimeout time.Duration

	// SchemaName and DataVersion are recorded in the state header at
	// Create time and checked for compatibility at Open time.
	SchemaName  string
	DataVersion int
}

// Baza is one open store. All mutation is serialised by mu, the
// in-process write lock; the on-disk baza.lock enforces the same
// exclusivity across processes.
type Baza struct {
	rootDir    string
	instanceID ids.InstanceId

	rootKey crypto.SecretBytes
	salt    string

	registry *schema.Registry
	state    *state.State
	storage  *storagelog.Store
	blobs    *blobstore.Store
	search   *search.Index
	events   *events.Broker
	lock     *lockfile.LockFile

	autoCommitTimeout time.Duration
	lastUpdateTime    time.Time
	lastSyncTime      time.Time

	mu     sync.Mutex
	closed bool

	stopOnce       sync.Once
	stopAutoCommit chan struct{}
	autoCommitDone chan struct{}
}

// signalStop closes stopAutoCommit exactly once. Both Close and poison
// call it; Close is the only one of the two that then waits on
// autoCommitDone, since poison can itself run on the auto-commit
// goroutine and must never block waiting for that same goroutine to
// exit.
func (b *Baza) signalStop() {
	b.stopOnce.Do(func() {
		close(b.stopAutoCommit)
	})
}

func statePath(rootDir string) string   { return filepath.Join(rootDir, "state", "state.c1") }
func stateDataDir(rootDir string) string { return filepath.Join(rootDir, "state", "data") }
func storageDir(rootDir string) string   { return filepath.Join(rootDir, "storage") }
func storageDataDir(rootDir string) string {
	return filepath.Join(rootDir, "storage", "data")
}
func searchPath(rootDir string) string { return filepath.Join(rootDir, search.FileName) }
func lockPath(rootDir string) string   { return filepath.Join(rootDir, "baza.lock") }

// Create initialises a brand-new store at rootDir, which must not already
// contain a state file, and returns it already open.
func Create(rootDir string, opts Options) (*Baza, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("baza: Options.Registry is required")
	}

	if _, err := os.Stat(statePath(rootDir)); err == nil {
		return nil, fmt.Errorf("baza: %s already has a state file", rootDir)
	}

	for _, dir := range []string{
		filepath.Dir(statePath(rootDir)),
		stateDataDir(rootDir),
		storageDir(rootDir),
		storageDataDir(rootDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("baza: creating %s: %w", dir, err)
		}
	}

	fileLock, err := lockfile.TryLock(lockPath(rootDir))
	if err != nil {
		return nil, fmt.Errorf("baza: %w", err)
	}

	salt, err := randomSalt()
	if err != nil {
		fileLock.Release()
		return nil, err
	}

	rootKey, err := crypto.DeriveRootKey(opts.Password, salt)
	if err != nil {
		fileLock.Release()
		return nil, err
	}

	instanceID := ids.NewInstanceId()

	st := state.New(instanceID, state.Info{
		SchemaName:   opts.SchemaName,
		DataVersion:  opts.DataVersion,
		CreationTime: time.Now().UTC(),
		Salt:         salt,
	})

	b := &Baza{
		rootDir:           rootDir,
		instanceID:        instanceID,
		rootKey:           rootKey,
		salt:              salt,
		registry:          opts.Registry,
		state:             st,
		search:            search.NewIndex(),
		events:            events.NewBroker(),
		lock:              fileLock,
		autoCommitTimeout: autoCommitTimeout(opts),
		lastUpdateTime:    time.Now(),
		stopAutoCommit:    make(chan struct{}),
		autoCommitDone:    make(chan struct{}),
	}

	if err := b.openDataFiles(); err != nil {
		fileLock.Release()
		return nil, err
	}

	if err := b.state.Save(statePath(rootDir), b.subkey("state")); err != nil {
		fileLock.Release()
		return nil, err
	}

	b.events.Start()
	go b.runAutoCommit()

	return b, nil
}

// Open unlocks and loads an existing store at rootDir with password,
// rebuilding state from storage if a prior process crashed mid-commit and
// rebuilding the search index if it is missing or stale.
func Open(rootDir string, opts Options) (*Baza, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("baza: Options.Registry is required")
	}

	fileLock, err := lockfile.TryLock(lockPath(rootDir))
	if err != nil {
		return nil, fmt.Errorf("baza: %w", err)
	}

	salt, err := container.ReadSalt(statePath(rootDir))
	if err != nil {
		fileLock.Release()
		return nil, fmt.Errorf("baza: reading state header: %w", err)
	}

	rootKey, err := crypto.DeriveRootKey(opts.Password, salt)
	if err != nil {
		fileLock.Release()
		return nil, err
	}

	b := &Baza{
		rootDir:           rootDir,
		rootKey:           rootKey,
		salt:              salt,
		registry:          opts.Registry,
		events:            events.NewBroker(),
		lock:              fileLock,
		autoCommitTimeout: autoCommitTimeout(opts),
		lastUpdateTime:    time.Now(),
		stopAutoCommit:    make(chan struct{}),
		autoCommitDone:    make(chan struct{}),
	}

	st, err := state.Load(statePath(rootDir), b.subkey("state"))
	if err != nil {
		fileLock.Release()
		return nil, fmt.Errorf("baza: loading state: %w", err)
	}
	b.state = st
	b.instanceID = st.InstanceId

	if err := checkSchemaCompatible(st.Info, opts); err != nil {
		fileLock.Release()
		return nil, err
	}

	if err := b.openDataFiles(); err != nil {
		fileLock.Release()
		return nil, err
	}

	if err := b.recoverFromCrash(); err != nil {
		fileLock.Release()
		return nil, err
	}

	if err := b.loadOrRebuildSearchIndex(); err != nil {
		fileLock.Release()
		return nil, err
	}

	b.events.Start()
	go b.runAutoCommit()

	return b, nil
}

func (b *Baza) openDataFiles() error {
	storageStore, err := storagelog.Open(storageDir(b.rootDir), b.salt, func() (crypto.SecretBytes, error) {
		return b.subkeyErr("storage")
	})
	if err != nil {
		return fmt.Errorf("baza: opening storage: %w", err)
	}
	b.storage = storageStore

	b.blobs = blobstore.New(stateDataDir(b.rootDir), storageDataDir(b.rootDir), func(id ids.BLOBId) (crypto.SecretBytes, error) {
		return b.subkeyErr("blob:" + string(id))
	})

	return nil
}

// subkey derives a file-kind subkey from the root key, poisoning the
// handle if derivation itself ever fails (it shouldn't, absent a bug).
func (b *Baza) subkey(context string) crypto.SecretBytes {
	key, err := crypto.DeriveSubkey(b.rootKey, context)
	if err != nil {
		log.Logger.Error().Err(err).Str("context", context).Msg("subkey derivation failed")
		return crypto.SecretBytes{}
	}
	return key
}

func (b *Baza) subkeyErr(context string) (crypto.SecretBytes, error) {
	return crypto.DeriveSubkey(b.rootKey, context)
}

// checkSchemaCompatible compares the state file's recorded schema
// identity against what this Open call's Registry was built for. baza
// has no migration runner: a data_version the caller's Registry
// predates is unusable (it may contain document types or fields the
// caller's Validators have never seen), so Open refuses to proceed
// rather than silently misinterpreting newer data. An empty
// opts.SchemaName/DataVersion (the zero value) opts out of the check,
// so existing stores created before a caller adopted versioning still
// open.
func checkSchemaCompatible(info state.Info, opts Options) error {
	if opts.SchemaName == "" && opts.DataVersion == 0 {
		return nil
	}

	if info.SchemaName != opts.SchemaName {
		return fmt.Errorf("baza: %w: store schema %q does not match %q", bazaerr.ErrUnsupportedVersion, info.SchemaName, opts.SchemaName)
	}

	if info.DataVersion > opts.DataVersion {
		return fmt.Errorf("baza: %w: store data_version %d is newer than %d", bazaerr.ErrUnsupportedVersion, info.DataVersion, opts.DataVersion)
	}

	return nil
}

func autoCommitTimeout(opts Options) time.Duration {
	if opts.AutoCommitTimeout > 0 {
		return opts.AutoCommitTimeout
	}
	return DefaultAutoCommitTimeout
}

func randomSalt() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("baza: generating salt: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Close commits nothing implicitly but flushes state if modified, persists
// the search index, releases the file lock, and wipes key material.
func (b *Baza) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.signalStop()
	<-b.autoCommitDone

	var firstErr error
	if err := b.flushLocked(); err != nil {
		firstErr = err
	}

	b.events.Stop()

	if err := b.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}

	b.rootKey.Wipe()
	b.closed = true

	return firstErr
}

func (b *Baza) flushLocked() error {
	if err := b.state.Save(statePath(b.rootDir), b.subkey("state")); err != nil {
		return fmt.Errorf("baza: flushing state: %w", err)
	}

	if err := b.search.Save(searchPath(b.rootDir), b.subkey("search"), b.salt); err != nil {
		return fmt.Errorf("baza: flushing search index: %w", err)
	}

	return nil
}

// InstanceId returns this store's stable instance identifier.
func (b *Baza) InstanceId() ids.InstanceId { return b.instanceID }

// Events returns the broker collaborators subscribe to for lifecycle
// notifications (DocumentStaged, DocumentsCommitted, PeerDiscovered, ...).
func (b *Baza) Events() *events.Broker { return b.events }

// checkOpen poisons every operation once Close has run, including an
// internal poisoning after a crypto or integrity failure.
func (b *Baza) checkOpen() error {
	if b.closed {
		return bazaClosedErr()
	}
	return nil
}

// poison closes the handle internally after an unrecoverable crypto or
// integrity error, per the error-handling design's "poison the handle"
// rule; the caller's own error is returned unchanged.
//
// It only signals the auto-commit goroutine to stop, never waits for it:
// poison runs under b.mu, held by whichever call failed, and that call
// can itself be maybeAutoCommit running on the auto-commit goroutine.
// Waiting on autoCommitDone here would then mean that goroutine blocking
// on its own exit. The goroutine observes stopAutoCommit on its own and
// returns promptly; Close, called from elsewhere, still waits for it.
func (b *Baza) poison(cause error) error {
	b.closed = true
	b.signalStop()
	_ = b.lock.Release()
	b.rootKey.Wipe()
	logger := log.WithInstance(string(b.instanceID))
	logger.Error().Err(cause).Msg("baza handle poisoned")
	return cause
}
