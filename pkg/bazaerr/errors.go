package bazaerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", ErrX) at the call
// site so errors.Is still matches after context is added.
var (
	// ErrNotFound is returned when a document id or blob id is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on a duplicate id at stage-new time.
	// Duplicate snapshots seen while applying a changeset are logged and
	// skipped rather than surfaced as this error.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLocked is returned when an operation needs a lock key the caller
	// didn't supply, or when the process-wide file lock is held elsewhere.
	ErrLocked = errors.New("locked")

	// ErrCryptoInvalid is returned on AEAD/HMAC failure or a wrong password.
	// Any caller that observes it should treat the owning handle as closed.
	ErrCryptoInvalid = errors.New("crypto invalid")

	// ErrUnsupportedVersion is returned when a container's format version
	// or a state file's data_version is newer than this build understands.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrIntegrityFailure covers blob hash mismatches, truncated indexes,
	// and otherwise broken containers.
	ErrIntegrityFailure = errors.New("integrity failure")

	// ErrClosed is returned by any operation on a Baza handle that has
	// already been closed, including handles poisoned by a crypto or
	// integrity error.
	ErrClosed = errors.New("baza handle closed")

	// ErrDirtyWorkingSet is returned when a peer's changeset cannot be
	// applied because this instance has staged, uncommitted edits: sync
	// always refuses to touch a dirty working set.
	ErrDirtyWorkingSet = errors.New("local working set has staged edits")

	// ErrOutdated is returned when a peer reports a newer data_version
	// than this instance understands; the user must upgrade before
	// syncing with that peer.
	ErrOutdated = errors.New("instance is outdated")
)

// FieldError describes one failed validation rule on a single data field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every validation failure found while staging or
// committing a document. The schema is asked to report all problems it can
// find in one pass rather than failing fast on the first one.
type ValidationError struct {
	DocumentErrors []string
	FieldErrors    []FieldError
}

func (e *ValidationError) Error() string {
	n := len(e.DocumentErrors) + len(e.FieldErrors)
	if n == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed (%d error(s))", n)
}

// HasErrors reports whether any validation problem was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && (len(e.DocumentErrors) > 0 || len(e.FieldErrors) > 0)
}

// AddDocumentError records a whole-document validation problem, e.g. an
// unknown document type or a dangling reference.
func (e *ValidationError) AddDocumentError(format string, args ...any) {
	e.DocumentErrors = append(e.DocumentErrors, fmt.Sprintf(format, args...))
}

// AddFieldError records a per-field validation problem.
func (e *ValidationError) AddFieldError(field, format string, args ...any) {
	e.FieldErrors = append(e.FieldErrors, FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// PeerError wraps a sync-time failure observed while talking to a single
// peer. The sync engine catches and logs these; they never abort a sync
// session with other peers.
type PeerError struct {
	PeerID string
	Cause  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %s", e.PeerID, e.Cause)
}

func (e *PeerError) Unwrap() error {
	return e.Cause
}

// NewPeerError wraps cause as a PeerError for the given peer id. Returns nil
// if cause is nil, so it can be used directly in a return statement.
func NewPeerError(peerID string, cause error) error {
	if cause == nil {
		return nil
	}
	return &PeerError{PeerID: peerID, Cause: cause}
}
