package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id is unknown or malformed.
// Malformed ids deliberately surface as not-found so callers cannot tell
// whether an id was well-formed.
var ErrSessionNotFound = errors.New("import session not found")

// InvalidSessionError reports a session id that failed the strict identifier
// format check. It is never retryable.
type InvalidSessionError struct {
	ID string
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("invalid session id %q", e.ID)
}

// Is maps invalid ids onto ErrSessionNotFound.
func (e *InvalidSessionError) Is(target error) bool {
	return target == ErrSessionNotFound
}

// StorageInitError reports that a staging store could not be allocated, either
// because its directory could not be created or because a prior store with the
// same id exists with an incompatible schema.
type StorageInitError struct {
	SessionID string
	Err       error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("failed to initialize staging store for session %s: %v", e.SessionID, e.Err)
}

func (e *StorageInitError) Unwrap() error { return e.Err }

// StorageError wraps an underlying staging-store I/O failure. Retryable at the
// caller's discretion.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("staging store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RowCommitError records a staged row that failed during the real commit. It
// is collected as data, never thrown past the commit boundary.
type RowCommitError struct {
	RowNumber int
	Message   string
}

func (e *RowCommitError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, e.Message)
}
