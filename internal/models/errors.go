package models

import (
	"errors"
	"fmt"
)

// SyncError is a simple sentinel error type for validation failures
type SyncError struct {
	message string
}

func (e SyncError) Error() string {
	return e.message
}

// Validation errors
var (
	ErrEmptyEntityType      = SyncError{"entity type cannot be empty"}
	ErrEmptyEntityID        = SyncError{"entity id cannot be empty"}
	ErrEmptyPayload         = SyncError{"payload cannot be empty"}
	ErrInvalidOperationKind = SyncError{"operation kind must be create, update or delete"}
)

// Engine-level sentinel errors
var (
	// ErrCursorExpired means the server no longer recognizes the sync
	// cursor; the caller must fall back to a full resync.
	ErrCursorExpired = errors.New("sync cursor expired")

	// ErrAuthExpired means credentials could not be refreshed; the sync
	// cycle moves to the Failed state.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrSyncInProgress means a cycle is already running.
	ErrSyncInProgress = errors.New("sync cycle already in progress")

	// ErrEnginePaused means the engine is paused and will not start cycles.
	ErrEnginePaused = errors.New("sync engine is paused")

	// ErrEngineFailed means the engine hit an unrecoverable error and
	// requires a manual reset.
	ErrEngineFailed = errors.New("sync engine requires manual reset")
)

// StorageError wraps a failed local durable write. It is fatal to the
// triggering call and always propagates synchronously.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError for the named operation
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// TransientError marks a failure that is safe to retry: timeouts,
// connection resets, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// RejectedError marks a server-side validation failure (4xx other than
// 401/429). It is terminal for the specific operation and never retried
// automatically.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("operation rejected (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("operation rejected: %s", e.Reason)
}

// IsStorage reports whether err is a local durable-write failure
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsTransient reports whether err may be retried per policy
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is terminal for a single operation
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsCursorExpired reports whether err requires a full resync
func IsCursorExpired(err error) bool {
	return errors.Is(err, ErrCursorExpired)
}

// IsAuthExpired reports whether err is an unrecoverable auth failure
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}
