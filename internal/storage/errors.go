package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable marks network or connection failures. The router
	// falls through to the next backend on these.
	ErrUnreachable = errors.New("storage backend unreachable")

	// ErrRejected marks failures where the backend refused the data
	// (disk full, permission denied). These are never retried.
	ErrRejected = errors.New("storage backend rejected request")

	// ErrNotFound is returned when no object exists at a location.
	ErrNotFound = errors.New("object not found")

	// ErrUnknownScheme is returned for locations no registered backend owns.
	ErrUnknownScheme = errors.New("unknown storage location scheme")
)

// Error carries the backend, operation and classification of a failure.
type Error struct {
	Backend string
	Op      string
	Kind    error // ErrUnreachable, ErrRejected or ErrNotFound
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the classification and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unreachable wraps err as a connection-level failure.
func Unreachable(backend, op string, err error) error {
	return &Error{Backend: backend, Op: op, Kind: ErrUnreachable, Err: err}
}

// Rejected wraps err as a permanent failure.
func Rejected(backend, op string, err error) error {
	return &Error{Backend: backend, Op: op, Kind: ErrRejected, Err: err}
}

// NotFound wraps err as a missing-object failure.
func NotFound(backend, op string, err error) error {
	return &Error{Backend: backend, Op: op, Kind: ErrNotFound, Err: err}
}

// IsUnreachable reports whether err is a connection-level failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
