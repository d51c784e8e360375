package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the backend has no application for the key
	ErrNotFound = errors.New("application not found")

	// ErrBackendUnavailable marks transient infrastructure failures.
	// These must never be cached as a negative result.
	ErrBackendUnavailable = errors.New("access policy backend unavailable")
)

// BackendError wraps an infrastructure failure from a specific backend
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

// NewBackendError wraps err as a BackendError
func NewBackendError(backend, op string, err error) *BackendError {
	return &BackendError{Backend: backend, Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s failed: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrBackendUnavailable) match any BackendError
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// IsNotFound reports whether err is a definitive "no such application"
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBackendUnavailable reports whether err is a transient backend failure
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
