package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a callback signature does not verify
	ErrInvalidSignature = errors.New("invalid callback signature")

	// ErrInvalidPayload is returned when a request or callback body is malformed
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a state change is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrPublishInProgress is returned when another publisher holds the job's lease
	ErrPublishInProgress = errors.New("publish in progress")
)

// UpstreamError wraps a failed call to the provider or the publishing destination
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(op string, statusCode int, err error) error {
	return &UpstreamError{Op: op, StatusCode: statusCode, Err: err}
}

// StorageError wraps a job store failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Kind classifies errors for transport mapping and retry decisions.
type Kind string

// Error kinds
const (
	KindNone              Kind = ""
	KindAuthentication    Kind = "authentication"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindUpstream          Kind = "upstream"
	KindStorage           Kind = "storage"
	KindInternal          Kind = "internal"
)

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var upstreamErr *UpstreamError
	var storageErr *StorageError

	switch {
	case errors.Is(err, ErrInvalidSignature):
		return KindAuthentication
	case errors.Is(err, ErrInvalidPayload):
		return KindValidation
	case errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrJobExists), errors.Is(err, ErrPublishInProgress):
		return KindConflict
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.As(err, &upstreamErr):
		return KindUpstream
	case errors.As(err, &storageErr):
		return KindStorage
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a fresh attempt may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindStorage:
		return true
	default:
		return false
	}
}
