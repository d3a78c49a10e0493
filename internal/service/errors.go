package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/store"
)

// Common service errors. Callers check them with errors.Is; the API layer
// maps each to an HTTP status code.
var (
	// ErrJobNotFound indicates the job does not exist or was evicted.
	// API layer should map this to HTTP 404 Not Found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotRetryable indicates a retry was requested for a job that did not
	// fail. API layer should map this to HTTP 409 Conflict.
	ErrNotRetryable = errors.New("only failed jobs can be retried")

	// ErrServiceBusy indicates the job was recorded but could not be queued.
	// The job is marked as failed. API layer should map this to HTTP 503.
	ErrServiceBusy = errors.New("server busy, try again later")
)

// JobServiceError wraps unexpected errors from the job service with context.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "list")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError. Known sentinel errors and
// validation errors are returned as they are.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if store.IsNotFoundError(err) || errors.Is(err, ErrJobNotFound) {
		return ErrJobNotFound
	}
	var verr *generation.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	if errors.Is(err, ErrNotRetryable) || errors.Is(err, ErrServiceBusy) {
		return err
	}

	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
