package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when generation fails for any general reason
	ErrGenerationFailed = errors.New("generation failed")

	// ErrInvalidResponse is returned when the remote response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrContentBlocked is returned when the remote service blocks the prompt or output
	ErrContentBlocked = errors.New("content blocked by generation service safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrRemoteRejected is returned when the remote service rejects the request
	ErrRemoteRejected = errors.New("generation request rejected by remote service")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrInvalidParams is returned when request parameters fail validation.
	// Jobs are never created for such requests.
	ErrInvalidParams = errors.New("invalid generation parameters")

	// ErrUnknownModel is returned when a model id is not in the catalog
	ErrUnknownModel = errors.New("unknown model")

	// ErrInputNotFound is returned when a local image path does not exist
	ErrInputNotFound = errors.New("image file not found")
)

// ValidationError describes why one parameter was rejected.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets callers match ErrInvalidParams with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidParams
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
