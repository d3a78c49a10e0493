package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidKind is returned for a job kind outside the closed set.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrInvalidStatus is returned for an unknown job status.
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a patch would move a job along
	// an edge that is not in the status graph, or re-enter one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPatch is returned when a patch is inconsistent with the
	// status it leads to.
	ErrInvalidPatch = errors.New("invalid job patch")
)
