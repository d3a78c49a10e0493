package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/genjob-api/internal/api/shared"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/service"
	"github.com/phrazzld/genjob-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, generation.ErrInvalidParams),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrJobNotFound),
		store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, service.ErrNotRetryable):
		return http.StatusConflict

	case errors.Is(err, service.ErrServiceBusy),
		errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a message for err that is safe to show to
// clients. Parameter validation messages are passed through since they
// only describe the client's own input.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verr *generation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message

	case errors.Is(err, domain.ErrInvalidKind):
		return "Invalid job kind"

	case errors.Is(err, domain.ErrInvalidStatus):
		return "Invalid job status"

	case errors.Is(err, domain.ErrValidation):
		return "Invalid request"

	case errors.Is(err, service.ErrJobNotFound),
		store.IsNotFoundError(err):
		return "Job not found"

	case errors.Is(err, service.ErrNotRetryable):
		return "Only failed jobs can be retried"

	case errors.Is(err, service.ErrServiceBusy):
		return "queue full: server busy, try again later"

	case errors.Is(err, store.ErrStoreUnavailable):
		return "Job store temporarily unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// handleError writes the mapped status and safe message for err and logs
// the redacted details.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
