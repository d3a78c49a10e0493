package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/service"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/phrazzld/genjob-api/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "parameter validation",
			err:         &generation.ValidationError{Field: "count", Message: "count must be between 1 and 4"},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "count must be between 1 and 4",
		},
		{
			name:        "wrapped parameter validation",
			err:         fmt.Errorf("submit: %w", &generation.ValidationError{Field: "size", Message: "invalid size format"}),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid size format",
		},
		{
			name:        "invalid kind",
			err:         fmt.Errorf("%w: %q", domain.ErrInvalidKind, "audio"),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid job kind",
		},
		{
			name:        "service not found",
			err:         service.ErrJobNotFound,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Job not found",
		},
		{
			name:        "store not found",
			err:         fmt.Errorf("get: %w", store.ErrJobNotFound),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Job not found",
		},
		{
			name:        "not retryable",
			err:         service.ErrNotRetryable,
			wantStatus:  http.StatusConflict,
			wantMessage: "Only failed jobs can be retried",
		},
		{
			name:        "busy",
			err:         errors.Join(service.ErrServiceBusy, task.ErrQueueFull),
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: "queue full: server busy, try again later",
		},
		{
			name:        "store unavailable",
			err:         store.Unavailable("list", errors.New("postgres://u:secret@db refused")),
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: "Job store temporarily unavailable",
		},
		{
			name:        "unknown",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantStatus, MapErrorToStatusCode(tc.err))
			msg := GetSafeErrorMessage(tc.err)
			assert.Equal(t, tc.wantMessage, msg)
			assert.NotContains(t, msg, "secret")
		})
	}

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
