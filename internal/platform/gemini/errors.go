package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/genjob-api/internal/generation"
	"google.golang.org/genai"
)

// Error definitions for the gemini package.
var (
	// ErrEmptyPrompt is returned when a request carries no prompt.
	ErrEmptyPrompt = fmt.Errorf("%w: prompt cannot be empty", generation.ErrInvalidParams)

	// ErrOperationFailed is returned when a Veo operation finishes with an error.
	ErrOperationFailed = errors.New("video operation failed")
)

// mapAPIError translates a genai client error into a generation error.
// Context errors are returned unchanged so callers can detect timeouts.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) {
			return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
		}
		apiErr = *apiErrPtr
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: gemini: %s (%d)", generation.ErrTransientFailure, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("%w: gemini: %s (%d)", generation.ErrRemoteRejected, apiErr.Message, apiErr.Code)
	}
}

// isRetryable reports whether a mapped error is worth another attempt.
func isRetryable(err error) bool {
	return errors.Is(err, generation.ErrTransientFailure)
}

// operationError describes the error payload of a finished operation.
func operationError(op *genai.GenerateVideosOperation) error {
	message, _ := op.Error["message"].(string)
	if message == "" {
		message = fmt.Sprint(op.Error)
	}
	return fmt.Errorf("%w: %w: %s", generation.ErrGenerationFailed, ErrOperationFailed, message)
}
