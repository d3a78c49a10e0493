// Package service contains the application use cases of the job API. It
// validates generation requests, records jobs in the store and hands them to
// the background runner, so the delivery layer (HTTP handlers, CLI) never
// touches the store or the runner directly.
//
// Error handling:
//   - Expected conditions are returned as sentinel errors (ErrJobNotFound,
//     ErrNotRetryable, ErrServiceBusy) or as *generation.ValidationError.
//   - Unexpected failures are wrapped in *JobServiceError.
//   - The API layer maps both to HTTP status codes.
package service
