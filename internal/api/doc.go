// Package api handles incoming HTTP requests for the generation service:
// job submission, status and listing, deletion, retry, reconciler deltas
// and the model catalog. Handlers decode and validate requests, call the
// job service and translate its errors into status codes and safe messages.
package api
