// Package gemini provides an implementation of the generation.Generator interface
// backed by Google's generative media models: Imagen for text-to-image and Veo
// for text-to-video and image-to-video.
//
// This package is an infrastructure adapter connecting the job runner to an
// external service. It translates between generation requests and the
// google.golang.org/genai client without exposing the details of the external
// service to the rest of the application.
//
// Key components:
//
// 1. GeminiGenerator:
//   - Implements the generation.Generator interface
//   - Retries transient API failures with exponential backoff and jitter
//   - Polls long-running Veo operations until they finish or the context ends
//
// 2. ResultWriter:
//   - Persists the returned media bytes under the configured output directory
//   - Returns references served by the results endpoint
//
// 3. Error Handling:
//   - Maps genai.APIError status codes to the generation package's errors
//   - Reports responsible-AI filtering as generation.ErrContentBlocked
package gemini
