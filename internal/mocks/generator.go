package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/genjob-api/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// Custom behavior functions
	GenerateImagesFn func(ctx context.Context, req generation.ImageRequest) ([]string, error)
	ImageToVideoFn   func(ctx context.Context, req generation.VideoRequest) (string, error)
	TextToVideoFn    func(ctx context.Context, req generation.VideoRequest) (string, error)

	// Default response values
	Images []string
	Video  string
	Err    error

	// Call tracking for verification
	Calls struct {
		// mu protects the call tracking state for concurrent workers
		mu sync.Mutex

		// Images contains every GenerateImages request
		Images []generation.ImageRequest

		// Videos contains every ImageToVideo and TextToVideo request
		Videos []generation.VideoRequest
	}
}

var _ generation.Generator = (*MockGenerator)(nil)

// GenerateImages implements the generation.Generator interface. Without a
// custom function or default images it returns one placeholder per image.
func (m *MockGenerator) GenerateImages(ctx context.Context, req generation.ImageRequest) ([]string, error) {
	m.Calls.mu.Lock()
	m.Calls.Images = append(m.Calls.Images, req)
	m.Calls.mu.Unlock()

	if m.GenerateImagesFn != nil {
		return m.GenerateImagesFn(ctx, req)
	}
	if m.Err != nil || m.Images != nil {
		return m.Images, m.Err
	}
	images := make([]string, req.Count)
	for i := range images {
		images[i] = fmt.Sprintf("https://example.com/%s/%d.png", req.Model, i)
	}
	return images, nil
}

// ImageToVideo implements the generation.Generator interface
func (m *MockGenerator) ImageToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	m.recordVideo(req)
	if m.ImageToVideoFn != nil {
		return m.ImageToVideoFn(ctx, req)
	}
	return m.defaultVideo(req)
}

// TextToVideo implements the generation.Generator interface
func (m *MockGenerator) TextToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	m.recordVideo(req)
	if m.TextToVideoFn != nil {
		return m.TextToVideoFn(ctx, req)
	}
	return m.defaultVideo(req)
}

func (m *MockGenerator) recordVideo(req generation.VideoRequest) {
	m.Calls.mu.Lock()
	defer m.Calls.mu.Unlock()
	m.Calls.Videos = append(m.Calls.Videos, req)
}

func (m *MockGenerator) defaultVideo(req generation.VideoRequest) (string, error) {
	if m.Err != nil || m.Video != "" {
		return m.Video, m.Err
	}
	return fmt.Sprintf("https://example.com/%s.mp4", req.Model), nil
}

// CallCount returns how many generator calls were made in total.
func (m *MockGenerator) CallCount() int {
	m.Calls.mu.Lock()
	defer m.Calls.mu.Unlock()
	return len(m.Calls.Images) + len(m.Calls.Videos)
}

// NewMockGeneratorWithError creates a MockGenerator that fails every call with err
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{
		Err: err,
	}
}

// MockGeneratorWithTransientFailure creates a MockGenerator that simulates a transient failure
func MockGeneratorWithTransientFailure() *MockGenerator {
	return NewMockGeneratorWithError(generation.ErrTransientFailure)
}

// MockGeneratorWithContentBlocked creates a MockGenerator that simulates content being blocked
func MockGeneratorWithContentBlocked() *MockGenerator {
	return NewMockGeneratorWithError(generation.ErrContentBlocked)
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.Calls.mu.Lock()
	defer m.Calls.mu.Unlock()
	m.Calls.Images = nil
	m.Calls.Videos = nil
}
