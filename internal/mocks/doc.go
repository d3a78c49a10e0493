// Package mocks holds hand-written test doubles shared across packages.
//
// MockGenerator stands in for generation.Generator. Each method delegates to
// its function field when set and records the request it received, so tests
// can script remote outcomes (results, delays, failures) without a network:
//
//	gen := &mocks.MockGenerator{
//		TextToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
//			return "", generation.ErrTransientFailure
//		},
//	}
package mocks
