package generation

import (
	"context"
	"fmt"

	"github.com/phrazzld/genjob-api/internal/metrics"
)

var _ Generator = (*Router)(nil)

// Router is a Generator that forwards each call to the backend serving the
// request's model, as recorded in the catalog.
type Router struct {
	catalog    *Catalog
	byProvider map[string]Generator
}

// NewRouter creates a Router. Providers missing from byProvider fail their
// calls with ErrInvalidConfig, so a deployment without a Gemini key can still
// serve DashScope models.
func NewRouter(catalog *Catalog, byProvider map[string]Generator) *Router {
	backends := make(map[string]Generator, len(byProvider))
	for name, g := range byProvider {
		if g != nil {
			backends[name] = g
		}
	}
	return &Router{catalog: catalog, byProvider: backends}
}

// Available reports whether a backend is configured for provider.
func (r *Router) Available(provider string) bool {
	_, ok := r.byProvider[provider]
	return ok
}

func (r *Router) pick(model string) (Generator, string, error) {
	provider, err := r.catalog.Provider(model)
	if err != nil {
		return nil, "", err
	}
	g, ok := r.byProvider[provider]
	if !ok {
		return nil, provider, fmt.Errorf("%w: provider %s for model %s is not configured", ErrInvalidConfig, provider, model)
	}
	return g, provider, nil
}

// GenerateImages implements Generator.
func (r *Router) GenerateImages(ctx context.Context, req ImageRequest) ([]string, error) {
	g, provider, err := r.pick(req.Model)
	if err != nil {
		return nil, err
	}
	images, err := g.GenerateImages(ctx, req)
	metrics.IncRemoteCall(provider, req.Model, err == nil)
	return images, err
}

// ImageToVideo implements Generator.
func (r *Router) ImageToVideo(ctx context.Context, req VideoRequest) (string, error) {
	g, provider, err := r.pick(req.Model)
	if err != nil {
		return "", err
	}
	video, err := g.ImageToVideo(ctx, req)
	metrics.IncRemoteCall(provider, req.Model, err == nil)
	return video, err
}

// TextToVideo implements Generator.
func (r *Router) TextToVideo(ctx context.Context, req VideoRequest) (string, error) {
	g, provider, err := r.pick(req.Model)
	if err != nil {
		return "", err
	}
	video, err := g.TextToVideo(ctx, req)
	metrics.IncRemoteCall(provider, req.Model, err == nil)
	return video, err
}
