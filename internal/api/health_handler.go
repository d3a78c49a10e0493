package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/genjob-api/internal/api/shared"
	"github.com/phrazzld/genjob-api/internal/redact"
	"github.com/phrazzld/genjob-api/internal/store"
)

// healthCheckTimeout bounds the store probe of a health check.
const healthCheckTimeout = 2 * time.Second

// JobCounter is the part of the job store a health check probes.
type JobCounter interface {
	Count(ctx context.Context, filter store.Filter) (int, error)
}

// HealthResponse reports whether the service can reach its job store.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Jobs   int    `json:"jobs"`
}

// HealthHandler handles GET /health requests
type HealthHandler struct {
	store   JobCounter
	backend string
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler probing jobs, which is served by
// the named store backend.
func NewHealthHandler(jobs JobCounter, backend string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   jobs,
		backend: backend,
		logger:  logger.With(slog.String("component", "health_handler")),
	}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	n, err := h.store.Count(ctx, store.Filter{})
	if err != nil {
		h.logger.Warn("health check failed", "error", redact.Error(err))
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Store:  h.backend,
		})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Store: h.backend, Jobs: n})
}

// ResultsHandler serves the files written under dir at prefix. Directory
// listings are not served.
func ResultsHandler(prefix, dir string) http.Handler {
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
