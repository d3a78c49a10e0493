package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/genjob-api/internal/api/shared"
	"github.com/phrazzld/genjob-api/internal/platform/logger"
)

// NewTraceMiddleware tags every request with a trace ID. The ID is stored in
// the request context, echoed in the X-Trace-ID response header and attached
// to a request-scoped logger derived from base.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set(shared.TraceIDHeader, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
