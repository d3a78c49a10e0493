package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/genjob-api/internal/api"
	apimiddleware "github.com/phrazzld/genjob-api/internal/api/middleware"
	"github.com/phrazzld/genjob-api/internal/notify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the application's HTTP router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.jobService, app.registry, app.catalog, app.logger)

	r.Route("/api/generation", func(r chi.Router) {
		r.Post("/text-to-image", jobHandler.TextToImage)
		r.Post("/image-to-video", jobHandler.ImageToVideo)
		r.Post("/text-to-video", jobHandler.TextToVideo)

		r.Get("/jobs", jobHandler.ListJobs)
		r.Delete("/jobs", jobHandler.ClearJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Delete("/jobs/{id}", jobHandler.DeleteJob)
		r.Post("/jobs/{id}/retry", jobHandler.RetryJob)

		r.Get("/changes", jobHandler.Changes)
		r.Get("/models", jobHandler.Models)
	})

	results := "/" + strings.Trim(app.config.Generation.ResultsPath, "/")
	r.Method(http.MethodGet, results+"/*", api.ResultsHandler(results, app.config.Generation.OutputDir))

	notifyCfg := app.config.Notify
	r.Method(http.MethodGet, "/ws/{"+notify.SessionParam+"}", notify.NewHandler(app.hub, notify.Config{
		PingPeriod:     notifyCfg.PingPeriod,
		PongWait:       notifyCfg.PongWait,
		WriteWait:      notifyCfg.WriteWait,
		SendBuffer:     notifyCfg.SendBuffer,
		AllowedOrigins: notifyCfg.AllowedOrigins,
	}, app.logger))

	r.Method(http.MethodGet, "/health", api.NewHealthHandler(app.store, app.config.Store.Backend, app.logger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
