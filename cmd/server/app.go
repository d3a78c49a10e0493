package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/metrics"
	"github.com/phrazzld/genjob-api/internal/notify"
	"github.com/phrazzld/genjob-api/internal/platform/dashscope"
	"github.com/phrazzld/genjob-api/internal/platform/gemini"
	"github.com/phrazzld/genjob-api/internal/reconcile"
	"github.com/phrazzld/genjob-api/internal/redact"
	"github.com/phrazzld/genjob-api/internal/service"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/phrazzld/genjob-api/internal/task"
)

// application holds the wired components of a running server.
type application struct {
	config *config.Config
	logger *slog.Logger

	store      store.JobStore
	closeStore func() error
	catalog    *generation.Catalog
	generator  *generation.Router
	emitter    *events.InMemoryEventEmitter
	runner     *task.Runner
	jobService service.JobService
	registry   *reconcile.Registry
	hub        *notify.Hub

	// bridge pushes changes written by other processes sharing the store.
	// It is nil for the memory backend.
	bridge     *reconcile.Reconciler
	stopBridge context.CancelFunc
	background sync.WaitGroup

	cleanupOnce sync.Once
}

// newApplication wires every component from cfg. Nothing runs until Run or
// start is called.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	metrics.MustRegister()

	app := &application{config: cfg, logger: logger}

	var err error
	app.store, app.closeStore, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ready := false
	defer func() {
		if !ready {
			app.cleanup()
		}
	}()

	if app.catalog, err = loadCatalog(cfg.Generation); err != nil {
		return nil, err
	}
	if app.generator, err = newGenerator(ctx, cfg.Generation, app.catalog, logger); err != nil {
		return nil, err
	}

	app.hub = notify.NewHub(logger)
	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(app.hub)

	app.runner = task.NewRunner(
		app.store,
		app.generator,
		generation.NewStager(cfg.Task.StageDir),
		app.emitter,
		task.RunnerConfig{
			WorkerCount:        cfg.Task.WorkerCount,
			QueueSize:          cfg.Task.QueueSize,
			JobTimeout:         cfg.Task.JobTimeout,
			AbandonGrace:       cfg.Task.AbandonGrace,
			OrphanAfter:        cfg.Task.OrphanAfter,
			StuckCheckInterval: cfg.Task.StuckCheckInterval,
		},
		logger,
	)

	app.jobService, err = service.NewJobService(
		app.store,
		app.runner,
		generation.NewValidator(app.catalog),
		app.emitter,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	if app.registry, err = reconcile.NewRegistry(app.store, cfg.Reconcile.MaxSessions, logger); err != nil {
		return nil, fmt.Errorf("failed to create change registry: %w", err)
	}

	if cfg.Store.Backend != config.StoreMemory {
		app.bridge = reconcile.New(app.store, reconcile.Options{Interval: cfg.Reconcile.Interval}, logger)
		app.emitter.RegisterHandler(events.EventHandlerFunc(func(ctx context.Context, e *events.JobEvent) error {
			if e.Type == events.EventJobCreated {
				app.bridge.Wake()
			}
			return nil
		}))
	}

	ready = true
	return app, nil
}

// newGenerator routes each model to the client of its provider. A provider
// without an API key is left out; its jobs fail with a configuration error.
func newGenerator(
	ctx context.Context,
	cfg config.GenerationConfig,
	catalog *generation.Catalog,
	logger *slog.Logger,
) (*generation.Router, error) {
	providers := make(map[string]generation.Generator)

	client, err := dashscope.NewClient(dashscope.Options{
		APIKey:         cfg.DashScopeAPIKey,
		BaseURL:        cfg.BaseURL,
		Region:         cfg.Region,
		RequestTimeout: cfg.RequestTimeout,
		PollInterval:   cfg.PollInterval,
		Logger:         logger,
	})
	switch {
	case errors.Is(err, dashscope.ErrMissingAPIKey):
		logger.Warn("DashScope API key not configured, dashscope models are unavailable")
	case err != nil:
		return nil, fmt.Errorf("failed to create dashscope client: %w", err)
	default:
		providers[generation.ProviderDashScope] = client
	}

	if cfg.GeminiAPIKey == "" {
		logger.Warn("Gemini API key not configured, gemini models are unavailable")
	} else {
		results, err := gemini.NewResultWriter(cfg.OutputDir, cfg.ResultsPath)
		if err != nil {
			return nil, err
		}
		gen, err := gemini.NewGeminiGenerator(ctx, logger, gemini.Config{
			APIKey:       cfg.GeminiAPIKey,
			PollInterval: cfg.PollInterval,
		}, results)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini generator: %w", err)
		}
		providers[generation.ProviderGemini] = gen
	}

	return generation.NewRouter(catalog, providers), nil
}

// start recovers and starts the workers and, for shared stores, the bridge
// from the store to the WebSocket hub.
func (app *application) start(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	if app.bridge != nil {
		bridgeCtx, cancel := context.WithCancel(context.Background())
		app.stopBridge = cancel
		changes := app.bridge.Subscribe()

		app.background.Add(2)
		go func() {
			defer app.background.Done()
			app.bridge.Run(bridgeCtx)
		}()
		go func() {
			defer app.background.Done()
			for batch := range changes {
				for _, c := range batch {
					event := events.NewJobEvent(events.TypeFor(c.Job), c.Job)
					if err := app.hub.HandleEvent(bridgeCtx, event); err != nil {
						app.logger.Warn("failed to push bridged change", "job_id", c.Job.ID, "error", err)
					}
				}
			}
		}()
	}
	return nil
}

// Run starts the application and serves HTTP until ctx is done.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		app.cleanup()
		return err
	}
	return app.startHTTPServer(ctx, app.setupRouter())
}

// cleanup stops the workers, disconnects observers and closes the store.
// It is safe to call more than once.
func (app *application) cleanup() {
	app.cleanupOnce.Do(func() {
		if app.runner != nil {
			app.runner.Stop()
		}
		if app.stopBridge != nil {
			app.stopBridge()
		}
		app.background.Wait()
		if app.hub != nil {
			app.hub.Close()
		}
		if app.closeStore != nil {
			if err := app.closeStore(); err != nil {
				app.logger.Error("failed to close job store", "error", redact.Error(err))
			}
		}
	})
}
