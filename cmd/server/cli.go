package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/platform/logger"
	"github.com/spf13/cobra"
)

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "genjob-api",
		Short: "Asynchronous image and video generation job service",
		Long: `genjob-api accepts image and video generation requests, runs them
against DashScope or Gemini in the background and reports progress over
HTTP polling and WebSockets.

Run without a subcommand to start the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the environment")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newJobsCmd(opts),
		newModelsCmd(opts),
	)
	return rootCmd
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the job workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func (o *cliOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.Options{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// commandLogger is the logger of the administrative commands. It writes
// warnings and above to stderr so command output stays clean.
func commandLogger(w io.Writer) *slog.Logger {
	return logger.New(w, nil, slog.LevelWarn)
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := logger.Setup(cfg.Server, cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closeLog() }()

	log.Info("starting genjob-api",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"workers", cfg.Task.WorkerCount)

	app, err := newApplication(cmd.Context(), cfg, log)
	if err != nil {
		log.Error("failed to initialize application", "error", err)
		return err
	}
	return app.Run(cmd.Context())
}

// loadCatalog returns the configured model catalog, or the built-in one.
func loadCatalog(cfg config.GenerationConfig) (*generation.Catalog, error) {
	if cfg.CatalogFile == "" {
		return generation.DefaultCatalog(), nil
	}
	catalog, err := generation.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}
	return catalog, nil
}
