package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/platform/postgres"
	"github.com/spf13/cobra"
)

var migrateCommands = []string{"up", "down", "status", "version"}

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status|version>",
		Short:     "Manage the PostgreSQL job store schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: migrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg.Database, args[0], commandLogger(cmd.ErrOrStderr()))
		},
	}
}

// runMigrations executes one goose command against the configured database.
func runMigrations(ctx context.Context, cfg config.DatabaseConfig, command string, logger *slog.Logger) error {
	if !slices.Contains(migrateCommands, command) {
		return fmt.Errorf("unknown migration command %q (expected one of %v)", command, migrateCommands)
	}

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := postgres.Migrate(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
