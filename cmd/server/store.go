package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/platform/filestore"
	"github.com/phrazzld/genjob-api/internal/platform/postgres"
	"github.com/phrazzld/genjob-api/internal/platform/redisstore"
	"github.com/phrazzld/genjob-api/internal/redact"
	"github.com/phrazzld/genjob-api/internal/store"
)

// openStore creates the job store selected by cfg.Store.Backend. The
// returned close function releases the store and any connection behind it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.JobStore, func() error, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		s := store.NewMemoryJobStore(cfg.Store.MaxRecords, logger)
		return s, s.Close, nil

	case config.StoreFile:
		s, err := filestore.New(filestore.Options{
			Path:        cfg.Store.FilePath,
			MaxRecords:  cfg.Store.MaxRecords,
			LockTimeout: cfg.Store.LockTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, s.Close, nil

	case config.StorePostgres:
		db, err := openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}
		s := postgres.NewPostgresJobStore(db, cfg.Store.MaxRecords, logger)
		return s, func() error { return errors.Join(s.Close(), db.Close()) }, nil

	case config.StoreRedis:
		rdb, err := redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s := redisstore.New(rdb, cfg.Redis.KeyPrefix, cfg.Store.MaxRecords, logger)
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openDatabase opens and pings the PostgreSQL database of cfg.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("database.url is required for the postgres backend")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %s", redact.Error(err))
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %s", redact.Error(err))
	}

	logger.Debug("database connection established",
		"max_open_conns", cfg.MaxOpenConns)
	return db, nil
}
