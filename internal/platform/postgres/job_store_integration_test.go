//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/genjob-api/internal/platform/postgres"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/phrazzld/genjob-api/internal/store/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *sql.DB

// TestMain starts one PostgreSQL container for the package and applies the
// embedded migrations to it.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "genjob",
				"POSTGRES_PASSWORD": "genjob",
				"POSTGRES_DB":       "genjob",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://genjob:genjob@%s:%s/genjob?sslmode=disable", host, port.Port())
	testDB, err = sql.Open("pgx", url)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.Migrate(ctx, testDB, "up", logger); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresJobStore_Conformance(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storetest.Run(t, func(t *testing.T, maxRecords int) store.JobStore {
		_, err := testDB.ExecContext(context.Background(), `TRUNCATE jobs`)
		require.NoError(t, err)
		return postgres.NewPostgresJobStore(testDB, maxRecords, logger)
	})
}

func TestMigrate_DownAndUp(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, postgres.Migrate(ctx, testDB, "version", logger))
	require.NoError(t, postgres.Migrate(ctx, testDB, "down", logger))
	require.NoError(t, postgres.Migrate(ctx, testDB, "up", logger))
	require.NoError(t, postgres.Migrate(ctx, testDB, "status", logger))
	require.Error(t, postgres.Migrate(ctx, testDB, "sideways", logger))
}
