package store_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/phrazzld/genjob-api/internal/store/storetest"
)

func TestMemoryJobStore(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storetest.Run(t, func(t *testing.T, maxRecords int) store.JobStore {
		return store.NewMemoryJobStore(maxRecords, logger)
	})
}
