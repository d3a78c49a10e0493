package filestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/platform/filestore"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := newStore(t, path)

	// Another process holding the lock looks the same as this handle.
	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())

	start := time.Now()
	_, err := s.Count(context.Background(), store.Filter{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.ErrorIs(t, err, filestore.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	require.NoError(t, holder.Unlock())
	n, err := s.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobStore_SharedLockAllowsReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := newStore(t, path)

	reader := flock.New(path + ".lock")
	require.NoError(t, reader.RLock())
	defer reader.Unlock()

	n, err := s.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Create(context.Background(), domain.KindTextToImage, domain.Params{
		Prompt: "a fox", Model: "wan2.5-t2i-preview", Count: 1, Size: "1024*1024",
	}, "session-1")
	assert.ErrorIs(t, err, filestore.ErrLockTimeout)
}

func TestJobStore_LockHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := newStore(t, path)

	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Count(ctx, store.Filter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, filestore.ErrLockTimeout)
}
