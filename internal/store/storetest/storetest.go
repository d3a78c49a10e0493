// Package storetest holds the behaviour every store.JobStore backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store capped at maxRecords. The store is closed
// by the suite.
type Factory func(t *testing.T, maxRecords int) store.JobStore

var base = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

func imageParams(prompt string) domain.Params {
	return domain.Params{
		Prompt:       prompt,
		Model:        "wan2.5-t2i-preview",
		Count:        2,
		Size:         "1024*1024",
		PromptExtend: true,
	}
}

func videoParams() domain.Params {
	return domain.Params{
		Prompt:     "a cat surfing",
		Model:      "wan2.5-t2v-preview",
		Resolution: "1080P",
		Duration:   5,
	}
}

func open(t *testing.T, factory Factory, maxRecords int) store.JobStore {
	t.Helper()
	s := factory(t, maxRecords)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Run executes the shared suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("update lifecycle", func(t *testing.T) { testUpdateLifecycle(t, factory) })
	t.Run("update missing id", func(t *testing.T) { testUpdateMissing(t, factory) })
	t.Run("illegal transition leaves record intact", func(t *testing.T) { testIllegalTransition(t, factory) })
	t.Run("list newest first with filters", func(t *testing.T) { testListAndFilter(t, factory) })
	t.Run("pagination and count", func(t *testing.T) { testPagination(t, factory) })
	t.Run("delete and clear", func(t *testing.T) { testDeleteAndClear(t, factory) })
	t.Run("eviction drops oldest", func(t *testing.T) { testEviction(t, factory) })
	t.Run("concurrent lifecycles", func(t *testing.T) { testConcurrentLifecycles(t, factory) })
	t.Run("single claim wins", func(t *testing.T) { testSingleClaim(t, factory) })
	t.Run("retry link", func(t *testing.T) { testRetryLink(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	seed := 1234
	params := imageParams("a red apple")
	params.Seed = &seed

	job, err := s.Create(ctx, domain.KindTextToImage, params, "session-a")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.KindTextToImage, got.Kind)
	assert.Equal(t, "session-a", got.Owner)
	assert.Equal(t, "a red apple", got.Params.Prompt)
	assert.Equal(t, 2, got.Params.Count)
	require.NotNil(t, got.Params.Seed)
	assert.Equal(t, 1234, *got.Params.Seed)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	_, err = s.Create(ctx, domain.Kind("bogus"), params, "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func testUpdateLifecycle(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	job, err := s.Create(ctx, domain.KindTextToVideo, videoParams(), "session-a")
	require.NoError(t, err)

	running, err := s.Update(ctx, job.ID, domain.Running(10))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	_, err = s.Update(ctx, job.ID, domain.Progressed(30))
	require.NoError(t, err)

	done, err := s.Update(ctx, job.ID, domain.Completed(domain.Result{Video: "https://example.com/v.mp4"}))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "https://example.com/v.mp4", got.Result.Video)
	assert.Empty(t, got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func testUpdateMissing(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	other, err := s.Create(ctx, domain.KindTextToImage, imageParams("keep me"), "session-a")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err = s.Update(ctx, uuid.New(), domain.Running(10))
	})
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	got, err := s.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "keep me", got.Params.Prompt)

	n, err := s.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testIllegalTransition(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	job, err := s.Create(ctx, domain.KindTextToImage, imageParams("p"), "")
	require.NoError(t, err)

	_, err = s.Update(ctx, job.ID, domain.Completed(domain.Result{Images: []string{"x"}}))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Update(ctx, job.ID, domain.Running(10))
	require.NoError(t, err)
	_, err = s.Update(ctx, job.ID, domain.Failed("remote said no"))
	require.NoError(t, err)

	_, err = s.Update(ctx, job.ID, domain.Completed(domain.Result{Images: []string{"x"}}))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "remote said no", got.Error)
	assert.Nil(t, got.Result)
}

func testListAndFilter(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	var ids []uuid.UUID
	specs := []struct {
		kind   domain.Kind
		params domain.Params
		owner  string
	}{
		{domain.KindTextToImage, imageParams("one"), "alice"},
		{domain.KindTextToVideo, videoParams(), "bob"},
		{domain.KindTextToImage, imageParams("three"), "alice"},
		{domain.KindTextToVideo, videoParams(), "alice"},
	}
	for i, sp := range specs {
		job, err := s.Create(ctx, sp.kind, sp.params, sp.owner, store.WithCreatedAt(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := s.Update(ctx, ids[2], domain.Running(10))
	require.NoError(t, err)

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []uuid.UUID{ids[3], ids[2], ids[1], ids[0]}, jobIDs(all))

	alice, err := s.List(ctx, store.Filter{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[3], ids[2], ids[0]}, jobIDs(alice))

	images, err := s.List(ctx, store.Filter{Owner: "alice", Kind: domain.KindTextToImage})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[2], ids[0]}, jobIDs(images))

	running, err := s.List(ctx, store.Filter{Status: domain.StatusRunning})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[2]}, jobIDs(running))

	none, err := s.List(ctx, store.Filter{Owner: "carol"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPagination(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		job, err := s.Create(ctx, domain.KindTextToImage, imageParams(fmt.Sprintf("p%d", i)), "alice",
			store.WithCreatedAt(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	page, err := s.List(ctx, store.Filter{Owner: "alice", Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[3], ids[2], ids[1]}, jobIDs(page))

	tail, err := s.List(ctx, store.Filter{Owner: "alice", Limit: 3, Offset: 6})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0]}, jobIDs(tail))

	beyond, err := s.List(ctx, store.Filter{Owner: "alice", Limit: 3, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	n, err := s.Count(ctx, store.Filter{Owner: "alice", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func testDeleteAndClear(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	a1, err := s.Create(ctx, domain.KindTextToImage, imageParams("a1"), "alice")
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.KindTextToImage, imageParams("a2"), "alice")
	require.NoError(t, err)
	b1, err := s.Create(ctx, domain.KindTextToImage, imageParams("b1"), "bob")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, a1.ID))
	_, err = s.Get(ctx, a1.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a1.ID), store.ErrJobNotFound)

	n, err := s.Clear(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b1.ID}, jobIDs(remaining))

	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	total, err := s.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testEviction(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	var ids []uuid.UUID
	for i := 0; i < store.DefaultMaxRecords+5; i++ {
		job, err := s.Create(ctx, domain.KindTextToImage, imageParams(fmt.Sprintf("p%d", i)), "alice",
			store.WithCreatedAt(base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	n, err := s.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, store.DefaultMaxRecords, n)

	for _, id := range ids[:5] {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, store.ErrJobNotFound, "job %s should have been evicted", id)
	}
	for _, id := range ids[5:] {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err)
	}

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, store.DefaultMaxRecords)
	assert.Equal(t, ids[len(ids)-1], all[0].ID)
	assert.Equal(t, ids[5], all[len(all)-1].ID)
}

func testConcurrentLifecycles(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	const jobs = 12
	var wg sync.WaitGroup
	created := make(chan uuid.UUID, jobs)
	errs := make(chan error, jobs)

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.Create(ctx, domain.KindTextToImage, imageParams(fmt.Sprintf("c%d", i)), "alice")
			if err != nil {
				errs <- err
				return
			}
			created <- job.ID
			if _, err := s.Update(ctx, job.ID, domain.Running(10)); err != nil {
				errs <- err
				return
			}
			var final domain.Patch
			if i%2 == 0 {
				final = domain.Completed(domain.Result{Images: []string{"a", "b"}})
			} else {
				final = domain.Failed("remote error")
			}
			if _, err := s.Update(ctx, job.ID, final); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(created)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[uuid.UUID]bool{}
	for id := range created {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	require.Len(t, seen, jobs)

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, jobs)
	for _, j := range all {
		assert.True(t, seen[j.ID])
		assert.True(t, j.Status.IsTerminal(), "job %s is %s", j.ID, j.Status)
	}
}

func testSingleClaim(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	job, err := s.Create(ctx, domain.KindTextToVideo, videoParams(), "")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, job.ID, domain.Running(10)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testRetryLink(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory, store.DefaultMaxRecords)

	failed, err := s.Create(ctx, domain.KindTextToImage, imageParams("p"), "alice")
	require.NoError(t, err)

	retry, err := s.Create(ctx, domain.KindTextToImage, failed.Params, "alice", store.WithRetryOf(failed.ID))
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retry.ID)

	got, err := s.Get(ctx, retry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RetryOf)
	assert.Equal(t, failed.ID, *got.RetryOf)
}

func jobIDs(jobs []*domain.Job) []uuid.UUID {
	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}
