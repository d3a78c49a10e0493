package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/phrazzld/genjob-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJobRunner is a mock implementation of the JobRunner
type MockJobRunner struct {
	mock.Mock
}

func (m *MockJobRunner) Submit(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// recordingHandler collects emitted event types.
type recordingHandler struct {
	mu    sync.Mutex
	types []events.EventType
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types = append(h.types, event.Type)
	return nil
}

func (h *recordingHandler) seen() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.EventType(nil), h.types...)
}

type serviceFixture struct {
	svc      JobService
	store    *store.MemoryJobStore
	runner   *MockJobRunner
	recorder *recordingHandler
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobStore := store.NewMemoryJobStore(50, logger)
	runner := &MockJobRunner{}
	recorder := &recordingHandler{}
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(recorder)

	svc, err := NewJobService(jobStore, runner, generation.NewValidator(generation.DefaultCatalog()), emitter, logger)
	require.NoError(t, err)
	return &serviceFixture{svc: svc, store: jobStore, runner: runner, recorder: recorder}
}

func TestNewJobService_RequiresDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobStore := store.NewMemoryJobStore(10, logger)
	validator := generation.NewValidator(generation.DefaultCatalog())
	emitter := events.NewInMemoryEventEmitter(logger)

	_, err := NewJobService(nil, &MockJobRunner{}, validator, emitter, logger)
	assert.Error(t, err)
	_, err = NewJobService(jobStore, nil, validator, emitter, logger)
	assert.Error(t, err)
	_, err = NewJobService(jobStore, &MockJobRunner{}, nil, emitter, logger)
	assert.Error(t, err)
	_, err = NewJobService(jobStore, &MockJobRunner{}, validator, nil, logger)
	assert.Error(t, err)

	var svcErr *JobServiceError
	assert.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "create_service", svcErr.Operation)
}

func TestSubmit_CreatesAndQueuesJob(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.runner.On("Submit", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil).Once()

	job, err := f.svc.Submit(ctx, domain.KindTextToImage, domain.Params{Prompt: "a red fox", Size: "1024x1024", PromptExtend: true}, "session-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, "wan2.5-t2i-preview", job.Params.Model)
	assert.Equal(t, "1024*1024", job.Params.Size)
	assert.Equal(t, 1, job.Params.Count)
	assert.Equal(t, "session-1", job.Owner)

	stored, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)

	f.runner.AssertCalled(t, "Submit", mock.Anything, job.ID)
	assert.Equal(t, []events.EventType{events.EventJobCreated}, f.recorder.seen())
}

func TestSubmit_ValidationFailureCreatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, domain.KindTextToImage, domain.Params{Prompt: "x", Count: 9}, "s")
	require.Error(t, err)

	var verr *generation.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "count", verr.Field)
	assert.ErrorIs(t, err, generation.ErrInvalidParams)

	n, err := f.store.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	f.runner.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	assert.Empty(t, f.recorder.seen())
}

func TestSubmit_QueueFullMarksJobFailed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	queueErr := fmt.Errorf("%w: queue capacity 1 reached", task.ErrQueueFull)
	f.runner.On("Submit", mock.Anything, mock.Anything).Return(queueErr).Once()

	job, err := f.svc.Submit(ctx, domain.KindTextToVideo, domain.Params{Prompt: "ocean"}, "s")
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrServiceBusy)
	assert.ErrorIs(t, err, task.ErrQueueFull)

	jobs, err := f.store.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusError, jobs[0].Status)
	assert.Equal(t, busyMessage, jobs[0].Error)
	assert.Equal(t, []events.EventType{events.EventJobCreated, events.EventJobFailed}, f.recorder.seen())
}

func TestGetAndDelete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.runner.On("Submit", mock.Anything, mock.Anything).Return(nil)

	job, err := f.svc.Submit(ctx, domain.KindImageToVideo, domain.Params{ImageURL: "https://example.com/cat.png"}, "s")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "wan2.5-i2v-preview", got.Params.Model)
	assert.Equal(t, "1080P", got.Params.Resolution)
	assert.Equal(t, 10, got.Params.Duration)

	require.NoError(t, f.svc.Delete(ctx, job.ID))
	_, err = f.svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, job.ID), ErrJobNotFound)
}

func TestList_PagingAndFilters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	params := domain.Params{Prompt: "p", Model: "wan2.5-t2i-preview", Count: 1, Size: "1024*1024"}
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		job, err := f.store.Create(ctx, domain.KindTextToImage, params, "alice", store.WithCreatedAt(base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := f.store.Create(ctx, domain.KindTextToImage, params, "bob")
	require.NoError(t, err)

	page, err := f.svc.List(ctx, ListQuery{Owner: "alice", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PageSize)
	require.Len(t, page.Jobs, 2)
	// Newest first: page 2 holds the third and fourth newest.
	assert.Equal(t, ids[2], page.Jobs[0].ID)
	assert.Equal(t, ids[1], page.Jobs[1].ID)

	page, err = f.svc.List(ctx, ListQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 6, page.Total)

	page, err = f.svc.List(ctx, ListQuery{Status: domain.StatusCompleted})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Jobs)
	assert.Equal(t, DefaultPageSize, page.PageSize)
}

func TestClear(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.runner.On("Submit", mock.Anything, mock.Anything).Return(nil)

	for _, owner := range []string{"alice", "alice", "bob"} {
		_, err := f.svc.Submit(ctx, domain.KindTextToImage, domain.Params{Prompt: "p"}, owner)
		require.NoError(t, err)
	}

	n, err := f.svc.Clear(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.runner.On("Submit", mock.Anything, mock.Anything).Return(nil)

	job, err := f.svc.Submit(ctx, domain.KindTextToImage, domain.Params{Prompt: "retry me", Count: 2}, "s")
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = f.store.Update(ctx, job.ID, domain.Failed("dashscope: throttled (Throttling)"))
	require.NoError(t, err)

	retried, err := f.svc.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retried.ID)
	require.NotNil(t, retried.RetryOf)
	assert.Equal(t, job.ID, *retried.RetryOf)
	assert.Equal(t, job.Params, retried.Params)
	assert.Equal(t, "s", retried.Owner)
	assert.Equal(t, domain.StatusPending, retried.Status)

	_, err = f.svc.Retry(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// unavailableStore fails every read.
type unavailableStore struct {
	store.JobStore
}

func (unavailableStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return nil, store.Unavailable("get", errors.New("lock timeout"))
}

func TestNewJobServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewJobService(unavailableStore{}, &MockJobRunner{},
		generation.NewValidator(generation.DefaultCatalog()), events.NewInMemoryEventEmitter(logger), logger)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), uuid.New())
	var svcErr *JobServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "get", svcErr.Operation)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "job service get failed")

	assert.Nil(t, NewJobServiceError("op", "msg", nil))
	assert.Equal(t, ErrJobNotFound, NewJobServiceError("op", "msg", store.ErrJobNotFound))
}
