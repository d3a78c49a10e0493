package task

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/mocks"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects emitted events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (r *eventRecorder) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types(id uuid.UUID) []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, e := range r.events {
		if e.Job.ID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

type runnerFixture struct {
	runner   *Runner
	store    *store.MemoryJobStore
	recorder *eventRecorder
	stageDir string
}

func newRunnerFixture(t *testing.T, gen generation.Generator, config RunnerConfig) *runnerFixture {
	t.Helper()
	logger := setupTestLogger()

	jobStore := store.NewMemoryJobStore(100, logger)
	recorder := &eventRecorder{}
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(recorder)

	stageDir := t.TempDir()
	runner := NewRunner(jobStore, gen, generation.NewStager(stageDir), emitter, config, logger)
	t.Cleanup(runner.Stop)

	return &runnerFixture{runner: runner, store: jobStore, recorder: recorder, stageDir: stageDir}
}

func (f *runnerFixture) create(t *testing.T, kind domain.Kind, params domain.Params, opts ...store.CreateOption) *domain.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), kind, params, "session-1", opts...)
	require.NoError(t, err)
	return job
}

func (f *runnerFixture) waitForTerminal(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.store.Get(context.Background(), id)
		return err == nil && job.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func imageParams(prompt string) domain.Params {
	return domain.Params{Prompt: prompt, Model: "wan2.5-t2i-preview", Count: 2, Size: "1024*1024"}
}

func videoParams(image string) domain.Params {
	return domain.Params{Prompt: "waves", Model: "wan2.5-i2v-preview", Resolution: "720P", Duration: 5, ImageURL: image}
}

func pngDataURI() string {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func TestRunner_CompletesTextToImageJob(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 2})
	require.NoError(t, f.runner.Start(context.Background()))

	job := f.create(t, domain.KindTextToImage, imageParams("a cat"))
	require.NoError(t, f.runner.Submit(context.Background(), job.ID))

	done := f.waitForTerminal(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.Images, 2)
	assert.Empty(t, done.Error)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	require.Eventually(t, func() bool { return len(f.recorder.types(job.ID)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.EventType{
		events.EventJobStarted,
		events.EventJobProgressed,
		events.EventJobCompleted,
	}, f.recorder.types(job.ID))
}

func TestRunner_RemoteErrorIsRecordedOnJob(t *testing.T) {
	gen := mocks.NewMockGeneratorWithError(fmt.Errorf("%w: dashscope: quota exceeded (Arrearage)", generation.ErrRemoteRejected))
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 1})
	require.NoError(t, f.runner.Start(context.Background()))

	job := f.create(t, domain.KindTextToVideo, domain.Params{Prompt: "x", Model: "wan2.5-t2v-preview", Resolution: "720P", Duration: 5})
	require.NoError(t, f.runner.Submit(context.Background(), job.ID))

	done := f.waitForTerminal(t, job.ID)
	assert.Equal(t, domain.StatusError, done.Status)
	assert.Contains(t, done.Error, "quota exceeded")
	assert.Nil(t, done.Result)
	assert.Equal(t, 100, done.Progress)
}

func TestRunner_AtMostOnceUnderConcurrentClaims(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{})
	job := f.create(t, domain.KindTextToImage, imageParams("once"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.runner.process(context.Background(), job.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, gen.CallCount())
	got, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestRunner_SkipsJobsThatCannotBeClaimed(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{})
	ctx := context.Background()

	failed := f.create(t, domain.KindTextToImage, imageParams("failed"))
	_, err := f.store.Update(ctx, failed.ID, domain.Failed("queue full"))
	require.NoError(t, err)

	assert.NoError(t, f.runner.process(ctx, failed.ID))
	assert.NoError(t, f.runner.process(ctx, uuid.New()))
	assert.Zero(t, gen.CallCount())
}

func TestRunner_PanicIsRecordedAsError(t *testing.T) {
	gen := &mocks.MockGenerator{
		GenerateImagesFn: func(ctx context.Context, req generation.ImageRequest) ([]string, error) {
			panic("nil map write")
		},
	}
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 1})
	require.NoError(t, f.runner.Start(context.Background()))

	job := f.create(t, domain.KindTextToImage, imageParams("panic"))
	require.NoError(t, f.runner.Submit(context.Background(), job.ID))

	done := f.waitForTerminal(t, job.ID)
	assert.Equal(t, domain.StatusError, done.Status)
	assert.Equal(t, "panic: nil map write", done.Error)

	// The worker keeps serving jobs.
	gen.GenerateImagesFn = nil
	next := f.create(t, domain.KindTextToImage, imageParams("after"))
	require.NoError(t, f.runner.Submit(context.Background(), next.ID))
	assert.Equal(t, domain.StatusCompleted, f.waitForTerminal(t, next.ID).Status)
}

func TestRunner_TimeoutForcesError(t *testing.T) {
	t.Run("generator honours cancellation", func(t *testing.T) {
		gen := &mocks.MockGenerator{
			TextToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
				<-ctx.Done()
				return "", fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctx.Err())
			},
		}
		f := newRunnerFixture(t, gen, RunnerConfig{JobTimeout: 50 * time.Millisecond, AbandonGrace: time.Second})
		job := f.create(t, domain.KindTextToVideo, domain.Params{Prompt: "slow", Model: "wan2.5-t2v-preview", Resolution: "720P", Duration: 5})

		require.NoError(t, f.runner.process(context.Background(), job.ID))

		got, err := f.store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, got.Status)
		assert.Equal(t, "timeout: job exceeded 50ms", got.Error)
	})

	t.Run("generator ignores cancellation", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		gen := &mocks.MockGenerator{
			TextToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
				<-release
				return "https://late.example/video.mp4", nil
			},
		}
		f := newRunnerFixture(t, gen, RunnerConfig{JobTimeout: 30 * time.Millisecond, AbandonGrace: 20 * time.Millisecond})
		job := f.create(t, domain.KindTextToVideo, domain.Params{Prompt: "stuck", Model: "wan2.5-t2v-preview", Resolution: "720P", Duration: 5})

		start := time.Now()
		require.NoError(t, f.runner.process(context.Background(), job.ID))
		assert.Less(t, time.Since(start), time.Second)

		got, err := f.store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, got.Status)
		assert.Equal(t, "timeout: job exceeded 30ms", got.Error)
	})
}

func TestRunner_StopInterruptsRunningJob(t *testing.T) {
	started := make(chan struct{})
	gen := &mocks.MockGenerator{
		TextToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 1, AbandonGrace: 100 * time.Millisecond})
	require.NoError(t, f.runner.Start(context.Background()))

	job := f.create(t, domain.KindTextToVideo, domain.Params{Prompt: "long", Model: "wan2.5-t2v-preview", Resolution: "720P", Duration: 5})
	require.NoError(t, f.runner.Submit(context.Background(), job.ID))
	<-started

	f.runner.Stop()

	got, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "interrupted: server shutting down", got.Error)

	assert.ErrorIs(t, f.runner.Submit(context.Background(), uuid.New()), ErrQueueClosed)
}

func TestRunner_StopLeavesQueuedJobsPending(t *testing.T) {
	started := make(chan struct{})
	gen := &mocks.MockGenerator{
		TextToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 1, AbandonGrace: 100 * time.Millisecond})
	require.NoError(t, f.runner.Start(context.Background()))

	running := f.create(t, domain.KindTextToVideo, domain.Params{Prompt: "long", Model: "wan2.5-t2v-preview", Resolution: "720P", Duration: 5})
	queued := f.create(t, domain.KindTextToImage, imageParams("queued"))
	require.NoError(t, f.runner.Submit(context.Background(), running.ID))
	<-started
	require.NoError(t, f.runner.Submit(context.Background(), queued.ID))

	f.runner.Stop()

	got, err := f.store.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Empty(t, f.recorder.types(queued.ID))
}

func TestRunner_ProcessDoesNotClaimAfterCancel(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{})
	job := f.create(t, domain.KindTextToImage, imageParams("late"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.runner.process(ctx, job.ID))

	got, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Zero(t, gen.CallCount())
}

func TestRunner_LostTerminalEventLogsError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	jobStore := store.NewMemoryJobStore(10, logger)
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.EventHandlerFunc(func(ctx context.Context, e *events.JobEvent) error {
		return errors.New("subscriber gone")
	}))
	runner := NewRunner(jobStore, &mocks.MockGenerator{}, generation.NewStager(t.TempDir()), emitter, RunnerConfig{}, logger)
	t.Cleanup(runner.Stop)

	job, err := jobStore.Create(context.Background(), domain.KindTextToImage, imageParams("lost"), "session-1")
	require.NoError(t, err)
	require.NoError(t, runner.process(context.Background(), job.ID))

	var warned, failed bool
	for _, line := range strings.Split(logs.String(), "\n") {
		if !strings.Contains(line, "failed to emit job event") {
			continue
		}
		switch {
		case strings.Contains(line, "event_type=job.completed"):
			failed = true
			assert.Contains(t, line, "level=ERROR")
		case strings.Contains(line, "event_type=job.started"):
			warned = true
			assert.Contains(t, line, "level=WARN")
		}
	}
	assert.True(t, warned)
	assert.True(t, failed)
}

func TestRunner_StagedFilesAreRemoved(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status domain.Status
	}{
		{name: "success", status: domain.StatusCompleted},
		{name: "remote failure", err: generation.ErrContentBlocked, status: domain.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stagedPath string
			gen := &mocks.MockGenerator{
				ImageToVideoFn: func(ctx context.Context, req generation.VideoRequest) (string, error) {
					stagedPath = req.Image.Path
					_, statErr := os.Stat(req.Image.Path)
					assert.NoError(t, statErr, "staged file exists during the call")
					if tt.err != nil {
						return "", tt.err
					}
					return "https://example.com/video.mp4", nil
				},
			}
			f := newRunnerFixture(t, gen, RunnerConfig{})
			job := f.create(t, domain.KindImageToVideo, videoParams(pngDataURI()))

			require.NoError(t, f.runner.process(context.Background(), job.ID))

			got, err := f.store.Get(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)

			require.NotEmpty(t, stagedPath)
			_, statErr := os.Stat(stagedPath)
			assert.True(t, errors.Is(statErr, os.ErrNotExist))
			entries, err := os.ReadDir(f.stageDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestRunner_MissingImageFailsJob(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{})
	missing := "/definitely/not/here.png"
	job := f.create(t, domain.KindImageToVideo, videoParams(missing))

	require.NoError(t, f.runner.process(context.Background(), job.ID))

	got, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "image file not found: "+missing, got.Error)
	assert.Zero(t, gen.CallCount())
}

func TestRunner_RecoverFailsOrphanedJobs(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{OrphanAfter: 15 * time.Minute, JobTimeout: time.Minute})
	ctx := context.Background()

	orphan := f.create(t, domain.KindTextToImage, imageParams("orphan"))
	_, err := f.store.Update(ctx, orphan.ID, domain.Running(ProgressClaimed))
	require.NoError(t, err)

	// Recovery runs an hour later than the last update.
	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, f.runner.Recover(ctx))

	got, err := f.store.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "interrupted: process stopped while job was running", got.Error)
	assert.Equal(t, []events.EventType{events.EventJobFailed}, f.recorder.types(orphan.ID))
}

func TestRunner_RecoverLeavesRecentRunningJobs(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{})
	ctx := context.Background()

	job := f.create(t, domain.KindTextToImage, imageParams("young"))
	_, err := f.store.Update(ctx, job.ID, domain.Running(ProgressClaimed))
	require.NoError(t, err)

	require.NoError(t, f.runner.Recover(ctx))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestRunner_StartRequeuesPendingJobsOldestFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gen := &mocks.MockGenerator{
		GenerateImagesFn: func(ctx context.Context, req generation.ImageRequest) ([]string, error) {
			mu.Lock()
			order = append(order, req.Prompt)
			mu.Unlock()
			return []string{"https://example.com/" + req.Prompt + ".png"}, nil
		},
	}
	f := newRunnerFixture(t, gen, RunnerConfig{WorkerCount: 1})

	base := time.Now().Add(-time.Minute)
	var ids []uuid.UUID
	for i, prompt := range []string{"first", "second", "third"} {
		job := f.create(t, domain.KindTextToImage, imageParams(prompt), store.WithCreatedAt(base.Add(time.Duration(i)*time.Second)))
		ids = append(ids, job.ID)
	}

	require.NoError(t, f.runner.Start(context.Background()))
	for _, id := range ids {
		assert.Equal(t, domain.StatusCompleted, f.waitForTerminal(t, id).Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRunner_SubmitQueueFull(t *testing.T) {
	f := newRunnerFixture(t, &mocks.MockGenerator{}, RunnerConfig{QueueSize: 1})
	ctx := context.Background()

	require.NoError(t, f.runner.Submit(ctx, uuid.New()))
	assert.ErrorIs(t, f.runner.Submit(ctx, uuid.New()), ErrQueueFull)
}

func TestRunner_RequeueStalePending(t *testing.T) {
	gen := &mocks.MockGenerator{}
	f := newRunnerFixture(t, gen, RunnerConfig{QueueSize: 5})
	ctx := context.Background()

	f.create(t, domain.KindTextToImage, imageParams("stale"))
	assert.Zero(t, f.runner.requeueStale(ctx))

	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, f.runner.requeueStale(ctx))
	assert.Equal(t, 1, f.runner.queue.Len())
}

func TestDefaultRunnerConfig(t *testing.T) {
	c := withDefaults(RunnerConfig{AbandonGrace: -time.Second})
	d := DefaultRunnerConfig()

	assert.Equal(t, d.WorkerCount, c.WorkerCount)
	assert.Equal(t, d.QueueSize, c.QueueSize)
	assert.Equal(t, d.JobTimeout, c.JobTimeout)
	assert.Zero(t, c.AbandonGrace)
	assert.Greater(t, d.OrphanAfter, d.JobTimeout)
}
