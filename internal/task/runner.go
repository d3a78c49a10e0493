package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/metrics"
	"github.com/phrazzld/genjob-api/internal/redact"
	"github.com/phrazzld/genjob-api/internal/store"
)

// Errors recorded on jobs that did not finish on their own.
var (
	ErrPanic       = errors.New("panic")
	ErrTimeout     = errors.New("timeout")
	ErrInterrupted = errors.New("interrupted")
)

// Progress values persisted as a job moves through a worker.
const (
	ProgressClaimed = 10
	ProgressStaged  = 30
)

const (
	orphanMessage   = "interrupted: process stopped while job was running"
	shutdownMessage = "server shutting down"
)

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// WorkerCount determines how many jobs run concurrently
	WorkerCount int

	// QueueSize is the buffer of the in-memory queue of job ids
	QueueSize int

	// JobTimeout bounds a single remote generation call
	JobTimeout time.Duration

	// AbandonGrace is how long a worker waits for a timed out call to
	// return before it releases its slot
	AbandonGrace time.Duration

	// OrphanAfter is the age of the last update after which a running job
	// is considered abandoned by a stopped process
	OrphanAfter time.Duration

	// StuckCheckInterval defines how often orphaned jobs are looked for
	StuckCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        DefaultWorkerPoolConfig().WorkerCount,
		QueueSize:          100,
		JobTimeout:         10 * time.Minute,
		AbandonGrace:       5 * time.Second,
		OrphanAfter:        15 * time.Minute,
		StuckCheckInterval: time.Minute,
	}
}

// Stager prepares image inputs for the remote call.
type Stager interface {
	Stage(name, source string) (generation.StagedInput, func(), error)
}

// Runner manages background job processing. Jobs are persisted by the
// caller; the runner only ever receives their ids, and a job runs at most
// once because claiming it is a pending -> running transition in the store.
type Runner struct {
	store   store.JobStore
	gen     generation.Generator
	stager  Stager
	emitter events.EventEmitter
	queue   *TaskQueue
	pool    *WorkerPool
	config  RunnerConfig
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRunner creates a Runner. Zero config values fall back to
// DefaultRunnerConfig. A nil stager stages into os.TempDir and a nil emitter
// discards events.
func NewRunner(
	jobStore store.JobStore,
	gen generation.Generator,
	stager Stager,
	emitter events.EventEmitter,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	config = withDefaults(config)
	if stager == nil {
		stager = generation.NewStager("")
	}
	if emitter == nil {
		emitter = events.NewInMemoryEventEmitter(logger)
	}
	logger = logger.With("component", "task_runner")

	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		store:   jobStore,
		gen:     gen,
		stager:  stager,
		emitter: emitter,
		queue:   queue,
		pool:    pool,
		config:  config,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	pool.SetErrorHandler(r.handleTaskError)
	return r
}

func withDefaults(c RunnerConfig) RunnerConfig {
	d := DefaultRunnerConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.AbandonGrace < 0 {
		c.AbandonGrace = 0
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = d.OrphanAfter
	}
	if c.StuckCheckInterval <= 0 {
		c.StuckCheckInterval = d.StuckCheckInterval
	}
	return c
}

// Submit queues a stored pending job for execution. It never blocks: a full
// queue returns ErrQueueFull and a stopped runner ErrQueueClosed.
func (r *Runner) Submit(ctx context.Context, id uuid.UUID) error {
	if err := r.queue.Enqueue(&jobTask{id: id, runner: r}); err != nil {
		return err
	}
	metrics.SetQueueDepth(r.queue.Len())
	return nil
}

// Start recovers jobs left by a previous process, then starts the workers and
// the monitor that fails orphaned jobs.
func (r *Runner) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() {
		if err = r.Recover(ctx); err != nil {
			err = fmt.Errorf("failed to recover jobs: %w", err)
			return
		}
		r.pool.Start()

		r.wg.Add(1)
		go r.stuckJobMonitor()
	})
	return err
}

// Stop stops accepting jobs, interrupts the running ones and waits for the
// workers. Jobs still queued stay pending and are recovered on next start.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.pool.Stop()
		r.queue.Close()
		r.wg.Wait()
	})
}

// Recover fails orphaned running jobs and queues every pending job, oldest
// first.
func (r *Runner) Recover(ctx context.Context) error {
	orphaned, err := r.failOrphans(ctx)
	if err != nil {
		return err
	}

	pending, err := r.store.List(ctx, store.Filter{Status: domain.StatusPending})
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	slices.Reverse(pending)

	requeued := 0
	for _, job := range pending {
		if err := r.Submit(ctx, job.ID); err != nil {
			r.logger.Warn("pending job left for the stuck job monitor",
				"job_id", job.ID,
				"error", err)
			break
		}
		requeued++
	}
	metrics.IncJobsRecovered("requeued", requeued)

	r.logger.Info("recovered unfinished jobs",
		"orphaned_count", orphaned,
		"requeued_count", requeued,
		"pending_count", len(pending))
	return nil
}

// failOrphans moves running jobs not updated within OrphanAfter to error.
// Younger running jobs may belong to another process and are left alone.
func (r *Runner) failOrphans(ctx context.Context) (int, error) {
	running, err := r.store.List(ctx, store.Filter{Status: domain.StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	cutoff := r.now().Add(-r.config.OrphanAfter)
	failed := 0
	for _, job := range running {
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		saved, err := r.store.Update(ctx, job.ID, domain.Failed(orphanMessage))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || store.IsNotFoundError(err) {
				continue
			}
			r.logger.Error("failed to mark orphaned job",
				"job_id", job.ID,
				"error", redact.Error(err))
			continue
		}
		r.logger.Warn("orphaned job marked as failed",
			"job_id", job.ID,
			"last_update", job.UpdatedAt)
		r.emit(ctx, events.EventJobFailed, saved)
		metrics.ObserveJobFinished(string(saved.Kind), string(saved.Status), time.Since(startOf(job)))
		failed++
	}
	metrics.IncJobsRecovered("orphaned", failed)
	return failed, nil
}

// requeueStale queues pending jobs that have waited longer than OrphanAfter,
// which covers jobs a full queue turned away during Recover. A job queued
// twice is claimed once.
func (r *Runner) requeueStale(ctx context.Context) int {
	pending, err := r.store.List(ctx, store.Filter{Status: domain.StatusPending})
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", redact.Error(err))
		return 0
	}
	slices.Reverse(pending)

	cutoff := r.now().Add(-r.config.OrphanAfter)
	requeued := 0
	for _, job := range pending {
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := r.Submit(ctx, job.ID); err != nil {
			break
		}
		requeued++
	}
	metrics.IncJobsRecovered("requeued", requeued)
	return requeued
}

// stuckJobMonitor periodically fails running jobs that crossed the orphan
// threshold and re-queues stale pending ones.
func (r *Runner) stuckJobMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			failed, err := r.failOrphans(r.ctx)
			if err != nil {
				r.logger.Error("failed to check for stuck jobs", "error", redact.Error(err))
			}
			if requeued := r.requeueStale(r.ctx); failed > 0 || requeued > 0 {
				r.logger.Info("stuck job check", "failed_count", failed, "requeued_count", requeued)
			}
		}
	}
}

// process runs one job to a terminal status. It returns an error only when
// the store could not record the outcome.
func (r *Runner) process(ctx context.Context, id uuid.UUID) error {
	metrics.SetQueueDepth(r.queue.Len())
	logger := r.logger.With("job_id", id)

	// Leave the job pending for recovery rather than claim it during shutdown.
	if ctx.Err() != nil {
		logger.Debug("runner stopping, job left pending")
		return nil
	}

	job, err := r.store.Update(ctx, id, domain.Running(ProgressClaimed))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || store.IsNotFoundError(err) {
			logger.Debug("job already claimed or removed, skipping", "reason", err.Error())
			return nil
		}
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	metrics.WorkerBusy()
	defer metrics.WorkerIdle()

	logger = logger.With("kind", job.Kind, "model", job.Params.Model)
	logger.Info("processing job")
	r.emit(ctx, events.EventJobStarted, job)

	outcome := r.execute(ctx, job, logger)

	// The outcome is recorded even when shutdown cancelled ctx.
	persistCtx := context.WithoutCancel(ctx)
	saved, err := r.store.Update(persistCtx, id, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || store.IsNotFoundError(err) {
			logger.Warn("job outcome discarded", "reason", err.Error())
			return nil
		}
		return fmt.Errorf("failed to record outcome of job %s: %w", id, err)
	}

	if saved.Status == domain.StatusError {
		logger.Warn("job failed", "error", redact.String(saved.Error))
	} else {
		logger.Info("job completed")
	}
	r.emit(persistCtx, events.TypeFor(saved), saved)
	metrics.ObserveJobFinished(string(saved.Kind), string(saved.Status), time.Since(startOf(job)))
	return nil
}

// execute stages inputs and calls the generator, returning the terminal
// patch. Staged temp files are removed before it returns.
func (r *Runner) execute(ctx context.Context, job *domain.Job, logger *slog.Logger) domain.Patch {
	var input generation.StagedInput
	if job.Kind == domain.KindImageToVideo {
		staged, cleanup, err := r.stager.Stage(job.ID.String(), job.Params.ImageURL)
		defer cleanup()
		if err != nil {
			return domain.Failed(err.Error())
		}
		input = staged
	}

	saved, err := r.store.Update(ctx, job.ID, domain.Progressed(ProgressStaged))
	if err != nil {
		logger.Warn("failed to record progress", "error", redact.Error(err))
	} else {
		r.emit(ctx, events.EventJobProgressed, saved)
	}

	result, err := r.generate(ctx, job, input, logger)
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Completed(result)
}

type generateOutcome struct {
	result domain.Result
	err    error
}

// generate calls the generator in its own goroutine under JobTimeout. When
// the deadline passes or ctx is cancelled the call gets AbandonGrace to
// return; after that the worker moves on and any late result is dropped.
func (r *Runner) generate(
	ctx context.Context,
	job *domain.Job,
	input generation.StagedInput,
	logger *slog.Logger,
) (domain.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	done := make(chan generateOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("generator panicked", "panic", p, "stack", string(debug.Stack()))
				done <- generateOutcome{err: fmt.Errorf("%w: %v", ErrPanic, p)}
			}
		}()
		result, err := generation.Run(callCtx, r.gen, job.Kind, job.Params, input)
		done <- generateOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && callCtx.Err() != nil {
			return domain.Result{}, r.interruption(ctx)
		}
		return out.result, out.err
	case <-callCtx.Done():
	}

	grace := time.NewTimer(r.config.AbandonGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		logger.Warn("abandoning generator call", "grace", r.config.AbandonGrace)
	}
	return domain.Result{}, r.interruption(ctx)
}

// interruption explains why a call was cut short: shutdown when the worker
// context ended, otherwise the job timeout.
func (r *Runner) interruption(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrInterrupted, shutdownMessage)
	}
	return fmt.Errorf("%w: job exceeded %s", ErrTimeout, r.config.JobTimeout)
}

// handleTaskError records a failure that escaped process, such as a panic
// outside the generator call.
func (r *Runner) handleTaskError(t Task, err error) {
	if !errors.Is(err, ErrPanic) {
		return
	}
	ctx := context.Background()
	saved, updateErr := r.store.Update(ctx, t.ID(), domain.Failed(err.Error()))
	if updateErr != nil {
		r.logger.Error("failed to record panicked job",
			"job_id", t.ID(),
			"error", redact.Error(updateErr))
		return
	}
	r.emit(ctx, events.EventJobFailed, saved)
}

func (r *Runner) emit(ctx context.Context, eventType events.EventType, job *domain.Job) {
	if err := r.emitter.EmitEvent(ctx, events.NewJobEvent(eventType, job)); err != nil {
		// A lost terminal event leaves subscribers waiting on the bridge.
		level := slog.LevelWarn
		if eventType.Terminal() {
			level = slog.LevelError
		}
		r.logger.Log(ctx, level, "failed to emit job event",
			"job_id", job.ID,
			"event_type", eventType,
			"error", err)
	}
}

func startOf(job *domain.Job) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.CreatedAt
}
