package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/metrics"
	"github.com/phrazzld/genjob-api/internal/redact"
	"github.com/phrazzld/genjob-api/internal/store"
)

// Paging bounds for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// busyMessage is recorded on a job the runner could not queue.
const busyMessage = "queue full: server busy, try again later"

// JobRunner queues stored jobs for background execution.
type JobRunner interface {
	// Submit hands a pending job to the workers without blocking
	Submit(ctx context.Context, id uuid.UUID) error
}

// ParamsValidator fills defaults and rejects parameters a model cannot take.
type ParamsValidator interface {
	Normalize(kind domain.Kind, p domain.Params) (domain.Params, error)
}

// ListQuery selects one page of jobs. Zero-valued filters match everything.
type ListQuery struct {
	Owner    string
	Kind     domain.Kind
	Status   domain.Status
	Page     int
	PageSize int
}

// JobPage is one page of jobs, newest first.
type JobPage struct {
	Jobs     []*domain.Job
	Total    int
	Page     int
	PageSize int
}

// JobService provides job-related operations
type JobService interface {
	// Submit validates params, records a pending job owned by owner and
	// queues it. It returns as soon as the job is queued.
	Submit(ctx context.Context, kind domain.Kind, params domain.Params, owner string) (*domain.Job, error)

	// Get retrieves a job by its ID
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// List returns one page of jobs matching the query
	List(ctx context.Context, query ListQuery) (*JobPage, error)

	// Delete removes a job. A running job keeps running but its outcome is
	// discarded.
	Delete(ctx context.Context, id uuid.UUID) error

	// Clear removes every job of owner, or every job when owner is empty
	Clear(ctx context.Context, owner string) (int, error)

	// Retry submits a new job with the parameters of a failed one
	Retry(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	store        store.JobStore
	runner       JobRunner
	validator    ParamsValidator
	eventEmitter events.EventEmitter
	logger       *slog.Logger
}

// NewJobService creates a new JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(
	jobStore store.JobStore,
	runner JobRunner,
	validator ParamsValidator,
	eventEmitter events.EventEmitter,
	logger *slog.Logger,
) (JobService, error) {
	if jobStore == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "jobStore cannot be nil"}
	}
	if runner == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "runner cannot be nil"}
	}
	if validator == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "validator cannot be nil"}
	}
	if eventEmitter == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "eventEmitter cannot be nil"}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		store:        jobStore,
		runner:       runner,
		validator:    validator,
		eventEmitter: eventEmitter,
		logger:       logger.With("component", "job_service"),
	}, nil
}

// Submit implements JobService.
func (s *jobServiceImpl) Submit(
	ctx context.Context,
	kind domain.Kind,
	params domain.Params,
	owner string,
) (*domain.Job, error) {
	return s.submit(ctx, kind, params, owner)
}

func (s *jobServiceImpl) submit(
	ctx context.Context,
	kind domain.Kind,
	params domain.Params,
	owner string,
	opts ...store.CreateOption,
) (*domain.Job, error) {
	// 1. Validate before anything is stored
	normalized, err := s.validator.Normalize(kind, params)
	if err != nil {
		s.logger.Debug("rejected generation request", "kind", kind, "error", err)
		return nil, NewJobServiceError("submit", "invalid parameters", err)
	}

	// 2. Record the pending job
	job, err := s.store.Create(ctx, kind, normalized, owner, opts...)
	if err != nil {
		s.logger.Error("failed to create job",
			"error", redact.Error(err),
			"kind", kind)
		return nil, NewJobServiceError("submit", "failed to save job", err)
	}
	s.emit(ctx, events.EventJobCreated, job)
	metrics.IncJobSubmitted(string(kind))

	// 3. Queue it; a job that cannot be queued fails right away
	if err := s.runner.Submit(ctx, job.ID); err != nil {
		s.logger.Warn("failed to queue job",
			"error", err,
			"job_id", job.ID)
		failed, updateErr := s.store.Update(ctx, job.ID, domain.Failed(busyMessage))
		if updateErr != nil {
			s.logger.Error("failed to mark unqueued job as failed",
				"error", redact.Error(updateErr),
				"job_id", job.ID)
		} else {
			s.emit(ctx, events.EventJobFailed, failed)
			metrics.ObserveJobFinished(string(kind), string(domain.StatusError), 0)
		}
		return nil, errors.Join(ErrServiceBusy, err)
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"kind", kind,
		"model", job.Params.Model,
		"owner", owner)
	return job, nil
}

// Get implements JobService.
func (s *jobServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if !store.IsNotFoundError(err) {
			s.logger.Error("failed to retrieve job",
				"error", redact.Error(err),
				"job_id", id)
		}
		return nil, NewJobServiceError("get", "failed to retrieve job", err)
	}
	return job, nil
}

// List implements JobService.
func (s *jobServiceImpl) List(ctx context.Context, query ListQuery) (*JobPage, error) {
	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	filter := store.Filter{
		Kind:   query.Kind,
		Status: query.Status,
		Owner:  query.Owner,
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		s.logger.Error("failed to count jobs", "error", redact.Error(err))
		return nil, NewJobServiceError("list", "failed to count jobs", err)
	}

	filter.Limit = size
	filter.Offset = (page - 1) * size
	jobs, err := s.store.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", redact.Error(err))
		return nil, NewJobServiceError("list", "failed to list jobs", err)
	}

	return &JobPage{Jobs: jobs, Total: total, Page: page, PageSize: size}, nil
}

// Delete implements JobService.
func (s *jobServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return NewJobServiceError("delete", "failed to delete job", err)
	}
	s.logger.Info("job deleted", "job_id", id)
	return nil
}

// Clear implements JobService.
func (s *jobServiceImpl) Clear(ctx context.Context, owner string) (int, error) {
	n, err := s.store.Clear(ctx, owner)
	if err != nil {
		s.logger.Error("failed to clear jobs", "error", redact.Error(err), "owner", owner)
		return 0, NewJobServiceError("clear", "failed to clear jobs", err)
	}
	s.logger.Info("jobs cleared", "owner", owner, "count", n)
	return n, nil
}

// Retry implements JobService.
func (s *jobServiceImpl) Retry(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != domain.StatusError {
		return nil, ErrNotRetryable
	}
	return s.submit(ctx, prev.Kind, prev.Params, prev.Owner, store.WithRetryOf(prev.ID))
}

func (s *jobServiceImpl) emit(ctx context.Context, eventType events.EventType, job *domain.Job) {
	if err := s.eventEmitter.EmitEvent(ctx, events.NewJobEvent(eventType, job)); err != nil {
		s.logger.Warn("failed to emit job event",
			"error", err,
			"job_id", job.ID,
			"event_type", eventType)
	}
}
