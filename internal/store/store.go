package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// DefaultMaxRecords is the eviction cap applied when a backend is created
// without an explicit limit.
const DefaultMaxRecords = 50

// Filter narrows a List or Count query. Zero-valued fields match everything.
type Filter struct {
	Kind   domain.Kind
	Status domain.Status
	Owner  string
	// Limit caps the number of returned records; 0 means no limit.
	Limit int
	// Offset skips this many matching records, newest first.
	Offset int
}

// Matches reports whether the job satisfies the filter's predicates.
// Limit and Offset are ignored.
func (f Filter) Matches(j *domain.Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Owner != "" && j.Owner != f.Owner {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered, newest-first slice.
func (f Filter) Page(jobs []*domain.Job) []*domain.Job {
	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return []*domain.Job{}
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs
}

// JobStore is the single source of truth for job records. Implementations
// must be safe for concurrent use: mutations are serialized and readers never
// observe a partially written record. Returned jobs are copies.
type JobStore interface {
	// Create inserts a new pending job and returns it. The id is freshly
	// allocated and never collides with an existing one. If the store holds
	// more than its cap afterwards, the oldest records are evicted.
	Create(ctx context.Context, kind domain.Kind, params domain.Params, owner string, opts ...CreateOption) (*domain.Job, error)

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Update atomically merges the patch into the job through domain.Job.Apply
	// and returns the new state. It returns ErrJobNotFound when the id is
	// absent and a domain transition error when the patch is illegal.
	Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (*domain.Job, error)

	// List returns the matching jobs, newest first by creation time.
	List(ctx context.Context, filter Filter) ([]*domain.Job, error)

	// Count returns how many jobs match the filter, ignoring Limit/Offset.
	Count(ctx context.Context, filter Filter) (int, error)

	// Delete removes one job. It returns ErrJobNotFound when absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// Clear removes every job belonging to owner, or every job when owner
	// is empty, and reports how many were removed.
	Clear(ctx context.Context, owner string) (int, error)

	// Close releases the resources held by the store.
	Close() error
}

// CreateOptions carries optional attributes for Create.
type CreateOptions struct {
	RetryOf *uuid.UUID
	Now     time.Time
}

// CreateOption customizes a Create call.
type CreateOption func(*CreateOptions)

// WithRetryOf marks the new job as a retry of a failed one.
func WithRetryOf(id uuid.UUID) CreateOption {
	return func(o *CreateOptions) {
		o.RetryOf = &id
	}
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) CreateOption {
	return func(o *CreateOptions) {
		o.Now = t
	}
}

// NewJobRecord builds the record a backend should insert for a Create call.
func NewJobRecord(kind domain.Kind, params domain.Params, owner string, opts ...CreateOption) (*domain.Job, error) {
	o := CreateOptions{Now: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	job, err := domain.NewJob(kind, params, owner, o.Now)
	if err != nil {
		return nil, NewStoreError("job", "create", "invalid job", fmt.Errorf("%w: %w", ErrInvalidEntity, err))
	}
	job.RetryOf = o.RetryOf
	return job, nil
}
