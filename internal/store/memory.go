package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. It is the default backend and
// the reference behaviour for the others.
type MemoryJobStore struct {
	mu         sync.RWMutex
	records    Records
	maxRecords int
	now        func() time.Time
	logger     *slog.Logger
}

var _ JobStore = (*MemoryJobStore)(nil)

// NewMemoryJobStore creates an empty store that keeps at most maxRecords
// jobs. A non-positive maxRecords uses DefaultMaxRecords.
func NewMemoryJobStore(maxRecords int, logger *slog.Logger) *MemoryJobStore {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &MemoryJobStore{
		maxRecords: maxRecords,
		now:        time.Now,
		logger:     logger,
	}
}

// Create implements JobStore.
func (s *MemoryJobStore) Create(
	ctx context.Context,
	kind domain.Kind,
	params domain.Params,
	owner string,
	opts ...CreateOption,
) (*domain.Job, error) {
	job, err := NewJobRecord(kind, params, owner, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records.Index(job.ID) >= 0 {
		return nil, fmt.Errorf("%w: job %s", ErrDuplicate, job.ID)
	}

	var evicted []*domain.Job
	s.records, evicted = s.records.Insert(job).Evict(s.maxRecords)
	for _, e := range evicted {
		s.logger.Debug("evicted job", "job_id", e.ID, "status", e.Status)
	}

	return job.Clone(), nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.records.Index(id)
	if i < 0 {
		return nil, ErrJobNotFound
	}
	return s.records[i].Clone(), nil
}

// Update implements JobStore. The patch is applied to a copy so a rejected
// patch never leaves the stored record half-modified.
func (s *MemoryJobStore) Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.records.Index(id)
	if i < 0 {
		return nil, ErrJobNotFound
	}

	next := s.records[i].Clone()
	if err := next.Apply(patch, s.now()); err != nil {
		return nil, err
	}
	s.records[i] = next
	return next.Clone(), nil
}

// List implements JobStore.
func (s *MemoryJobStore) List(ctx context.Context, filter Filter) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Select(filter), nil
}

// Count implements JobStore.
func (s *MemoryJobStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Count(filter), nil
}

// Delete implements JobStore.
func (s *MemoryJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.records.Index(id)
	if i < 0 {
		return ErrJobNotFound
	}
	s.records = s.records.Remove(i)
	return nil
}

// Clear implements JobStore.
func (s *MemoryJobStore) Clear(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	s.records, n = s.records.RemoveOwner(owner)
	return n, nil
}

// Close implements JobStore.
func (s *MemoryJobStore) Close() error {
	return nil
}
