package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
)

// DocumentVersion is the schema version written to the job file.
const DocumentVersion = 1

// DefaultLockTimeout bounds how long an operation waits for the file lock.
const DefaultLockTimeout = 5 * time.Second

// ErrLockTimeout is wrapped in store.ErrStoreUnavailable when the file lock
// could not be acquired within the configured timeout.
var ErrLockTimeout = errors.New("timed out waiting for job file lock")

// ErrCorruptDocument is wrapped in store.ErrStoreUnavailable when the job
// file cannot be decoded. The file is never rewritten in that state.
var ErrCorruptDocument = errors.New("corrupt job file")

type document struct {
	Version int           `json:"version"`
	Jobs    store.Records `json:"jobs"`
}

// Options configures a JobStore.
type Options struct {
	// Path of the JSON document. Its directory is created if needed.
	Path string
	// MaxRecords is the eviction cap; non-positive means store.DefaultMaxRecords.
	MaxRecords int
	// LockTimeout bounds lock acquisition; non-positive means DefaultLockTimeout.
	LockTimeout time.Duration
}

// JobStore is a store.JobStore persisted as one JSON document.
type JobStore struct {
	path        string
	lockPath    string
	maxRecords  int
	lockTimeout time.Duration

	// mu serializes goroutines of this process; the flock serializes processes.
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

var _ store.JobStore = (*JobStore)(nil)

// New opens (or prepares) the job file described by opts.
func New(opts Options, logger *slog.Logger) (*JobStore, error) {
	if opts.Path == "" {
		return nil, errors.New("filestore: path is required")
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = store.DefaultMaxRecords
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}

	return &JobStore{
		path:        opts.Path,
		lockPath:    opts.Path + ".lock",
		maxRecords:  opts.MaxRecords,
		lockTimeout: opts.LockTimeout,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "filestore"), slog.String("path", opts.Path)),
	}, nil
}

// view runs fn against the current records under a shared lock.
func (s *JobStore) view(ctx context.Context, op string, fn func(store.Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(ctx, s.lockPath, false, s.lockTimeout)
	if err != nil {
		return store.Unavailable(op, err)
	}
	defer s.release(unlock)

	records, err := s.read()
	if err != nil {
		return store.Unavailable(op, err)
	}
	return fn(records)
}

// mutate runs fn under an exclusive lock and persists the records it
// returns. When fn fails nothing is written.
func (s *JobStore) mutate(ctx context.Context, op string, fn func(store.Records) (store.Records, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(ctx, s.lockPath, true, s.lockTimeout)
	if err != nil {
		return store.Unavailable(op, err)
	}
	defer s.release(unlock)

	records, err := s.read()
	if err != nil {
		return store.Unavailable(op, err)
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return store.Unavailable(op, err)
	}
	return nil
}

func (s *JobStore) release(unlock func() error) {
	if err := unlock(); err != nil {
		s.logger.Warn("failed to release job file lock", "error", err)
	}
}

func (s *JobStore) read() (store.Records, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.Records{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	if len(data) == 0 {
		return store.Records{}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("job file is corrupt, leaving it untouched", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCorruptDocument, err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptDocument, doc.Version)
	}
	for i, job := range doc.Jobs {
		if job == nil {
			return nil, fmt.Errorf("%w: null job at index %d", ErrCorruptDocument, i)
		}
	}
	return doc.Jobs, nil
}

// write replaces the document atomically: readers see the old or the new
// file, never a partial one.
func (s *JobStore) write(records store.Records) error {
	if records == nil {
		records = store.Records{}
	}
	data, err := json.MarshalIndent(document{Version: DocumentVersion, Jobs: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// After a successful rename the temp name no longer exists.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace job file: %w", err)
	}
	return nil
}

// Create implements store.JobStore.
func (s *JobStore) Create(
	ctx context.Context,
	kind domain.Kind,
	params domain.Params,
	owner string,
	opts ...store.CreateOption,
) (*domain.Job, error) {
	job, err := store.NewJobRecord(kind, params, owner, opts...)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, "create", func(records store.Records) (store.Records, error) {
		if records.Index(job.ID) >= 0 {
			return nil, fmt.Errorf("%w: job %s", store.ErrDuplicate, job.ID)
		}
		kept, evicted := records.Insert(job).Evict(s.maxRecords)
		for _, e := range evicted {
			s.logger.Debug("evicted job", "job_id", e.ID, "status", e.Status)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job *domain.Job
	err := s.view(ctx, "get", func(records store.Records) error {
		i := records.Index(id)
		if i < 0 {
			return store.ErrJobNotFound
		}
		job = records[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update implements store.JobStore.
func (s *JobStore) Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (*domain.Job, error) {
	var updated *domain.Job
	err := s.mutate(ctx, "update", func(records store.Records) (store.Records, error) {
		i := records.Index(id)
		if i < 0 {
			return nil, store.ErrJobNotFound
		}
		if err := records[i].Apply(patch, s.now()); err != nil {
			return nil, err
		}
		updated = records[i].Clone()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List implements store.JobStore.
func (s *JobStore) List(ctx context.Context, filter store.Filter) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := s.view(ctx, "list", func(records store.Records) error {
		jobs = records.Select(filter)
		return nil
	})
	return jobs, err
}

// Count implements store.JobStore.
func (s *JobStore) Count(ctx context.Context, filter store.Filter) (int, error) {
	var n int
	err := s.view(ctx, "count", func(records store.Records) error {
		n = records.Count(filter)
		return nil
	})
	return n, err
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "delete", func(records store.Records) (store.Records, error) {
		i := records.Index(id)
		if i < 0 {
			return nil, store.ErrJobNotFound
		}
		return records.Remove(i), nil
	})
}

// Clear implements store.JobStore.
func (s *JobStore) Clear(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.mutate(ctx, "clear", func(records store.Records) (store.Records, error) {
		var kept store.Records
		kept, n = records.RemoveOwner(owner)
		return kept, nil
	})
	return n, err
}

// Close implements store.JobStore. Locks are only held during operations,
// so there is nothing to release.
func (s *JobStore) Close() error {
	return nil
}
