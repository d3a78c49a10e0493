package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries per operation.
const maxTxRetries = 64

// JobStore is a store.JobStore backed by Redis.
type JobStore struct {
	rdb        *redis.Client
	prefix     string
	maxRecords int
	now        func() time.Time
	logger     *slog.Logger
}

var _ store.JobStore = (*JobStore)(nil)

// New wraps rdb. Keys are namespaced by prefix so several deployments can
// share a database. Close closes rdb.
func New(rdb *redis.Client, prefix string, maxRecords int, logger *slog.Logger) *JobStore {
	if maxRecords <= 0 {
		maxRecords = store.DefaultMaxRecords
	}
	if prefix == "" {
		prefix = "genjob"
	}
	return &JobStore{
		rdb:        rdb,
		prefix:     prefix,
		maxRecords: maxRecords,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "redis_job_store")),
	}
}

func (s *JobStore) indexKey() string {
	return s.prefix + ":jobs"
}

func (s *JobStore) jobKey(id string) string {
	return s.prefix + ":job:" + id
}

// watch runs fn in a WATCH transaction on keys, retrying when another client
// modified them first.
func (s *JobStore) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Millisecond):
		}
	}
	return store.Unavailable(op, fmt.Errorf("%w: too much contention on %v", store.ErrTransactionFailed, keys))
}

// mapErr passes store and domain errors through and reports everything
// else as the backend being unavailable.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidPatch),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return store.Unavailable(op, err)
	}
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
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	id := job.ID.String()
	index := s.indexKey()
	var evicted []string

	err = s.watch(ctx, "create", func(tx *redis.Tx) error {
		count, err := tx.ZCard(ctx, index).Result()
		if err != nil {
			return err
		}
		evicted = nil
		if over := count + 1 - int64(s.maxRecords); over > 0 {
			evicted, err = tx.ZRange(ctx, index, 0, over-1).Result()
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, s.jobKey(id), data, 0)
			pipe.ZAdd(ctx, index, redis.Z{Score: float64(job.CreatedAt.UnixMicro()), Member: id})
			for _, old := range evicted {
				pipe.Del(ctx, s.jobKey(old))
				pipe.ZRem(ctx, index, old)
			}
			return nil
		})
		return err
	}, index)
	if err != nil {
		return nil, mapErr("create", err)
	}

	for _, old := range evicted {
		s.logger.Debug("evicted job", "job_id", old)
	}
	return job, nil
}

func (s *JobStore) get(ctx context.Context, c redis.Cmdable, id string) (*domain.Job, error) {
	data, err := c.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.get(ctx, s.rdb, id.String())
	if err != nil {
		return nil, mapErr("get", err)
	}
	return job, nil
}

// Update implements store.JobStore.
func (s *JobStore) Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (*domain.Job, error) {
	key := s.jobKey(id.String())
	var updated *domain.Job

	err := s.watch(ctx, "update", func(tx *redis.Tx) error {
		job, err := s.get(ctx, tx, id.String())
		if err != nil {
			return err
		}
		if err := job.Apply(patch, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetXX(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}, key)
	if err != nil {
		return nil, mapErr("update", err)
	}
	return updated, nil
}

// all loads every indexed job, newest first. Ids whose value vanished
// between the two reads are skipped.
func (s *JobStore) all(ctx context.Context) ([]*domain.Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(str), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// List implements store.JobStore.
func (s *JobStore) List(ctx context.Context, filter store.Filter) ([]*domain.Job, error) {
	jobs, err := s.all(ctx)
	if err != nil {
		return nil, mapErr("list", err)
	}
	matched := jobs[:0]
	for _, job := range jobs {
		if filter.Matches(job) {
			matched = append(matched, job)
		}
	}
	return filter.Page(matched), nil
}

// Count implements store.JobStore.
func (s *JobStore) Count(ctx context.Context, filter store.Filter) (int, error) {
	if filter.Kind == "" && filter.Status == "" && filter.Owner == "" {
		n, err := s.rdb.ZCard(ctx, s.indexKey()).Result()
		return int(n), mapErr("count", err)
	}
	jobs, err := s.all(ctx)
	if err != nil {
		return 0, mapErr("count", err)
	}
	n := 0
	for _, job := range jobs {
		if filter.Matches(job) {
			n++
		}
	}
	return n, nil
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.jobKey(id.String()))
		pipe.ZRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return mapErr("delete", err)
	}
	if del.Val() == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

// Clear implements store.JobStore.
func (s *JobStore) Clear(ctx context.Context, owner string) (int, error) {
	jobs, err := s.all(ctx)
	if err != nil {
		return 0, mapErr("clear", err)
	}

	var ids []string
	for _, job := range jobs {
		if owner == "" || job.Owner == owner {
			ids = append(ids, job.ID.String())
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, 0, len(ids))
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			dels = append(dels, pipe.Del(ctx, s.jobKey(id)))
			pipe.ZRem(ctx, s.indexKey(), id)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("clear", err)
	}

	n := 0
	for _, del := range dels {
		n += int(del.Val())
	}
	return n, nil
}

// Close implements store.JobStore.
func (s *JobStore) Close() error {
	return s.rdb.Close()
}
