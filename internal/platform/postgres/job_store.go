package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/platform/logger"
	"github.com/phrazzld/genjob-api/internal/store"
)

// evictionLockKey is the advisory lock that serializes inserts with the
// eviction that follows them.
const evictionLockKey = 0x67656e6a6f62

const jobColumns = `id, kind, status, params, result, error, progress, owner, retry_of,
	created_at, updated_at, started_at, completed_at`

// PostgresJobStore implements store.JobStore using PostgreSQL.
type PostgresJobStore struct {
	db         *sql.DB
	maxRecords int
	now        func() time.Time
	logger     *slog.Logger
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a new PostgresJobStore. The schema must already
// exist; see Migrate.
func NewPostgresJobStore(db *sql.DB, maxRecords int, logger *slog.Logger) *PostgresJobStore {
	if maxRecords <= 0 {
		maxRecords = store.DefaultMaxRecords
	}
	return &PostgresJobStore{
		db:         db,
		maxRecords: maxRecords,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "postgres_job_store")),
	}
}

// Create implements store.JobStore. The insert and the eviction of the
// oldest rows run in one transaction.
func (s *PostgresJobStore) Create(
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
	// Postgres keeps microseconds; truncating keeps the returned record equal to a later Get.
	job.CreatedAt = job.CreatedAt.Truncate(time.Microsecond)
	job.UpdatedAt = job.CreatedAt

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	err = store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(evictionLockKey)); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, kind, status, params, error, progress, owner, retry_of, created_at, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, '', $5, $6, $7, $8, $9)`,
			job.ID, job.Kind, job.Status, string(paramsJSON), job.Progress, job.Owner,
			nullUUID(job.RetryOf), job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return err
		}

		return s.evict(ctx, tx)
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to create job",
			"job_id", job.ID,
			"kind", job.Kind,
			"error", err)
		return nil, MapError(err)
	}
	return job, nil
}

// Get implements store.JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := loadJob(ctx, s.db, id, false)
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

// Update implements store.JobStore. The row is locked with SELECT ... FOR
// UPDATE so concurrent patches to the same job are applied one at a time.
func (s *PostgresJobStore) Update(ctx context.Context, id uuid.UUID, patch domain.Patch) (*domain.Job, error) {
	var updated *domain.Job
	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		job, err := loadJob(ctx, tx, id, true)
		if err != nil {
			return MapError(err)
		}

		if err := job.Apply(patch, s.now().Truncate(time.Microsecond)); err != nil {
			return err
		}

		var resultJSON *string
		if job.Result != nil {
			data, err := json.Marshal(job.Result)
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			str := string(data)
			resultJSON = &str
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, result = $2::jsonb, error = $3, progress = $4,
				updated_at = $5, started_at = $6, completed_at = $7
			WHERE id = $8`,
			job.Status, resultJSON, job.Error, job.Progress,
			job.UpdatedAt, job.StartedAt, job.CompletedAt, job.ID,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(res); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// evict deletes every job beyond the newest maxRecords.
func (s *PostgresJobStore) evict(ctx context.Context, q store.DBTX) error {
	rows, err := q.QueryContext(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs ORDER BY created_at DESC, seq DESC OFFSET $1
		)
		RETURNING id, status`, s.maxRecords)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var status domain.Status
		if err := rows.Scan(&id, &status); err != nil {
			return err
		}
		s.logger.Debug("evicted job", "job_id", id, "status", status)
	}
	return rows.Err()
}

// loadJob reads one job through q, locking its row when forUpdate is set.
func loadJob(ctx context.Context, q store.DBTX, id uuid.UUID, forUpdate bool) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanJob(q.QueryRowContext(ctx, query, id))
}

// where renders the filter predicates as a WHERE clause and its arguments.
func where(filter store.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Owner != "" {
		add("owner = $%d", filter.Owner)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List implements store.JobStore.
func (s *PostgresJobStore) List(ctx context.Context, filter store.Filter) ([]*domain.Job, error) {
	clause, args := where(filter)
	query := `SELECT ` + jobColumns + ` FROM jobs` + clause + ` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return jobs, nil
}

// Count implements store.JobStore.
func (s *PostgresJobStore) Count(ctx context.Context, filter store.Filter) (int, error) {
	clause, args := where(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs`+clause, args...).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// Delete implements store.JobStore.
func (s *PostgresJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res)
}

// Clear implements store.JobStore.
func (s *PostgresJobStore) Clear(ctx context.Context, owner string) (int, error) {
	clause, args := where(store.Filter{Owner: owner})
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`+clause, args...)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements store.JobStore. The *sql.DB is owned by the caller.
func (s *PostgresJobStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		params      []byte
		result      []byte
		retryOf     uuid.NullUUID
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.Kind, &job.Status, &params, &result, &job.Error, &job.Progress, &job.Owner, &retryOf,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of job %s: %w", job.ID, err)
	}
	if result != nil {
		job.Result = &domain.Result{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", job.ID, err)
		}
	}
	if retryOf.Valid {
		id := retryOf.UUID
		job.RetryOf = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
