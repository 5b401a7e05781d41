package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types"
)

const enqueuedJobColumns = `id, job_key, name, payload, status, attempts, max_attempts,
		       scheduled_at, executed_at, finished_at, last_error,
		       locked_by, locked_at, created_at`

type PostgresEnqueuedJobStore struct {
	db *sql.DB
}

func NewPostgresEnqueuedJobStore(db *sql.DB) *PostgresEnqueuedJobStore {
	return &PostgresEnqueuedJobStore{db: db}
}

func (r *PostgresEnqueuedJobStore) Insert(ctx context.Context, job types.Job) (int64, error) {
	query := `
        INSERT INTO ` + store.Schema + `.enqueued_jobs (
            job_key,
            name,
            payload,
            scheduled_at,
            max_attempts,
            created_at
        )
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (job_key) DO NOTHING
        RETURNING id
    `

	var jobID int64
	err := r.db.QueryRowContext(ctx, query,
		job.Key,
		job.Name,
		nullablePayload(job.Payload),
		job.ScheduledAt,
		job.MaxAttempts,
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert job %s: %w", job.Key, store.ErrDuplicateJob)
	}
	if err != nil {
		return 0, fmt.Errorf("insert job %s: %w", job.Key, err)
	}
	return jobID, nil
}

func (r *PostgresEnqueuedJobStore) BulkInsert(ctx context.Context, jobs []types.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	values := make([]string, 0, len(jobs))
	args := make([]any, 0, len(jobs)*5)
	for i, job := range jobs {
		n := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, now())", n+1, n+2, n+3, n+4, n+5))
		args = append(args, job.Key, job.Name, nullablePayload(job.Payload), job.ScheduledAt, job.MaxAttempts)
	}

	query := `INSERT INTO ` + store.Schema + `.enqueued_jobs (job_key, name, payload, scheduled_at, max_attempts, created_at) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT (job_key) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bulk insert %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (r *PostgresEnqueuedJobStore) FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
	query := `SELECT ` + enqueuedJobColumns + ` FROM ` + store.Schema + `.enqueued_jobs WHERE id = $1`

	job, err := scanEnqueuedJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job with ID %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job with ID %d: %w", id, err)
	}
	return job, nil
}

func (r *PostgresEnqueuedJobStore) RemoveByID(ctx context.Context, jobID int64) error {
	query := `DELETE FROM ` + store.Schema + `.enqueued_jobs WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %d: %w", jobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no job found with id %d: %w", jobID, store.ErrNotFound)
	}
	return nil
}

func (r *PostgresEnqueuedJobStore) FetchDueJobs(
	ctx context.Context,
	page int,
	pageSize int,
	statuses []state.JobStatus,
	scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "1=1"
	var args []any
	argIndex := 1

	if scheduledBefore != nil {
		where += fmt.Sprintf(" AND scheduled_at <= $%d", argIndex)
		args = append(args, *scheduledBefore)
		argIndex++
	}

	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, s := range statuses {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argIndex))
			args = append(args, s)
			argIndex++
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	countQuery := `SELECT COUNT(*) FROM ` + store.Schema + `.enqueued_jobs WHERE ` + where
	selectQuery := `SELECT ` + enqueuedJobColumns + ` FROM ` + store.Schema + `.enqueued_jobs WHERE ` + where +
		fmt.Sprintf(" ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, fmt.Errorf("count due jobs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.EnqueuedJob
	for rows.Next() {
		job, err := scanEnqueuedJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresEnqueuedJobStore) MarkRetryFailedJobs(ctx context.Context) error {
	query := `
		UPDATE ` + store.Schema + `.enqueued_jobs
		SET
			status = $1,
			scheduled_at = NOW() + INTERVAL '1 minute'
		WHERE status = $2
		  AND attempts < max_attempts
	`
	_, err := r.db.ExecContext(ctx, query, state.StatusRetrying, state.StatusFailed)
	return err
}

func (r *PostgresEnqueuedJobStore) LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE `+store.Schema+`.enqueued_jobs
		SET locked_at = NOW(),
		    executed_at = NOW(),
		    locked_by = $1,
		    status = $2
		WHERE id = $3 AND (status = $4 OR status = $5)
	`, lockedBy, state.StatusProcessing, jobID, state.StatusQueued, state.StatusRetrying)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresEnqueuedJobStore) MarkSuccess(ctx context.Context, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE `+store.Schema+`.enqueued_jobs
		SET status = $2,
		    finished_at = NOW(),
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1
	`, jobID, state.StatusSucceeded)
	return err
}

func (r *PostgresEnqueuedJobStore) MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error {
	status := state.StatusFailed
	if attempts >= maxAttempts {
		status = state.StatusDead
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE `+store.Schema+`.enqueued_jobs
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = $3,
		    finished_at = NOW(),
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1
	`, jobID, errMsg, status)
	return err
}

// Postpone requeues a job still being processed without spending an attempt.
// A job that already reached a final state is left alone.
func (r *PostgresEnqueuedJobStore) Postpone(ctx context.Context, jobID int64, until time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE `+store.Schema+`.enqueued_jobs
		SET status = $2,
		    scheduled_at = $3,
		    last_error = $4,
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1 AND status = $5
	`, jobID, state.StatusQueued, until, reason, state.StatusProcessing)
	return err
}

func (r *PostgresEnqueuedJobStore) UnlockStaleJobs(ctx context.Context, timeout time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE `+store.Schema+`.enqueued_jobs
        SET status = $1,
            locked_by = NULL,
            locked_at = NULL
        WHERE status = $2 AND locked_at <= NOW() - ($3 * INTERVAL '1 second')
    `, state.StatusQueued, state.StatusProcessing, int64(timeout/time.Second))
	return err
}

func (r *PostgresEnqueuedJobStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnqueuedJob(row rowScanner) (*types.EnqueuedJob, error) {
	var job types.EnqueuedJob
	// payload is nullable; json.RawMessage has no NULL scan support.
	var payload []byte
	if err := row.Scan(
		&job.ID,
		&job.Key,
		&job.Name,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&job.ExecutedAt,
		&job.FinishedAt,
		&job.LastError,
		&job.LockedBy,
		&job.LockedAt,
		&job.CreatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}

func nullablePayload(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}
