package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types"
)

const cronJobColumns = `id, job_key, name, payload, status, last_error,
		       locked_by, locked_at, created_at,
		       last_run_at, next_run_at, is_active, expression`

// lockTTL is how long a processing trigger stays claimed before
// FetchDueCronJobs offers it again.
const lockTTL = "60 minutes"

type PostgresCronJobStore struct {
	db *sql.DB
}

func NewPostgresCronJobStore(db *sql.DB) *PostgresCronJobStore {
	return &PostgresCronJobStore{db: db}
}

func (r *PostgresCronJobStore) Add(ctx context.Context, job types.CronJob) (int64, error) {
	query := `
		INSERT INTO ` + store.Schema + `.cron_jobs (job_key, name, next_run_at, payload, expression, status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())
		RETURNING id
	`

	var jobID int64
	err := r.db.QueryRowContext(ctx, query,
		job.Key, job.Name, job.NextRunAt, nullablePayload(job.Payload), job.Expression, state.StatusQueued,
	).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cron job %s: %w", job.Name, err)
	}
	return jobID, nil
}

func (r *PostgresCronJobStore) ListByName(ctx context.Context, name string) ([]types.CronJob, error) {
	query := `SELECT ` + cronJobColumns + ` FROM ` + store.Schema + `.cron_jobs WHERE name = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs %s: %w", name, err)
	}
	defer rows.Close()

	var jobs []types.CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *PostgresCronJobStore) RemoveByKey(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+store.Schema+`.cron_jobs WHERE job_key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cron job %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no cron job found with key %s: %w", key, store.ErrNotFound)
	}
	return nil
}

func (r *PostgresCronJobStore) FetchDueCronJobs(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.CronJob], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Triggers left processing longer than lockTTL are due again.
	where := `
		is_active = TRUE
		AND (next_run_at IS NULL OR next_run_at <= now())
		AND (
			status = 'queued'
			OR status = 'retrying'
			OR (status = 'processing' AND locked_at < now() - interval '` + lockTTL + `')
		)
	`

	countQuery := `SELECT COUNT(*) FROM ` + store.Schema + `.cron_jobs WHERE ` + where
	selectQuery := `SELECT ` + cronJobColumns + ` FROM ` + store.Schema + `.cron_jobs WHERE ` + where +
		` ORDER BY next_run_at ASC NULLS FIRST LIMIT $1 OFFSET $2`

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&totalItems); err != nil {
		return nil, fmt.Errorf("count due cron jobs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch due cron jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresCronJobStore) UpdateJobRunTimes(ctx context.Context, jobID int64, lastRunAt, nextRunAt time.Time) error {
	query := `
	UPDATE ` + store.Schema + `.cron_jobs
	SET last_run_at = $1,
	    next_run_at = $2,
	    status = $3,
	    locked_at = NULL,
	    locked_by = NULL,
	    updated_at = now()
	WHERE id = $4;
	`
	_, err := r.db.ExecContext(ctx, query, lastRunAt, nextRunAt, state.StatusQueued, jobID)
	return err
}

func (r *PostgresCronJobStore) MarkSuccess(ctx context.Context, jobID int64) error {
	query := `
	UPDATE ` + store.Schema + `.cron_jobs
	SET status = $1,
	    last_error = NULL
	WHERE id = $2;
	`
	_, err := r.db.ExecContext(ctx, query, state.StatusSucceeded, jobID)
	return err
}

func (r *PostgresCronJobStore) MarkFailure(ctx context.Context, jobID int64, errMsg string) error {
	query := `
	UPDATE ` + store.Schema + `.cron_jobs
	SET status = $1, last_error = $2
	WHERE id = $3;
	`
	_, err := r.db.ExecContext(ctx, query, state.StatusFailed, errMsg, jobID)
	return err
}

func (r *PostgresCronJobStore) LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE `+store.Schema+`.cron_jobs
		SET locked_at = NOW(),
		    locked_by = $1,
		    status = $2
		WHERE id = $3 AND (status = $4 OR status = $5 OR (status = $2 AND locked_at < now() - interval '`+lockTTL+`'))
	`, lockedBy, state.StatusProcessing, jobID, state.StatusQueued, state.StatusRetrying)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresCronJobStore) UnLockJob(ctx context.Context, jobID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE `+store.Schema+`.cron_jobs
        SET locked_at = NULL,
            locked_by = NULL
        WHERE id = $1
    `, jobID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresCronJobStore) Activate(ctx context.Context, jobID int64) error {
	return r.executeChangeActivateQuery(ctx, jobID, true)
}

func (r *PostgresCronJobStore) DeActivate(ctx context.Context, jobID int64) error {
	return r.executeChangeActivateQuery(ctx, jobID, false)
}

func (r *PostgresCronJobStore) executeChangeActivateQuery(ctx context.Context, jobID int64, isActive bool) error {
	query := `
	UPDATE ` + store.Schema + `.cron_jobs
	SET is_active = $1
	WHERE id = $2;
	`
	_, err := r.db.ExecContext(ctx, query, isActive, jobID)
	return err
}

func (r *PostgresCronJobStore) Close() error {
	return r.db.Close()
}

func scanCronJob(row rowScanner) (*types.CronJob, error) {
	var job types.CronJob
	var payload []byte
	if err := row.Scan(
		&job.ID, &job.Key, &job.Name, &payload, &job.Status, &job.LastError,
		&job.LockedBy, &job.LockedAt, &job.CreatedAt,
		&job.LastRunAt, &job.NextRunAt, &job.IsActive, &job.Expression,
	); err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}
