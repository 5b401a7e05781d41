package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/types"
)

// EnqueuedJobStore persists one-off and delayed jobs.
type EnqueuedJobStore interface {
	// Insert stores a job and returns its row id. A job whose key is already
	// stored is rejected with ErrDuplicateJob.
	Insert(ctx context.Context, job types.Job) (int64, error)

	// BulkInsert stores a batch, silently skipping keys that already exist.
	BulkInsert(ctx context.Context, jobs []types.Job) error

	FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error)

	RemoveByID(ctx context.Context, jobID int64) error

	// FetchDueJobs pages through jobs in the given statuses scheduled at or before scheduledBefore.
	FetchDueJobs(ctx context.Context, page int, pageSize int, statuses []state.JobStatus, scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error)

	// LockJob claims a queued or retrying job for lockedBy. It reports false
	// when another worker got there first.
	LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error)

	MarkSuccess(ctx context.Context, jobID int64) error

	// MarkFailure records errMsg. A job that used up maxAttempts is marked dead.
	MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error

	// Postpone requeues a claimed job at until without spending an attempt.
	Postpone(ctx context.Context, jobID int64, until time.Time, reason string) error

	// MarkRetryFailedJobs moves failed jobs with attempts left to retrying, one minute out.
	MarkRetryFailedJobs(ctx context.Context) error

	// UnlockStaleJobs requeues jobs left processing for longer than timeout.
	UnlockStaleJobs(ctx context.Context, timeout time.Duration) error

	Close() error
}
