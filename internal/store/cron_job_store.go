package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/notifire/types"
)

// CronJobStore persists recurring triggers.
type CronJobStore interface {
	// Add inserts a recurring trigger and returns its row id.
	Add(ctx context.Context, job types.CronJob) (int64, error)

	// ListByName returns every trigger registered for a job type.
	ListByName(ctx context.Context, name string) ([]types.CronJob, error)

	// RemoveByKey deletes a trigger. ErrNotFound when no trigger has key.
	RemoveByKey(ctx context.Context, key string) error

	// FetchDueCronJobs fetches active triggers whose NextRunAt <= now.
	FetchDueCronJobs(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.CronJob], error)

	LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error)

	UnLockJob(ctx context.Context, jobID int64) (bool, error)

	// UpdateJobRunTimes records a firing and requeues the trigger for nextRunAt.
	UpdateJobRunTimes(ctx context.Context, jobID int64, lastRunAt, nextRunAt time.Time) error

	MarkSuccess(ctx context.Context, jobID int64) error

	MarkFailure(ctx context.Context, jobID int64, errMsg string) error

	Activate(ctx context.Context, jobID int64) error

	DeActivate(ctx context.Context, jobID int64) error

	Close() error
}
