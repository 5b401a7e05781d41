package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/internal/parser"
	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types"
	"github.com/RezaEskandarii/notifire/types/config"
)

// CronJobManager fires recurring triggers. A firing does not run the job
// itself; it enqueues a fresh job under a new key, so every firing starts a
// new run with the queue's retry semantics.
type CronJobManager struct {
	jobStore   store.CronJobStore
	enqueuer   Enqueuer
	jobHandler *config.JobHandler
	instance   string
	jobResults chan types.JobResult
	logger     *slog.Logger
	now        func() time.Time
}

func NewCronJobManager(cronJobStore store.CronJobStore, enqueuer Enqueuer, jobHandler *config.JobHandler, instance string, opts ...Option) *CronJobManager {
	o := newManagerOptions(opts)
	return &CronJobManager{
		jobStore:   cronJobStore,
		enqueuer:   enqueuer,
		jobHandler: jobHandler,
		instance:   instance,
		jobResults: make(chan types.JobResult, 1000),
		logger:     o.logger.With("component", "cron_manager", "instance", instance),
		now:        o.now,
	}
}

func (cm *CronJobManager) Start(ctx context.Context, intervalSeconds, workerCount, batchSize int) error {
	stop := make(chan struct{})
	processed := cm.startResultProcessor(ctx, stop)

	sem := semaphore.NewWeighted(int64(workerCount))
	var wg sync.WaitGroup

	for {
		cm.processCronJobs(ctx, sem, &wg, batchSize)

		select {
		case <-ctx.Done():
			wg.Wait()
			close(stop)
			<-processed
			cm.logger.Info("CronJobManager stopped")
			return ctx.Err()
		case <-time.After(time.Duration(intervalSeconds) * time.Second):
		}
	}
}

func (cm *CronJobManager) processCronJobs(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, batchSize int) {
	cm.logger.DebugContext(ctx, "start to process cron jobs")
	page := 1
	for {
		result, err := cm.jobStore.FetchDueCronJobs(ctx, page, batchSize)
		if err != nil {
			cm.logger.ErrorContext(ctx, "failed to fetch cron jobs", "error", err)
			return
		}

		for _, job := range result.Items {
			ok, err := cm.jobStore.LockJob(ctx, job.ID, cm.instance)
			if err != nil {
				cm.logger.ErrorContext(ctx, "lock cron job error", "cron_id", job.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)

			go func(job types.CronJob) {
				defer sem.Release(1)
				defer wg.Done()
				cm.jobResults <- cm.fire(ctx, job)
			}(job)
		}

		if !result.HasNextPage {
			break
		}
		page++
	}
}

// fire enqueues one job for the trigger. The next run is computed from the
// firing time, so missed activations collapse into a single firing.
func (cm *CronJobManager) fire(ctx context.Context, job types.CronJob) types.JobResult {
	now := cm.now()
	res := types.JobResult{
		JobID:   job.ID,
		RanAt:   now,
		NextRun: parser.CalculateNextRun(job.Expression, now),
	}

	if !cm.jobHandler.Exists(job.Name) {
		res.Err = fmt.Errorf("%w: %s", custom_errors.ErrHandlerNotFound, job.Name)
		res.Status = state.StatusFailed
		return res
	}

	key, err := cm.enqueuer.Enqueue(ctx, job.Name, job.Payload, types.EnqueueOptions{JobID: uuid.NewString()})
	if err != nil {
		res.Err = fmt.Errorf("enqueue %s: %w", job.Name, err)
		res.Status = state.StatusFailed
		return res
	}
	cm.logger.InfoContext(ctx, "recurring trigger fired", "cron_id", job.ID, "job", job.Name, "key", key, "next_run_at", res.NextRun)
	res.Status = state.StatusSucceeded
	return res
}

// startResultProcessor records firing results until stop is closed, then
// drains what is left and closes the returned channel.
func (cm *CronJobManager) startResultProcessor(ctx context.Context, stop <-chan struct{}) <-chan struct{} {
	storeCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case res := <-cm.jobResults:
				cm.applyResult(storeCtx, res)
			case <-stop:
				cm.drainResults(storeCtx)
				return
			}
		}
	}()
	return done
}

func (cm *CronJobManager) drainResults(ctx context.Context) {
	for {
		select {
		case res := <-cm.jobResults:
			cm.applyResult(ctx, res)
		default:
			return
		}
	}
}

func (cm *CronJobManager) applyResult(ctx context.Context, res types.JobResult) {
	switch res.Status {
	case state.StatusSucceeded:
		if err := cm.jobStore.MarkSuccess(ctx, res.JobID); err != nil {
			cm.logger.ErrorContext(ctx, "MarkSuccess error", "cron_id", res.JobID, "error", err)
		}
	case state.StatusFailed:
		cm.logger.ErrorContext(ctx, "recurring trigger failed", "cron_id", res.JobID, "error", res.Err)
		if err := cm.jobStore.MarkFailure(ctx, res.JobID, res.Err.Error()); err != nil {
			cm.logger.ErrorContext(ctx, "MarkFailure error", "cron_id", res.JobID, "error", err)
		}
	default:
		cm.logger.ErrorContext(ctx, "unknown status", "cron_id", res.JobID, "status", res.Status)
	}
	if err := cm.jobStore.UpdateJobRunTimes(ctx, res.JobID, res.RanAt, res.NextRun); err != nil {
		cm.logger.ErrorContext(ctx, "UpdateJobRunTimes error", "cron_id", res.JobID, "error", err)
	}
}
