package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/internal/constants"
	"github.com/RezaEskandarii/notifire/internal/lock"
	"github.com/RezaEskandarii/notifire/internal/message_broaker"
	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types"
	"github.com/RezaEskandarii/notifire/types/config"
)

const (
	// DefaultStaleJobTimeout is how long a job may stay processing before it
	// is requeued. It matches the default run lease TTL.
	DefaultStaleJobTimeout = 5 * time.Minute
	// DefaultLeaseBackoff postpones a job whose run lease is held elsewhere.
	DefaultLeaseBackoff = 30 * time.Second

	retryInterval = 5 * time.Second
	syncBatchSize = 1000
	syncInterval  = 20 * time.Second
)

// EnqueueJobsManager is the consumer side of the queue: it claims due jobs,
// runs their handlers on a bounded worker pool and records the outcome.
type EnqueueJobsManager struct {
	store        store.EnqueuedJobStore
	instance     string
	lock         lock.DistributedLockManager
	jobHandler   *config.JobHandler
	jobResults   chan types.JobResult
	mBroker      message_broaker.MessageBroker
	logger       *slog.Logger
	now          func() time.Time
	leaseBackoff time.Duration
	staleTimeout time.Duration
}

func NewEnqueueScheduler(jobStore store.EnqueuedJobStore, lock lock.DistributedLockManager, jobHandler *config.JobHandler, messageBroker message_broaker.MessageBroker, instance string, opts ...Option) *EnqueueJobsManager {
	o := newManagerOptions(opts)
	return &EnqueueJobsManager{
		store:        jobStore,
		instance:     instance,
		lock:         lock,
		jobHandler:   jobHandler,
		jobResults:   make(chan types.JobResult, 1000),
		mBroker:      messageBroker,
		logger:       o.logger.With("component", "enqueue_manager", "instance", instance),
		now:          o.now,
		leaseBackoff: DefaultLeaseBackoff,
		staleTimeout: DefaultStaleJobTimeout,
	}
}

// MarkRetryFailedJobs periodically moves failed jobs with attempts left back
// to retrying and requeues jobs whose worker died while processing them.
// Each step runs on one instance at a time, under its own advisory lock.
func (em *EnqueueJobsManager) MarkRetryFailedJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			em.retryFailedJobs(ctx)
			em.unlockStaleJobs(ctx)
		}
	}
}

func (em *EnqueueJobsManager) retryFailedJobs(ctx context.Context) {
	em.withLock(ctx, constants.RetryLock, func() {
		if err := em.store.MarkRetryFailedJobs(ctx); err != nil {
			em.logger.ErrorContext(ctx, "MarkRetryFailedJobs error", "error", err)
		}
	})
}

// unlockStaleJobs requeues processing jobs claimed longer than the stale
// timeout ago, so a job held by a crashed worker is picked up again without
// waiting for a restart.
func (em *EnqueueJobsManager) unlockStaleJobs(ctx context.Context) {
	em.withLock(ctx, constants.StaleUnlockLock, func() {
		if err := em.store.UnlockStaleJobs(ctx, em.staleTimeout); err != nil {
			em.logger.ErrorContext(ctx, "UnlockStaleJobs error", "error", err)
		}
	})
}

func (em *EnqueueJobsManager) withLock(ctx context.Context, lockID int, fn func()) {
	if err := em.lock.Acquire(ctx, lockID); err != nil {
		em.logger.WarnContext(ctx, "maintenance lock unavailable", "lock_id", lockID, "error", err)
		return
	}
	fn()
	if err := em.lock.Release(context.WithoutCancel(ctx), lockID); err != nil {
		em.logger.WarnContext(ctx, "release maintenance lock error", "lock_id", lockID, "error", err)
	}
}

// Start polls for due jobs every interval seconds until ctx is cancelled,
// then waits for running handlers and records their results.
func (em *EnqueueJobsManager) Start(ctx context.Context, interval, workerCount, batchSize int) error {
	if err := em.store.UnlockStaleJobs(ctx, em.staleTimeout); err != nil {
		return fmt.Errorf("unlock stale jobs: %w", err)
	}

	stop := make(chan struct{})
	processed := em.startResultProcessor(ctx, stop)
	go em.MarkRetryFailedJobs(ctx, retryInterval)

	sem := semaphore.NewWeighted(int64(workerCount))
	var wg sync.WaitGroup

	for {
		em.processDueJobs(ctx, sem, &wg, batchSize)

		select {
		case <-ctx.Done():
			wg.Wait()
			close(stop)
			<-processed
			em.logger.Info("enqueue manager stopped")
			return ctx.Err()
		case <-time.After(time.Duration(interval) * time.Second):
		}
	}
}

// ExecuteJobManually runs a stored job right away, bypassing its schedule.
func (em *EnqueueJobsManager) ExecuteJobManually(ctx context.Context, jobID int64) error {
	job, err := em.store.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job not found: %w", err)
	}

	if !em.jobHandler.Exists(job.Name) {
		return fmt.Errorf("%w: %s", custom_errors.ErrHandlerNotFound, job.Name)
	}

	em.applyResult(ctx, em.execute(ctx, *job))
	return nil
}

// startResultProcessor records results until stop is closed, then drains
// what is left. The returned channel is closed once it has returned. It keeps
// receiving after ctx is cancelled so that in-flight handlers never block on
// a full results channel during shutdown.
func (em *EnqueueJobsManager) startResultProcessor(ctx context.Context, stop <-chan struct{}) <-chan struct{} {
	storeCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case res := <-em.jobResults:
				em.applyResult(storeCtx, res)
			case <-stop:
				em.drainResults(storeCtx)
				return
			}
		}
	}()
	return done
}

func (em *EnqueueJobsManager) drainResults(ctx context.Context) {
	for {
		select {
		case res := <-em.jobResults:
			em.applyResult(ctx, res)
		default:
			return
		}
	}
}

func (em *EnqueueJobsManager) applyResult(ctx context.Context, res types.JobResult) {
	switch res.Status {
	case state.StatusSucceeded:
		if state.IsValidTransition(state.StatusProcessing, state.StatusSucceeded) {
			if err := em.store.MarkSuccess(ctx, res.JobID); err != nil {
				em.logger.ErrorContext(ctx, "MarkSuccess error", "job_id", res.JobID, "error", err)
			}
		}
	case state.StatusFailed:
		if state.IsValidTransition(state.StatusProcessing, state.StatusFailed) {
			if err := em.store.MarkFailure(ctx, res.JobID, res.Err.Error(), res.Attempts, res.MaxAttempts); err != nil {
				em.logger.ErrorContext(ctx, "MarkFailure error", "job_id", res.JobID, "error", err)
			}
		}
	case state.StatusQueued:
		if err := em.store.Postpone(ctx, res.JobID, res.NextRun, res.Err.Error()); err != nil {
			em.logger.ErrorContext(ctx, "Postpone error", "job_id", res.JobID, "error", err)
		}
	default:
		em.logger.ErrorContext(ctx, "unknown job status", "job_id", res.JobID, "status", res.Status)
	}
}

func (em *EnqueueJobsManager) processDueJobs(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, batchSize int) {
	em.logger.DebugContext(ctx, "start to process enqueued jobs")
	now := em.now()
	statuses := []state.JobStatus{state.StatusQueued, state.StatusRetrying}
	jobsList, err := em.store.FetchDueJobs(ctx, 1, batchSize, statuses, &now)
	if err != nil {
		em.logger.ErrorContext(ctx, "fetch due jobs error", "error", err)
		return
	}

	for _, job := range jobsList.Items {
		ok, err := em.store.LockJob(ctx, job.ID, em.instance)
		if err != nil {
			em.logger.ErrorContext(ctx, "lock job error", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// ctx is done; the claimed job is requeued by the next stale unlock.
			break
		}
		wg.Add(1)

		go em.handleJob(ctx, sem, wg, job)
	}
}

func (em *EnqueueJobsManager) handleJob(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, job types.EnqueuedJob) {
	defer func() {
		sem.Release(1)
		wg.Done()
	}()
	em.jobResults <- em.execute(ctx, job)
}

// execute runs the job's handler and turns the outcome into a result. A
// handler that finds its run lease held is postponed instead of failed.
func (em *EnqueueJobsManager) execute(ctx context.Context, job types.EnqueuedJob) (res types.JobResult) {
	res = types.JobResult{
		JobID:       job.ID,
		Attempts:    job.Attempts + 1,
		MaxAttempts: job.MaxAttempts,
		RanAt:       em.now(),
	}
	log := em.logger.With("job_id", job.ID, "job", job.Name, "key", job.Key)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic in job", "panic", r)
			res.Err = fmt.Errorf("panic: %v", r)
			res.Status = state.StatusFailed
		}
	}()

	err := em.jobHandler.Execute(ctx, job)
	switch {
	case err == nil:
		res.Status = state.StatusSucceeded
	case errors.Is(err, custom_errors.ErrLeaseHeld):
		log.InfoContext(ctx, "job postponed", "error", err, "backoff", em.leaseBackoff)
		res.Err = err
		res.Status = state.StatusQueued
		res.NextRun = res.RanAt.Add(em.leaseBackoff)
	default:
		log.ErrorContext(ctx, "job failed", "attempt", res.Attempts, "max_attempts", res.MaxAttempts, "error", err)
		res.Err = err
		res.Status = state.StatusFailed
	}
	return res
}

// StartQueueAndStorageSyncWorker drains jobs published to the broker into the
// store in batches. It is a no-op unless useQueue is set.
func (em *EnqueueJobsManager) StartQueueAndStorageSyncWorker(ctx context.Context, queue string, useQueue bool) error {
	if !useQueue {
		return nil
	}
	if em.mBroker == nil {
		return errors.New("queue writer enabled without a message broker")
	}

	msgCh, err := em.mBroker.Consume(ctx, queue)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	em.logger.Info("start to sync published jobs with database", "queue", queue)

	go em.syncPublishedJobs(ctx, msgCh)
	return nil
}

func (em *EnqueueJobsManager) syncPublishedJobs(ctx context.Context, msgCh <-chan []byte) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	storeCtx := context.WithoutCancel(ctx)
	var jobsBatch []types.Job

	flushBatch := func() {
		if len(jobsBatch) == 0 {
			return
		}
		if err := em.store.BulkInsert(storeCtx, jobsBatch); err != nil {
			em.logger.Error("failed to insert batch jobs", "count", len(jobsBatch), "error", err)
		} else {
			em.logger.Info("inserted jobs in batch", "count", len(jobsBatch))
		}
		jobsBatch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushBatch()
			return

		case msg, ok := <-msgCh:
			if !ok {
				em.logger.Warn("message channel closed")
				flushBatch()
				return
			}

			var job types.Job
			if err := json.Unmarshal(msg, &job); err != nil {
				em.logger.Error("failed to unmarshal job", "error", err)
				continue
			}

			jobsBatch = append(jobsBatch, job)
			if len(jobsBatch) >= syncBatchSize {
				flushBatch()
			}

		case <-ticker.C:
			flushBatch()
		}
	}
}
