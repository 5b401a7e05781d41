package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RezaEskandarii/notifire/internal/constants"
	"github.com/RezaEskandarii/notifire/internal/lock"
	"github.com/RezaEskandarii/notifire/internal/message_broaker"
	"github.com/RezaEskandarii/notifire/internal/parser"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types"
	"github.com/RezaEskandarii/notifire/types/config"
)

// Enqueuer adds jobs to the queue. JobManager is the production implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts types.EnqueueOptions) (string, error)
}

type Option func(*managerOptions)

type managerOptions struct {
	logger *slog.Logger
	now    func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithClock replaces time.Now for scheduling decisions.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

func newManagerOptions(opts []Option) managerOptions {
	o := managerOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JobManager is the producer side of the queue: it enqueues one-off jobs and
// maintains recurring triggers.
type JobManager struct {
	EnqueuedJobStore store.EnqueuedJobStore
	CronJobStore     store.CronJobStore
	MBroker          message_broaker.MessageBroker
	JobHandler       *config.JobHandler
	lockManager      lock.DistributedLockManager
	writeJobsToQueue bool
	jobQueueName     string
	logger           *slog.Logger
	now              func() time.Time
}

var _ Enqueuer = (*JobManager)(nil)

func NewJobManager(enqueuedStore store.EnqueuedJobStore, cronStore store.CronJobStore, jobHandler *config.JobHandler, lockManager lock.DistributedLockManager, messageBroker message_broaker.MessageBroker, writeJobsToQueue bool, jobQueueName string, opts ...Option) *JobManager {
	o := newManagerOptions(opts)
	return &JobManager{
		EnqueuedJobStore: enqueuedStore,
		CronJobStore:     cronStore,
		JobHandler:       jobHandler,
		lockManager:      lockManager,
		MBroker:          messageBroker,
		writeJobsToQueue: writeJobsToQueue && messageBroker != nil,
		jobQueueName:     jobQueueName,
		logger:           o.logger,
		now:              o.now,
	}
}

// Enqueue adds a job of jobType and returns its key. With opts.Repeat set it
// installs a recurring trigger instead. Enqueueing a key that is already
// queued is a no-op that returns the same key.
//
// With the queue writer enabled the job is published to the broker and
// stored later by the sync worker.
func (jm *JobManager) Enqueue(ctx context.Context, jobType string, payload []byte, opts types.EnqueueOptions) (string, error) {
	if jobType == "" {
		return "", errors.New("job type is required")
	}
	if opts.Repeat != "" {
		return jm.addRecurring(ctx, jobType, payload, opts)
	}

	job := types.Job{
		Key:         opts.JobID,
		Name:        jobType,
		Payload:     payload,
		ScheduledAt: jm.now().Add(opts.Delay),
		MaxAttempts: opts.MaxAttempts,
	}
	if job.Key == "" {
		job.Key = uuid.NewString()
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = constants.MaxRetryAttempt
	}

	if jm.writeJobsToQueue {
		body, err := json.Marshal(job)
		if err != nil {
			return "", fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jm.MBroker.Publish(ctx, jm.jobQueueName, body); err != nil {
			return "", fmt.Errorf("failed to publish job to broker: %w", err)
		}
		return job.Key, nil
	}

	if _, err := jm.EnqueuedJobStore.Insert(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateJob) {
			jm.logger.InfoContext(ctx, "job already enqueued", "job", jobType, "key", job.Key)
			return job.Key, nil
		}
		return "", err
	}
	jm.logger.DebugContext(ctx, "job enqueued", "job", jobType, "key", job.Key, "scheduled_at", job.ScheduledAt)
	return job.Key, nil
}

func (jm *JobManager) addRecurring(ctx context.Context, jobType string, payload []byte, opts types.EnqueueOptions) (string, error) {
	next, err := parser.NextRun(opts.Repeat, jm.now())
	if err != nil {
		return "", err
	}
	key := opts.JobID
	if key == "" {
		key = uuid.NewString()
	}
	if _, err := jm.CronJobStore.Add(ctx, types.CronJob{
		Key:        key,
		Name:       jobType,
		Payload:    payload,
		NextRunAt:  next,
		Expression: opts.Repeat,
	}); err != nil {
		return "", err
	}
	jm.logger.InfoContext(ctx, "recurring trigger added", "job", jobType, "key", key, "expression", opts.Repeat, "next_run_at", next)
	return key, nil
}

// Schedule adds a recurring trigger for jobType next to any existing ones.
func (jm *JobManager) Schedule(ctx context.Context, jobType, expression string, payload []byte) (string, error) {
	return jm.Enqueue(ctx, jobType, payload, types.EnqueueOptions{Repeat: expression})
}

// ListRecurring returns every recurring trigger registered for jobType.
func (jm *JobManager) ListRecurring(ctx context.Context, jobType string) ([]types.CronJob, error) {
	return jm.CronJobStore.ListByName(ctx, jobType)
}

// RemoveRecurring deletes the recurring trigger identified by key.
func (jm *JobManager) RemoveRecurring(ctx context.Context, key string) error {
	return jm.CronJobStore.RemoveByKey(ctx, key)
}

// InstallRecurring replaces every recurring trigger of jobType with a single
// one firing on expression. Instances serialize on an advisory lock so that
// concurrent startups leave exactly one trigger behind.
func (jm *JobManager) InstallRecurring(ctx context.Context, jobType, expression string, payload []byte) (string, error) {
	if err := parser.Validate(expression); err != nil {
		return "", err
	}
	if err := jm.lockManager.Acquire(ctx, constants.InstallRecurringLock); err != nil {
		return "", fmt.Errorf("install recurring %s: %w", jobType, err)
	}
	defer func() {
		if err := jm.lockManager.Release(context.WithoutCancel(ctx), constants.InstallRecurringLock); err != nil {
			jm.logger.WarnContext(ctx, "failed to release install lock", "error", err)
		}
	}()

	existing, err := jm.ListRecurring(ctx, jobType)
	if err != nil {
		return "", fmt.Errorf("install recurring %s: %w", jobType, err)
	}
	for _, job := range existing {
		if err := jm.RemoveRecurring(ctx, job.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("install recurring %s: remove %s: %w", jobType, job.Key, err)
		}
	}
	return jm.Schedule(ctx, jobType, expression, payload)
}

// RemoveEnqueue deletes a queued job using its ID.
func (jm *JobManager) RemoveEnqueue(ctx context.Context, jobID int64) error {
	return jm.EnqueuedJobStore.RemoveByID(ctx, jobID)
}

// FindEnqueue returns the details of a queued job by its ID.
func (jm *JobManager) FindEnqueue(ctx context.Context, jobID int64) (*types.EnqueuedJob, error) {
	return jm.EnqueuedJobStore.FindByID(ctx, jobID)
}

// ActivateSchedule enables a recurring trigger if it was previously disabled.
func (jm *JobManager) ActivateSchedule(ctx context.Context, jobID int64) error {
	return jm.CronJobStore.Activate(ctx, jobID)
}

// DeActivateSchedule temporarily disables a recurring trigger.
func (jm *JobManager) DeActivateSchedule(ctx context.Context, jobID int64) error {
	return jm.CronJobStore.DeActivate(ctx, jobID)
}

// Close releases every process-wide lock this instance may hold and closes
// the stores and the broker.
func (jm *JobManager) Close(ctx context.Context) error {
	for _, lockID := range constants.Locks {
		if err := jm.lockManager.Release(ctx, lockID); err != nil {
			jm.logger.WarnContext(ctx, "failed to release lock", "lock_id", lockID, "error", err)
		}
	}

	var errs []error
	if jm.MBroker != nil {
		errs = append(errs, jm.MBroker.Close())
	}
	errs = append(errs, jm.CronJobStore.Close(), jm.EnqueuedJobStore.Close())
	return errors.Join(errs...)
}
