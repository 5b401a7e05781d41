package jobmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RezaEskandarii/notifire/app"
	"github.com/RezaEskandarii/notifire/internal/db"
	"github.com/RezaEskandarii/notifire/internal/engine"
	"github.com/RezaEskandarii/notifire/internal/greeter"
	"github.com/RezaEskandarii/notifire/types"
)

// Run boots a worker instance on top of an initialized container and blocks
// until ctx is cancelled or a worker fails.
//
// The function performs the following steps:
//  1. Runs the schema migrations (serialized by an advisory lock).
//  2. Installs the greeter's recurring trigger, replacing older ones.
//  3. Starts the broker sync worker when the queue writer is enabled.
//  4. Starts the enqueued job workers and the recurring trigger evaluator.
//
// Run does not close the container; the caller owns it.
func Run(ctx context.Context, c *app.Container) error {
	cfg := c.Config
	c.Logger.Info("starting notifire worker", "instance", cfg.Instance, "gomaxprocs", runtime.GOMAXPROCS(0), "handlers", c.JobHandler.List())

	if err := db.Init(ctx, c.DB, c.LockManager, c.Logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if _, err := c.JobManager.InstallRecurring(ctx, greeter.JobName, cfg.Greeter.RecurringSchedule, nil); err != nil {
		return err
	}

	if err := c.EnqueueScheduler.StartQueueAndStorageSyncWorker(ctx, cfg.RabbitMQConfig.Queue, cfg.UseQueueWriter); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.EnqueueScheduler.Start(gctx, cfg.EnqueueInterval, cfg.WorkerCount, cfg.BatchSize)
	})
	g.Go(func() error {
		return c.CronJobManager.Start(gctx, cfg.ScheduleInterval, cfg.WorkerCount, cfg.BatchSize)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// TriggerSend enqueues a new greeter run. serverSendTime is the run's as-of
// time ("YYYY-MM-DD HH:MM:00", UTC); empty means the current as-of time.
// It returns the key of the enqueued job, which is also the run id.
func TriggerSend(ctx context.Context, c *app.Container, serverSendTime string, now time.Time) (string, error) {
	asOf := engine.AsOf(now)
	if serverSendTime != "" {
		var err error
		if asOf, err = engine.ParseAsOf(serverSendTime); err != nil {
			return "", err
		}
	}

	params, err := greeter.NewParams(asOf, c.Config.Greeter.ScheduledSendTime)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(engine.Payload{ScanParameters: params})
	if err != nil {
		return "", fmt.Errorf("encode trigger payload: %w", err)
	}

	key, err := c.JobManager.Enqueue(ctx, greeter.JobName, body, types.EnqueueOptions{})
	if err != nil {
		return "", err
	}
	c.Logger.InfoContext(ctx, "greeter run enqueued", "run_id", key, "server_send_time", engine.FormatAsOf(asOf))
	return key, nil
}

// RunJob executes the stored job jobID on the calling goroutine, ignoring its
// schedule. The outcome is recorded the same way the workers record it.
func RunJob(ctx context.Context, c *app.Container, jobID int64) error {
	if err := c.EnqueueScheduler.ExecuteJobManually(ctx, jobID); err != nil {
		return fmt.Errorf("run job %d: %w", jobID, err)
	}
	c.Logger.InfoContext(ctx, "job executed manually", "job_id", jobID)
	return nil
}
