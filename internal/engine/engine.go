// Package engine runs resumable, checkpointed batch notification jobs. One
// logical run may span many queue invocations: each invocation resumes from
// the run's checkpoint, scans the matching records page by page, dispatches
// sends and persists progress, then either finishes or enqueues a delayed
// continuation that retries the records that failed.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/internal/checkpoint"
	"github.com/RezaEskandarii/notifire/internal/lock"
	"github.com/RezaEskandarii/notifire/internal/record"
	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/types"
)

// Enqueuer is the part of the job queue the engine reschedules through.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts types.EnqueueOptions) (string, error)
}

// Outcome summarizes one invocation.
type Outcome struct {
	RunID      string
	State      state.RunState
	// Path lists every state the invocation went through, starting at RunNew.
	Path       []state.RunState
	Pages      int
	Dispatched int
	Succeeded  int
	Failed     int
}

type Option func(*options)

type options struct {
	logger *slog.Logger
	lease  lock.RunLease
	now    func() time.Time
}

// WithLogger sets the logger used for run progress.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLease guards every invocation with a per-run lease so two workers never
// advance the same run at once.
func WithLease(l lock.RunLease) Option {
	return func(o *options) { o.lease = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine drives runs of a single Job over a single record Source.
type Engine[R record.Keyed] struct {
	job      Job[R]
	source   record.Source[R]
	store    checkpoint.Store
	enqueuer Enqueuer
	cfg      Config
	logger   *slog.Logger
	lease    lock.RunLease
	now      func() time.Time
}

func New[R record.Keyed](job Job[R], source record.Source[R], store checkpoint.Store, enqueuer Enqueuer, cfg Config, opts ...Option) *Engine[R] {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[R]{
		job:      job,
		source:   source,
		store:    store,
		enqueuer: enqueuer,
		cfg:      cfg.withDefaults(),
		logger:   o.logger,
		lease:    o.lease,
		now:      o.now,
	}
}

// Process is the queue handler for the job's type. The run id is taken from
// the payload, or from the queue job key for a fresh trigger.
func (e *Engine[R]) Process(ctx context.Context, job types.EnqueuedJob) error {
	p, err := DecodePayload(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: job %d: %v", custom_errors.ErrInvalidPayload, job.ID, err)
	}
	_, err = e.Run(ctx, job.Key, p)
	return err
}

// Run executes one invocation of a run. Per-record send failures never
// surface as errors; a record source failure or a failed reschedule does, so
// the queue retries the invocation.
func (e *Engine[R]) Run(ctx context.Context, jobKey string, p Payload) (Outcome, error) {
	runID := p.RunID
	if runID == "" {
		runID = jobKey
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	log := e.logger.With("job", e.job.Name(), "run_id", runID)
	out := Outcome{RunID: runID, State: state.RunNew, Path: []state.RunState{state.RunNew}}

	var token string
	if e.lease != nil {
		tok, ok, err := e.lease.Acquire(ctx, runID, e.cfg.LeaseTTL)
		switch {
		case err != nil:
			log.WarnContext(ctx, "run lease unavailable, continuing without it", "error", err)
		case !ok:
			log.WarnContext(ctx, "run is being processed by another worker")
			return out, fmt.Errorf("run %s: %w", runID, custom_errors.ErrLeaseHeld)
		default:
			token = tok
			defer func() {
				if err := e.lease.Release(context.WithoutCancel(ctx), runID, tok); err != nil {
					log.WarnContext(ctx, "failed to release run lease", "error", err)
				}
			}()
		}
	}

	cp, filter, done, err := e.load(ctx, log, runID, p, &out)
	if err != nil || done {
		return out, err
	}

	for {
		e.advance(ctx, log, &out, state.RunScanning)
		q := record.Query{Filter: filter, After: cp.Cursor, Limit: e.cfg.BatchSize}
		if !cp.IsFirstPass && len(cp.FailedIDs) > 0 {
			q.IDs = cp.FailedList()
		}

		page, err := e.source.FindPage(ctx, q)
		if err != nil {
			return out, fmt.Errorf("run %s: fetch page: %w", runID, err)
		}
		out.Pages++
		lastPage := len(page) < e.cfg.BatchSize

		if len(page) > 0 {
			succeeded := 0
			for _, r := range e.dispatch(ctx, log, page) {
				if r.ok {
					cp.MarkSucceeded(r.id)
					succeeded++
				} else {
					cp.MarkFailed(r.id)
				}
			}
			out.Dispatched += len(page)
			out.Succeeded += succeeded
			out.Failed += len(page) - succeeded

			last := page[len(page)-1].Key()
			cp.Cursor = &last
			log.InfoContext(ctx, "page dispatched",
				"sent", succeeded, "page_size", len(page),
				"succeeded_total", cp.SucceededCount, "expected_total", cp.ExpectedTotal,
				"failed_pending", len(cp.FailedIDs))
		}

		if lastPage {
			e.advance(ctx, log, &out, state.RunAllScanned)
			cp.Complete = len(cp.FailedIDs) == 0
			cp.IsFirstPass = false
			cp.Cursor = nil
		} else {
			e.advance(ctx, log, &out, state.RunPageComplete)
		}
		if !cp.IsFirstPass && len(cp.FailedIDs) == 0 {
			cp.Complete = true
		}

		e.store.Put(ctx, cp, runID, e.cfg.CheckpointTTL)
		e.refreshLease(ctx, log, runID, token)

		if lastPage || cp.Complete {
			break
		}
	}

	if cp.Complete {
		e.advance(ctx, log, &out, state.RunDone)
		log.InfoContext(ctx, "run complete", "succeeded_total", cp.SucceededCount, "expected_total", cp.ExpectedTotal)
		if e.cfg.DeleteOnComplete {
			e.store.Delete(ctx, runID)
		}
		return out, nil
	}

	if err := e.reschedule(ctx, cp); err != nil {
		return out, err
	}
	e.advance(ctx, log, &out, state.RunRetryPending)
	log.ErrorContext(ctx, "failed to send to some recipients, continuation scheduled",
		"failed_pending", len(cp.FailedIDs), "retry_delay", e.job.RetryDelay())
	return out, nil
}

// load returns the run's checkpoint and filter. done is true when the
// invocation must stop without scanning.
func (e *Engine[R]) load(ctx context.Context, log *slog.Logger, runID string, p Payload, out *Outcome) (*checkpoint.Checkpoint, record.Filter, bool, error) {
	now := e.now()

	cp, found := e.store.Get(ctx, runID)
	if !found {
		params := p.ScanParameters
		if len(params) == 0 {
			var err error
			if params, err = e.job.DefaultParams(AsOf(now)); err != nil {
				return nil, nil, false, fmt.Errorf("run %s: default scan parameters: %w", runID, err)
			}
		}
		filter, err := e.job.BuildFilter(params)
		if err != nil {
			return nil, nil, false, fmt.Errorf("run %s: build filter: %w", runID, err)
		}
		total, err := e.source.Count(ctx, filter)
		if err != nil {
			return nil, nil, false, fmt.Errorf("run %s: count records: %w", runID, err)
		}
		cp = checkpoint.New(runID, now, params, total)
		e.store.Put(ctx, cp, runID, e.cfg.CheckpointTTL)
		log.InfoContext(ctx, "run started", "expected_total", total)
		return cp, filter, false, nil
	}

	if cp.Complete {
		e.advance(ctx, log, out, state.RunDone)
		log.InfoContext(ctx, "run already complete")
		return nil, nil, true, nil
	}

	if cp.IsStale(now, e.cfg.MaxRunLifetime) {
		e.advance(ctx, log, out, state.RunAbandoned)
		log.ErrorContext(ctx, "run exceeded its lifetime, abandoning",
			"started_at", cp.StartedAt, "max_lifetime", e.cfg.MaxRunLifetime,
			"failed_pending", len(cp.FailedIDs))
		e.job.OnExhaustedRetries(ctx, runID)
		return nil, nil, true, nil
	}

	filter, err := e.job.BuildFilter(cp.ScanParameters)
	if err != nil {
		return nil, nil, false, fmt.Errorf("run %s: build filter: %w", runID, err)
	}
	total, err := e.source.Count(ctx, filter)
	if err != nil {
		return nil, nil, false, fmt.Errorf("run %s: count records: %w", runID, err)
	}
	if total != cp.ExpectedTotal {
		cp.ExpectedTotal = total
		e.store.Put(ctx, cp, runID, e.cfg.CheckpointTTL)
	}
	log.InfoContext(ctx, "run resumed", "first_pass", cp.IsFirstPass, "failed_pending", len(cp.FailedIDs))
	return cp, filter, false, nil
}

// advance moves the invocation to next. A move the run state machine does not
// allow is logged, never enforced, so a bookkeeping slip cannot fail a run.
func (e *Engine[R]) advance(ctx context.Context, log *slog.Logger, out *Outcome, next state.RunState) {
	if !state.IsValidRunTransition(out.State, next) {
		log.ErrorContext(ctx, "unexpected run state transition", "from", out.State, "to", next)
	}
	out.State = next
	out.Path = append(out.Path, next)
	if next.IsTerminal() {
		log.DebugContext(ctx, "run reached a terminal state", "state", next)
	}
}

// reschedule enqueues the continuation. The scan parameters travel with it so
// a run whose checkpoint was lost restarts on the same selection.
func (e *Engine[R]) reschedule(ctx context.Context, cp *checkpoint.Checkpoint) error {
	body, err := json.Marshal(Payload{RunID: cp.RunID, ScanParameters: cp.ScanParameters})
	if err != nil {
		return fmt.Errorf("run %s: encode continuation: %w", cp.RunID, err)
	}
	if _, err := e.enqueuer.Enqueue(ctx, e.job.Name(), body, types.EnqueueOptions{Delay: e.job.RetryDelay()}); err != nil {
		return fmt.Errorf("run %s: enqueue continuation: %w", cp.RunID, err)
	}
	return nil
}

type sendResult struct {
	id string
	ok bool
}

// dispatch sends every record of a page and waits for all of them.
func (e *Engine[R]) dispatch(ctx context.Context, log *slog.Logger, page []R) []sendResult {
	results := make([]sendResult, len(page))
	var g errgroup.Group
	if e.cfg.SendConcurrency > 0 {
		g.SetLimit(e.cfg.SendConcurrency)
	}
	for i, rec := range page {
		i, rec := i, rec
		g.Go(func() error {
			id := rec.Key().ID
			results[i] = sendResult{id: id, ok: e.sendOne(ctx, log, id, rec)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine[R]) sendOne(ctx context.Context, log *slog.Logger, id string, rec R) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic while sending", "record_id", id, "panic", r)
			ok = false
		}
	}()

	ok, err := e.job.SendOne(ctx, rec)
	if err != nil {
		log.ErrorContext(ctx, "send failed", "record_id", id, "error", err)
		return false
	}
	if !ok {
		log.WarnContext(ctx, "send rejected", "record_id", id)
	}
	return ok
}

func (e *Engine[R]) refreshLease(ctx context.Context, log *slog.Logger, runID, token string) {
	if e.lease == nil || token == "" {
		return
	}
	ok, err := e.lease.Refresh(ctx, runID, token, e.cfg.LeaseTTL)
	if err != nil {
		log.WarnContext(ctx, "failed to refresh run lease", "error", err)
		return
	}
	if !ok {
		log.WarnContext(ctx, "run lease lost before the invocation finished")
	}
}
