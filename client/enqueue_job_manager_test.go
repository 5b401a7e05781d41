package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/RezaEskandarii/notifire/client/mocks"
	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/internal/constants"
	"github.com/RezaEskandarii/notifire/internal/state"
	"github.com/RezaEskandarii/notifire/types"
	"github.com/RezaEskandarii/notifire/types/config"
)

type outcomes struct {
	mu        sync.Mutex
	succeeded []int64
	failed    map[int64]string
	attempts  map[int64][2]int
	postponed map[int64]time.Time
}

func recordOutcomes(s *mocks.MockEnqueuedJobStore) *outcomes {
	o := &outcomes{failed: map[int64]string{}, attempts: map[int64][2]int{}, postponed: map[int64]time.Time{}}
	s.MarkSuccessFunc = func(ctx context.Context, jobID int64) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.succeeded = append(o.succeeded, jobID)
		return nil
	}
	s.MarkFailureFunc = func(ctx context.Context, jobID int64, errMsg string, attempts, maxAttempts int) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.failed[jobID] = errMsg
		o.attempts[jobID] = [2]int{attempts, maxAttempts}
		return nil
	}
	s.PostponeFunc = func(ctx context.Context, jobID int64, until time.Time, reason string) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.postponed[jobID] = until
		return nil
	}
	return o
}

func newTestEnqueueManager(s *mocks.MockEnqueuedJobStore, lockMgr *mocks.MockDistributedLockManager, handler *config.JobHandler) *EnqueueJobsManager {
	return NewEnqueueScheduler(s, lockMgr, handler, nil, "test-instance", WithClock(fixedClock))
}

// runOnce claims and executes one batch, then records every result.
func runOnce(em *EnqueueJobsManager, batchSize int) {
	ctx := context.Background()
	sem := semaphore.NewWeighted(2)
	var wg sync.WaitGroup
	em.processDueJobs(ctx, sem, &wg, batchSize)
	wg.Wait()
	em.drainResults(ctx)
}

func dueJobs(jobs ...types.EnqueuedJob) func(context.Context, int, int, []state.JobStatus, *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
	return func(ctx context.Context, page, pageSize int, statuses []state.JobStatus, before *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
		return types.NewPaginationResult(jobs, len(jobs), page, pageSize), nil
	}
}

func TestEnqueueJobsManager_ProcessDueJobs(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{}
	var gotStatuses []state.JobStatus
	var gotBefore time.Time
	s.FetchDueJobsFunc = func(ctx context.Context, page, pageSize int, statuses []state.JobStatus, before *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
		gotStatuses = statuses
		gotBefore = *before
		jobs := []types.EnqueuedJob{
			{ID: 1, Name: "ok", MaxAttempts: 3},
			{ID: 2, Name: "ok", MaxAttempts: 3},
			{ID: 3, Name: "ok", MaxAttempts: 3},
		}
		return types.NewPaginationResult(jobs, 3, page, pageSize), nil
	}
	s.LockJobFunc = func(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
		assert.Equal(t, "test-instance", lockedBy)
		switch jobID {
		case 2:
			return false, nil
		case 3:
			return false, errors.New("lock failed")
		}
		return true, nil
	}
	o := recordOutcomes(s)

	handler := config.NewJobHandler()
	var mu sync.Mutex
	var ran []int64
	require.NoError(t, handler.Register("ok", func(ctx context.Context, job types.EnqueuedJob) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, job.ID)
		return nil
	}))

	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler), 10)

	assert.Equal(t, []int64{1}, ran)
	assert.Equal(t, []int64{1}, o.succeeded)
	assert.Equal(t, []state.JobStatus{state.StatusQueued, state.StatusRetrying}, gotStatuses)
	assert.True(t, fixedNow.Equal(gotBefore))
}

func TestEnqueueJobsManager_HandlerError(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{FetchDueJobsFunc: dueJobs(types.EnqueuedJob{ID: 5, Name: "fail", Attempts: 1, MaxAttempts: 3})}
	o := recordOutcomes(s)

	handler := config.NewJobHandler()
	require.NoError(t, handler.Register("fail", func(ctx context.Context, job types.EnqueuedJob) error {
		return errors.New("fetch page: connection reset")
	}))

	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler), 10)

	assert.Empty(t, o.succeeded)
	assert.Equal(t, "fetch page: connection reset", o.failed[5])
	assert.Equal(t, [2]int{2, 3}, o.attempts[5])
}

func TestEnqueueJobsManager_HandlerNotFound(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{FetchDueJobsFunc: dueJobs(types.EnqueuedJob{ID: 6, Name: "ghost", MaxAttempts: 3})}
	o := recordOutcomes(s)

	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler()), 10)

	assert.Contains(t, o.failed[6], "handler not found")
}

func TestEnqueueJobsManager_HandlerPanics(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{FetchDueJobsFunc: dueJobs(types.EnqueuedJob{ID: 7, Name: "boom", MaxAttempts: 3})}
	o := recordOutcomes(s)

	handler := config.NewJobHandler()
	require.NoError(t, handler.Register("boom", func(ctx context.Context, job types.EnqueuedJob) error {
		panic("nil map")
	}))

	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler), 10)

	assert.Contains(t, o.failed[7], "panic: nil map")
}

func TestEnqueueJobsManager_LeaseHeldPostponesWithoutAttempt(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{FetchDueJobsFunc: dueJobs(types.EnqueuedJob{ID: 8, Name: "busy", MaxAttempts: 3})}
	o := recordOutcomes(s)

	handler := config.NewJobHandler()
	require.NoError(t, handler.Register("busy", func(ctx context.Context, job types.EnqueuedJob) error {
		return fmt.Errorf("run r1: %w", custom_errors.ErrLeaseHeld)
	}))

	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler), 10)

	assert.Empty(t, o.failed)
	require.Contains(t, o.postponed, int64(8))
	assert.True(t, fixedNow.Add(DefaultLeaseBackoff).Equal(o.postponed[8]))
}

func TestEnqueueJobsManager_FetchError(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{
		FetchDueJobsFunc: func(ctx context.Context, page, pageSize int, statuses []state.JobStatus, before *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
			return nil, errors.New("db down")
		},
		LockJobFunc: func(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
			t.Fatal("nothing to lock")
			return false, nil
		},
	}
	runOnce(newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler()), 10)
}

func TestEnqueueJobsManager_ExecuteJobManually(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
			return &types.EnqueuedJob{ID: id, Name: "send", MaxAttempts: 3}, nil
		},
	}
	o := recordOutcomes(s)

	handler := config.NewJobHandler()
	var ran bool
	require.NoError(t, handler.Register("send", func(ctx context.Context, job types.EnqueuedJob) error {
		ran = true
		return nil
	}))
	em := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler)

	require.NoError(t, em.ExecuteJobManually(context.Background(), 11))
	assert.True(t, ran)
	assert.Equal(t, []int64{11}, o.succeeded)
}

func TestEnqueueJobsManager_ExecuteJobManually_Errors(t *testing.T) {
	t.Run("job not found", func(t *testing.T) {
		s := &mocks.MockEnqueuedJobStore{
			FindByIDFunc: func(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
				return nil, errors.New("no rows")
			},
		}
		err := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler()).ExecuteJobManually(context.Background(), 1)
		assert.Error(t, err)
	})

	t.Run("handler not registered", func(t *testing.T) {
		s := &mocks.MockEnqueuedJobStore{
			FindByIDFunc: func(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
				return &types.EnqueuedJob{ID: id, Name: "ghost"}, nil
			},
		}
		err := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler()).ExecuteJobManually(context.Background(), 1)
		assert.ErrorIs(t, err, custom_errors.ErrHandlerNotFound)
	})
}

func TestEnqueueJobsManager_RetryFailedJobs(t *testing.T) {
	var marked int
	s := &mocks.MockEnqueuedJobStore{MarkRetryFailedJobsFunc: func(ctx context.Context) error { marked++; return nil }}
	var released []int
	lockMgr := &mocks.MockDistributedLockManager{
		ReleaseFunc: func(ctx context.Context, lockID int) error {
			released = append(released, lockID)
			return nil
		},
	}
	em := newTestEnqueueManager(s, lockMgr, config.NewJobHandler())

	em.retryFailedJobs(context.Background())
	assert.Equal(t, 1, marked)
	assert.Equal(t, []int{constants.RetryLock}, released)
}

func TestEnqueueJobsManager_RetryFailedJobs_LockBusyKeepsLoopAlive(t *testing.T) {
	var marked int
	s := &mocks.MockEnqueuedJobStore{MarkRetryFailedJobsFunc: func(ctx context.Context) error { marked++; return nil }}
	var attempts int
	lockMgr := &mocks.MockDistributedLockManager{
		AcquireFunc: func(ctx context.Context, lockID int) error {
			attempts++
			if attempts == 1 {
				return errors.New("lock busy")
			}
			return nil
		},
	}
	em := newTestEnqueueManager(s, lockMgr, config.NewJobHandler())

	em.retryFailedJobs(context.Background())
	assert.Equal(t, 0, marked)
	em.retryFailedJobs(context.Background())
	assert.Equal(t, 1, marked)
}

func TestEnqueueJobsManager_Start_UnlockStaleError(t *testing.T) {
	s := &mocks.MockEnqueuedJobStore{
		UnlockStaleJobsFunc: func(ctx context.Context, timeout time.Duration) error { return errors.New("db down") },
	}
	err := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler()).Start(context.Background(), 1, 1, 10)
	assert.Error(t, err)
}

func TestEnqueueJobsManager_Start_StopsOnCancel(t *testing.T) {
	var staleTimeout time.Duration
	s := &mocks.MockEnqueuedJobStore{
		UnlockStaleJobsFunc: func(ctx context.Context, timeout time.Duration) error {
			staleTimeout = timeout
			return nil
		},
	}
	o := recordOutcomes(s)
	s.FetchDueJobsFunc = dueJobs(types.EnqueuedJob{ID: 1, Name: "ok", MaxAttempts: 3})

	handler := config.NewJobHandler()
	require.NoError(t, handler.Register("ok", func(ctx context.Context, job types.EnqueuedJob) error { return nil }))
	em := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- em.Start(ctx, 1, 2, 10) }()

	assert.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.succeeded) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Equal(t, DefaultStaleJobTimeout, staleTimeout)
}

func TestEnqueueJobsManager_QueueSyncWorker(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		em := newTestEnqueueManager(&mocks.MockEnqueuedJobStore{}, &mocks.MockDistributedLockManager{}, config.NewJobHandler())
		assert.NoError(t, em.StartQueueAndStorageSyncWorker(context.Background(), "q", false))
	})

	t.Run("enabled without broker", func(t *testing.T) {
		em := newTestEnqueueManager(&mocks.MockEnqueuedJobStore{}, &mocks.MockDistributedLockManager{}, config.NewJobHandler())
		assert.Error(t, em.StartQueueAndStorageSyncWorker(context.Background(), "q", true))
	})

	t.Run("flushes batch when channel closes", func(t *testing.T) {
		var mu sync.Mutex
		var inserted []types.Job
		s := &mocks.MockEnqueuedJobStore{
			BulkInsertFunc: func(ctx context.Context, batch []types.Job) error {
				mu.Lock()
				defer mu.Unlock()
				inserted = append(inserted, batch...)
				return nil
			},
		}

		msgs := make(chan []byte, 3)
		j1, _ := json.Marshal(types.Job{Key: "k1", Name: "job"})
		j2, _ := json.Marshal(types.Job{Key: "k2", Name: "job"})
		msgs <- j1
		msgs <- []byte("not json")
		msgs <- j2
		close(msgs)

		broker := &mocks.MockMessageBroker{
			ConsumeFunc: func(ctx context.Context, queue string) (<-chan []byte, error) {
				assert.Equal(t, "q", queue)
				return msgs, nil
			},
		}
		em := NewEnqueueScheduler(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler(), broker, "i")

		require.NoError(t, em.StartQueueAndStorageSyncWorker(context.Background(), "q", true))
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(inserted) == 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, "k1", inserted[0].Key)
		assert.Equal(t, "k2", inserted[1].Key)
	})

	t.Run("consume error", func(t *testing.T) {
		broker := &mocks.MockMessageBroker{
			ConsumeFunc: func(ctx context.Context, queue string) (<-chan []byte, error) {
				return nil, errors.New("channel closed")
			},
		}
		em := NewEnqueueScheduler(&mocks.MockEnqueuedJobStore{}, &mocks.MockDistributedLockManager{}, config.NewJobHandler(), broker, "i")
		assert.Error(t, em.StartQueueAndStorageSyncWorker(context.Background(), "q", true))
	})
}

func TestEnqueueJobsManager_UnlockStaleJobs(t *testing.T) {
	var timeouts []time.Duration
	s := &mocks.MockEnqueuedJobStore{
		UnlockStaleJobsFunc: func(ctx context.Context, timeout time.Duration) error {
			timeouts = append(timeouts, timeout)
			return nil
		},
	}
	var acquired, released []int
	busy := false
	lockMgr := &mocks.MockDistributedLockManager{
		AcquireFunc: func(ctx context.Context, lockID int) error {
			if busy {
				return errors.New("lock busy")
			}
			acquired = append(acquired, lockID)
			return nil
		},
		ReleaseFunc: func(ctx context.Context, lockID int) error {
			released = append(released, lockID)
			return nil
		},
	}
	em := newTestEnqueueManager(s, lockMgr, config.NewJobHandler())

	em.unlockStaleJobs(context.Background())
	assert.Equal(t, []time.Duration{DefaultStaleJobTimeout}, timeouts)
	assert.Equal(t, []int{constants.StaleUnlockLock}, acquired)
	assert.Equal(t, []int{constants.StaleUnlockLock}, released)

	busy = true
	em.unlockStaleJobs(context.Background())
	assert.Len(t, timeouts, 1)
}

// A worker restarted shortly after a crash must still get the crashed
// worker's job back once it goes stale, without another restart.
func TestEnqueueJobsManager_MaintenanceRequeuesStaleJobsWhileRunning(t *testing.T) {
	var mu sync.Mutex
	var unlocks, retries int
	s := &mocks.MockEnqueuedJobStore{
		UnlockStaleJobsFunc: func(ctx context.Context, timeout time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			unlocks++
			return nil
		},
		MarkRetryFailedJobsFunc: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			retries++
			return nil
		},
	}
	em := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, config.NewJobHandler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go em.MarkRetryFailedJobs(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return unlocks >= 2 && retries >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueJobsManager_Start_ShutdownWithFullResultBuffer(t *testing.T) {
	const jobs = 5
	s := &mocks.MockEnqueuedJobStore{}
	o := recordOutcomes(s)
	due := make([]types.EnqueuedJob, 0, jobs)
	for i := 1; i <= jobs; i++ {
		due = append(due, types.EnqueuedJob{ID: int64(i), Name: "slow", MaxAttempts: 3})
	}
	s.FetchDueJobsFunc = dueJobs(due...)

	var entered sync.WaitGroup
	entered.Add(jobs)
	release := make(chan struct{})
	handler := config.NewJobHandler()
	require.NoError(t, handler.Register("slow", func(ctx context.Context, job types.EnqueuedJob) error {
		entered.Done()
		<-release
		return nil
	}))

	em := newTestEnqueueManager(s, &mocks.MockDistributedLockManager{}, handler)
	em.jobResults = make(chan types.JobResult, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- em.Start(ctx, 60, jobs, jobs) }()

	entered.Wait()
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, o.succeeded)
}
