package lock

import (
	"context"
	"time"
)

// DistributedLockManager serializes process-wide sections such as schema
// migration and recurring-trigger installation across instances.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	Release(ctx context.Context, lockID int) error
}

// RunLease guards a single logical run against concurrent invocations.
// Acquire returns ok=false when another owner holds an unexpired lease.
type RunLease interface {
	Acquire(ctx context.Context, runID string, ttl time.Duration) (token string, ok bool, err error)
	// Refresh extends a lease still owned by token; ok=false means it was lost.
	Refresh(ctx context.Context, runID, token string, ttl time.Duration) (ok bool, err error)
	Release(ctx context.Context, runID, token string) error
}
