package checkpoint

import (
	"context"
	"time"
)

// Store persists checkpoints keyed by run id. Implementations never surface
// errors: a failed read is reported as absent and failed writes are dropped,
// both after logging. Callers treat an absent checkpoint as a new run.
type Store interface {
	Get(ctx context.Context, runID string) (*Checkpoint, bool)
	Put(ctx context.Context, cp *Checkpoint, runID string, ttl time.Duration)
	Delete(ctx context.Context, runID string)
}
