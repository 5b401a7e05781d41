package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/notifire/internal/record"
)

// Job is what a concrete notification job supplies to the engine. The engine
// owns paging, checkpointing and rescheduling; the job owns selection and the
// side effect.
type Job[R record.Keyed] interface {
	// Name is the queue job type the job is registered under. Continuations
	// are enqueued under the same name.
	Name() string

	// SendOne performs the side effect for one record. A false result or a
	// non-nil error counts as a failed attempt for that record only.
	SendOne(ctx context.Context, rec R) (bool, error)

	// BuildFilter turns the run's scan parameters into a filter the record
	// source understands.
	BuildFilter(params json.RawMessage) (record.Filter, error)

	// DefaultParams derives scan parameters for a run triggered without any.
	DefaultParams(asOf time.Time) (json.RawMessage, error)

	// RetryDelay is how long a continuation waits before retrying failures.
	RetryDelay() time.Duration

	// OnExhaustedRetries is called once when a run is abandoned for
	// exceeding its lifetime.
	OnExhaustedRetries(ctx context.Context, runID string)
}
