package types

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
)

// EnqueuedJob is a queue row as handed to a job handler.
type EnqueuedJob struct {
	ID          int64
	Key         string
	Name        string
	Payload     json.RawMessage
	Status      state.JobStatus
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	ExecutedAt  *time.Time
	FinishedAt  *time.Time
	LastError   sql.NullString
	LockedBy    *string
	LockedAt    *time.Time
	CreatedAt   time.Time
}
