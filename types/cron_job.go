package types

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
)

// CronJob is a recurring trigger. Each time it fires, a fresh job of type
// Name is enqueued with Payload.
type CronJob struct {
	ID         int64
	Key        string
	Name       string
	Payload    json.RawMessage
	Status     state.JobStatus
	LastError  sql.NullString
	LockedBy   *string
	LockedAt   *time.Time
	CreatedAt  time.Time
	LastRunAt  *time.Time
	NextRunAt  time.Time
	IsActive   bool
	Expression string
}
