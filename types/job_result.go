package types

import (
	"time"

	"github.com/RezaEskandarii/notifire/internal/state"
)

type JobResult struct {
	JobID       int64
	Err         error
	Attempts    int
	MaxAttempts int
	Status      state.JobStatus
	RanAt       time.Time
	NextRun     time.Time
}
