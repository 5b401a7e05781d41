package types

import (
	"encoding/json"
	"time"
)

// Job is a job that has not been stored yet. It is also the message body
// published to the broker when the queue writer is enabled.
type Job struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	MaxAttempts int             `json:"maxAttempts"`
}
