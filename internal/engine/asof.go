package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// AsOfLayout is the wire format of an as-of time.
const AsOfLayout = "2006-01-02 15:04:00"

const asOfStep = 15

var asOfPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:00$`)

// AsOf floors now, in UTC, to the enclosing 15 minute boundary.
func AsOf(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), (t.Minute()/asOfStep)*asOfStep, 0, 0, time.UTC)
}

func FormatAsOf(t time.Time) string {
	return AsOf(t).Format(AsOfLayout)
}

// ParseAsOf accepts "YYYY-MM-DD HH:MM:00" in UTC and floors it like AsOf.
func ParseAsOf(s string) (time.Time, error) {
	if !asOfPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("invalid as-of time %q, expected YYYY-MM-DD HH:MM:00", s)
	}
	t, err := time.ParseInLocation(AsOfLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as-of time %q: %w", s, err)
	}
	return AsOf(t), nil
}

// Payload is the body of a trigger or continuation job.
type Payload struct {
	RunID          string          `json:"runId,omitempty"`
	ScanParameters json.RawMessage `json:"scanParameters,omitempty"`
}

// DecodePayload reads a job payload. An empty or null body is a plain trigger.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}
