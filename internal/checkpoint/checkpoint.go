// Package checkpoint holds the resumable state of one logical run and its
// persistence in a key-value cache.
package checkpoint

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/RezaEskandarii/notifire/internal/record"
)

// Checkpoint is the progress marker of a run. Once Complete is true it must
// never be mutated again.
type Checkpoint struct {
	RunID          string
	StartedAt      time.Time
	IsFirstPass    bool
	ScanParameters json.RawMessage
	ExpectedTotal  int
	SucceededCount int
	FailedIDs      map[string]struct{}
	Cursor         *record.Cursor
	Complete       bool
}

// New returns the checkpoint of a run that has not fetched anything yet.
func New(runID string, startedAt time.Time, params json.RawMessage, expectedTotal int) *Checkpoint {
	return &Checkpoint{
		RunID:          runID,
		StartedAt:      startedAt,
		IsFirstPass:    true,
		ScanParameters: params,
		ExpectedTotal:  expectedTotal,
		FailedIDs:      make(map[string]struct{}),
	}
}

func (c *Checkpoint) MarkFailed(id string) {
	if c.FailedIDs == nil {
		c.FailedIDs = make(map[string]struct{})
	}
	c.FailedIDs[id] = struct{}{}
}

// MarkSucceeded counts a success and clears a previous failure of id.
func (c *Checkpoint) MarkSucceeded(id string) {
	c.SucceededCount++
	delete(c.FailedIDs, id)
}

func (c *Checkpoint) HasFailed(id string) bool {
	_, ok := c.FailedIDs[id]
	return ok
}

// FailedList returns the failed ids sorted, which is also their wire order.
func (c *Checkpoint) FailedList() []string {
	ids := make([]string, 0, len(c.FailedIDs))
	for id := range c.FailedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsStale reports whether the run has outlived maxLifetime at now.
func (c *Checkpoint) IsStale(now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(c.StartedAt) > maxLifetime
}

// wireCheckpoint is the flat JSON form kept in the cache.
type wireCheckpoint struct {
	RunID          string          `json:"runId"`
	StartedAt      time.Time       `json:"startedAt"`
	IsFirstPass    bool            `json:"isFirstPass"`
	ScanParameters json.RawMessage `json:"scanParameters,omitempty"`
	ExpectedTotal  int             `json:"expectedTotal"`
	SucceededCount int             `json:"succeededCount"`
	FailedIDs      []string        `json:"failedIds"`
	Cursor         *record.Cursor  `json:"cursor"`
	Complete       bool            `json:"complete"`
}

// Marshal encodes c with its failed-id set flattened to a sorted list.
func Marshal(c *Checkpoint) ([]byte, error) {
	return json.Marshal(wireCheckpoint{
		RunID:          c.RunID,
		StartedAt:      c.StartedAt.UTC(),
		IsFirstPass:    c.IsFirstPass,
		ScanParameters: c.ScanParameters,
		ExpectedTotal:  c.ExpectedTotal,
		SucceededCount: c.SucceededCount,
		FailedIDs:      c.FailedList(),
		Cursor:         c.Cursor,
		Complete:       c.Complete,
	})
}

// Unmarshal decodes data and rehydrates the failed-id list into a set.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var w wireCheckpoint
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	failed := make(map[string]struct{}, len(w.FailedIDs))
	for _, id := range w.FailedIDs {
		failed[id] = struct{}{}
	}

	return &Checkpoint{
		RunID:          w.RunID,
		StartedAt:      w.StartedAt,
		IsFirstPass:    w.IsFirstPass,
		ScanParameters: w.ScanParameters,
		ExpectedTotal:  w.ExpectedTotal,
		SucceededCount: w.SucceededCount,
		FailedIDs:      failed,
		Cursor:         w.Cursor,
		Complete:       w.Complete,
	}, nil
}
