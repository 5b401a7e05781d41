// Package record defines the contract between the batch engine and the data
// store it scans: a count and a keyset-paginated find over records ordered by
// (order key ascending, id ascending).
package record

import (
	"context"
	"time"
)

// Cursor is the last-seen keyset position of a scan.
type Cursor struct {
	OrderKey time.Time `json:"orderKey"`
	ID       string    `json:"id"`
}

// Less reports whether c sorts strictly before other in (order key, id) order.
func (c Cursor) Less(other Cursor) bool {
	if !c.OrderKey.Equal(other.OrderKey) {
		return c.OrderKey.Before(other.OrderKey)
	}
	return c.ID < other.ID
}

// Keyed is implemented by every record a Source returns.
type Keyed interface {
	Key() Cursor
}

// Filter is the run-scoped selection built by a job from its scan parameters.
// Each Source documents the concrete filter type it accepts.
type Filter any

// Query is one page request. After and IDs are layered by the engine on top
// of the job's filter.
type Query struct {
	Filter Filter
	// After restricts the page to records strictly after the cursor.
	After *Cursor
	// IDs, when non-empty, restricts the page to these record ids.
	IDs   []string
	Limit int
}

// Source is the record store the engine scans.
type Source[R Keyed] interface {
	Count(ctx context.Context, filter Filter) (int, error)
	FindPage(ctx context.Context, query Query) ([]R, error)
}
