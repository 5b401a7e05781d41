package types

import "time"

// EnqueueOptions controls how a job is added to the queue.
//
// Delay postpones a one-off job. Repeat installs a recurring trigger with the
// given cron expression instead of a one-off job. JobID overrides the
// generated job key. MaxAttempts bounds queue level retries of a failed
// invocation; zero means the default.
type EnqueueOptions struct {
	Delay       time.Duration
	Repeat      string
	JobID       string
	MaxAttempts int
}
