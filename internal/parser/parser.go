// Package parser wraps robfig/cron for the five-field expressions used by
// recurring triggers.
package parser

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a standard cron expression or a
// descriptor such as "@hourly".
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first activation strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", expr)
	}
	return next, nil
}

// CalculateNextRun is NextRun with an hourly fallback for expressions that
// slipped past validation.
func CalculateNextRun(expr string, from time.Time) time.Time {
	next, err := NextRun(expr, from)
	if err != nil {
		return from.Add(time.Hour)
	}
	return next
}
