package custom_errors

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerNotFound is returned when a dequeued job has no registered processor.
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrInvalidPayload is returned when a job payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrLeaseHeld is returned when another invocation owns the run lease.
	ErrLeaseHeld = errors.New("run lease held by another worker")
)

// ValidationError collects every failed option so callers see all problems at once.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *ValidationError) Unwrap() []error {
	return c.Errors
}
