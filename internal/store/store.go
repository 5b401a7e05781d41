package store

import "errors"

// Schema holds the queue tables.
const Schema = "notifire"

var (
	// ErrDuplicateJob is returned when a job key is already queued.
	ErrDuplicateJob = errors.New("job key already exists")
	ErrNotFound     = errors.New("not found")
)
