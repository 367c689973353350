package ledger

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrInvalidTransition is returned when a write would move a job or sub-job backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobNotFound is returned by writes addressed to an unknown job.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidJob is returned when a submission cannot be stored.
	ErrInvalidJob = errors.New("invalid job")
)
