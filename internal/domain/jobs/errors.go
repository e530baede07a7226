package jobs

import "errors"

var (
	// ErrQueueUnavailable indicates the queue's backing store was unreachable.
	// It is surfaced synchronously to the submitter; the job was never created.
	ErrQueueUnavailable = errors.New("job queue unavailable")

	// ErrJobNotFound indicates a status read against an unknown job
	// identifier. Cancellation requests never return it; an unknown identifier
	// there is a harmless no-op.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJob indicates a claim attempt found no pending entry. Workers treat
	// it as a signal to back off and poll again.
	ErrNoJob = errors.New("no pending job available")
)
