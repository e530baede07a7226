package jobs

import "fmt"

// JobStatus represents the current state of a background job. It enables
// tracking of the job lifecycle from submission through a terminal state.
type JobStatus string

const (
	// JobStatusPending indicates a job has been enqueued but not yet claimed
	// by a worker.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates exactly one worker has claimed the job and is
	// executing it.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusSucceeded indicates the job completed every checkpoint.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed indicates the job's work function returned an error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job observed a cancellation flag at a
	// checkpoint and stopped cooperatively.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status is one of the three terminal states.
// Terminal jobs accept no further transitions; late cancellation requests
// against them are benign no-ops.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "SUCCEEDED":
		return JobStatusSucceeded
	case "FAILED":
		return JobStatusFailed
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the job lifecycle rules to prevent invalid state
// changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// A pending job can be claimed by a worker, or cancelled before any
		// worker ever claims it.
		return target == JobStatusRunning || target == JobStatusCancelled
	case JobStatusRunning:
		// A running job ends in exactly one terminal state. It may also fall
		// back to Pending when its lease expires after a worker crash.
		return target == JobStatusSucceeded || target == JobStatusFailed ||
			target == JobStatusCancelled || target == JobStatusPending
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
