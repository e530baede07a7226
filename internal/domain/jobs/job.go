// Package jobs contains the domain model for long-running background jobs:
// the Job aggregate, its lifecycle states, the progress value object, the
// job-scoped domain events, and the ports the application layer uses to
// reach the queue, the cancellation registry, and the job state store.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a single unit of background work with a lifecycle from Pending to a
// terminal status. The queue owns it while Pending; ownership transfers to
// exactly one worker while Running. A job identifier, once issued, is never
// reused.
type Job struct {
	jobID   uuid.UUID
	payload json.RawMessage
	status  JobStatus

	// percent and summary mirror the last observed progress so a client that
	// reconnects after missing events can reconcile from a status read alone.
	percent int
	summary string

	enqueuedAt  time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewJob creates a Pending job with a fresh identifier and the opaque payload
// supplied by the submitter.
func NewJob(payload json.RawMessage) *Job {
	return &Job{
		jobID:      uuid.New(),
		payload:    payload,
		status:     JobStatusPending,
		enqueuedAt: time.Now().UTC(),
	}
}

// ReconstructJob creates a Job instance from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructJob(
	jobID uuid.UUID,
	payload json.RawMessage,
	status JobStatus,
	percent int,
	summary string,
	enqueuedAt, startedAt, completedAt time.Time,
) *Job {
	return &Job{
		jobID:       jobID,
		payload:     payload,
		status:      status,
		percent:     percent,
		summary:     summary,
		enqueuedAt:  enqueuedAt,
		startedAt:   startedAt,
		completedAt: completedAt,
	}
}

// JobID returns the unique identifier for this job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// Payload returns the opaque work parameters supplied at submission.
func (j *Job) Payload() json.RawMessage { return j.payload }

// Status returns the current lifecycle state of the job.
func (j *Job) Status() JobStatus { return j.status }

// Percent returns the last recorded progress percentage.
func (j *Job) Percent() int { return j.percent }

// Summary returns the human-readable result or error summary written when the
// job reached a terminal state, or an empty string before then.
func (j *Job) Summary() string { return j.summary }

// EnqueuedAt returns when the job was accepted by the queue.
func (j *Job) EnqueuedAt() time.Time { return j.enqueuedAt }

// StartedAt returns when a worker claimed the job, or the zero time if it was
// never claimed.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// CompletedAt returns when the job reached a terminal state, and whether it
// has reached one.
func (j *Job) CompletedAt() (time.Time, bool) {
	if j.status.IsTerminal() {
		return j.completedAt, true
	}
	return time.Time{}, false
}

// Start transitions the job to Running when a worker claims it.
func (j *Job) Start() error {
	if err := j.status.ValidateTransition(JobStatusRunning); err != nil {
		return err
	}
	j.status = JobStatusRunning
	j.startedAt = time.Now().UTC()
	return nil
}

// Requeue moves a Running job whose lease lapsed back to Pending so another
// worker can claim it. Progress resets since execution restarts from the
// first step.
func (j *Job) Requeue() error {
	if err := j.status.ValidateTransition(JobStatusPending); err != nil {
		return err
	}
	j.status = JobStatusPending
	j.percent = 0
	j.startedAt = time.Time{}
	return nil
}

// UpdateProgress records the latest observed completion percentage.
func (j *Job) UpdateProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.percent = percent
}

// Complete transitions the job to Succeeded with a result summary.
func (j *Job) Complete(summary string) error {
	return j.finish(JobStatusSucceeded, summary)
}

// Fail transitions the job to Failed with an error summary. The summary is
// what clients ultimately see; the work function's error never escapes the
// background system as an exception.
func (j *Job) Fail(summary string) error {
	return j.finish(JobStatusFailed, summary)
}

// Cancel transitions the job to Cancelled. Valid from Pending (cancelled
// before any worker claimed it) and from Running (flag observed at a
// checkpoint).
func (j *Job) Cancel(summary string) error {
	return j.finish(JobStatusCancelled, summary)
}

// Snapshot returns a point-in-time copy that later mutations of the live
// job do not affect.
func (j *Job) Snapshot() *Job {
	copied := *j
	return &copied
}

func (j *Job) finish(target JobStatus, summary string) error {
	if err := j.status.ValidateTransition(target); err != nil {
		return err
	}
	j.status = target
	j.summary = summary
	j.completedAt = time.Now().UTC()
	if target == JobStatusSucceeded {
		j.percent = 100
	}
	return nil
}
