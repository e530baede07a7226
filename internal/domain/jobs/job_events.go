package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/rogerlew/longhaul/internal/domain/events"
)

// Event types relevant to jobs:
const (
	EventTypeJobProgressed events.EventType = "JobProgressed"
	EventTypeJobCompleted  events.EventType = "JobCompleted"
	EventTypeJobFailed     events.EventType = "JobFailed"
	EventTypeJobCancelled  events.EventType = "JobCancelled"
)

// JobProgressedEvent signals a new progress snapshot was recorded at a
// checkpoint.
type JobProgressedEvent struct {
	occurredAt time.Time
	Progress   Progress
}

func NewJobProgressedEvent(p Progress) JobProgressedEvent {
	return JobProgressedEvent{occurredAt: time.Now().UTC(), Progress: p}
}

func (e JobProgressedEvent) EventType() events.EventType { return EventTypeJobProgressed }
func (e JobProgressedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobCompletedEvent means the job finished every checkpoint successfully.
type JobCompletedEvent struct {
	occurredAt  time.Time
	JobID       uuid.UUID
	SequenceNum int64
	Summary     string
}

func NewJobCompletedEvent(jobID uuid.UUID, seq int64, summary string) JobCompletedEvent {
	return JobCompletedEvent{
		occurredAt:  time.Now().UTC(),
		JobID:       jobID,
		SequenceNum: seq,
		Summary:     summary,
	}
}

func (e JobCompletedEvent) EventType() events.EventType { return EventTypeJobCompleted }
func (e JobCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobFailedEvent means the job's work function returned an error it can't
// recover from. Reason carries the human-readable summary shown to clients.
type JobFailedEvent struct {
	occurredAt  time.Time
	JobID       uuid.UUID
	SequenceNum int64
	Reason      string
}

func NewJobFailedEvent(jobID uuid.UUID, seq int64, reason string) JobFailedEvent {
	return JobFailedEvent{
		occurredAt:  time.Now().UTC(),
		JobID:       jobID,
		SequenceNum: seq,
		Reason:      reason,
	}
}

func (e JobFailedEvent) EventType() events.EventType { return EventTypeJobFailed }
func (e JobFailedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobCancelledEvent means the job observed its cancellation flag at a
// checkpoint and stopped without running further steps.
type JobCancelledEvent struct {
	occurredAt  time.Time
	JobID       uuid.UUID
	SequenceNum int64
	Reason      string
}

func NewJobCancelledEvent(jobID uuid.UUID, seq int64, reason string) JobCancelledEvent {
	return JobCancelledEvent{
		occurredAt:  time.Now().UTC(),
		JobID:       jobID,
		SequenceNum: seq,
		Reason:      reason,
	}
}

func (e JobCancelledEvent) EventType() events.EventType { return EventTypeJobCancelled }
func (e JobCancelledEvent) OccurredAt() time.Time       { return e.occurredAt }
