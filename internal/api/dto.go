package api

import (
	"time"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
)

// jobDTO is the status snapshot returned to clients.
type jobDTO struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Percent     int    `json:"percent"`
	Summary     string `json:"summary,omitempty"`
	EnqueuedAt  string `json:"enqueued_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toJobDTO(job *jobs.Job) jobDTO {
	dto := jobDTO{
		JobID:      job.JobID().String(),
		Status:     string(job.Status()),
		Percent:    job.Percent(),
		Summary:    job.Summary(),
		EnqueuedAt: job.EnqueuedAt().UTC().Format(time.RFC3339),
	}
	if !job.StartedAt().IsZero() {
		dto.StartedAt = job.StartedAt().UTC().Format(time.RFC3339)
	}
	if completedAt, ok := job.CompletedAt(); ok {
		dto.CompletedAt = completedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

type progressDTO struct {
	JobID   string `json:"job_id"`
	Seq     int64  `json:"seq"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

type terminalDTO struct {
	JobID   string `json:"job_id"`
	Seq     int64  `json:"seq"`
	Summary string `json:"summary,omitempty"`
}

// toEventDTO maps a bus event payload to its stream name and JSON body, and
// reports whether it ends the stream. Unknown payloads map to an empty name
// and are skipped.
func toEventDTO(payload any) (string, any, bool) {
	switch evt := payload.(type) {
	case jobs.JobProgressedEvent:
		return "progress", progressDTO{
			JobID:   evt.Progress.JobID().String(),
			Seq:     evt.Progress.SequenceNum(),
			Percent: evt.Progress.Percent(),
			Message: evt.Progress.Message(),
		}, false
	case jobs.JobCompletedEvent:
		return "completed", terminalDTO{
			JobID:   evt.JobID.String(),
			Seq:     evt.SequenceNum,
			Summary: evt.Summary,
		}, true
	case jobs.JobFailedEvent:
		return "failed", terminalDTO{
			JobID:   evt.JobID.String(),
			Seq:     evt.SequenceNum,
			Summary: evt.Reason,
		}, true
	case jobs.JobCancelledEvent:
		return "cancelled", terminalDTO{
			JobID:   evt.JobID.String(),
			Seq:     evt.SequenceNum,
			Summary: evt.Reason,
		}, true
	default:
		return "", nil, false
	}
}
