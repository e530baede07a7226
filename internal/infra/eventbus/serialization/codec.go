// Package serialization translates job domain events to and from the JSON
// wire format carried on the progress event bus. The wire shape is fixed:
//
//	{ "job_id": string, "kind": "progress"|"completed"|"failed"|"cancelled",
//	  "seq": integer, "ts": RFC3339, "data": map }
//
// Both the publishing (worker) and subscribing (bridge) sides go through this
// package, so a schema drift between the two deployable units is impossible.
package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rogerlew/longhaul/internal/domain/events"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
)

// Wire event kinds. These are the cross-language contract with browser
// clients and must not change independently of them.
const (
	kindProgress  = "progress"
	kindCompleted = "completed"
	kindFailed    = "failed"
	kindCancelled = "cancelled"
)

// wireEvent is the envelope as it appears on the bus.
type wireEvent struct {
	JobID string         `json:"job_id"`
	Kind  string         `json:"kind"`
	Seq   int64          `json:"seq"`
	TS    time.Time      `json:"ts"`
	Data  map[string]any `json:"data"`
}

// SerializeEventEnvelope encodes a domain event payload into its wire form.
// Returns an error for payload types that do not belong on the progress bus.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	var we wireEvent

	switch p := payload.(type) {
	case jobs.JobProgressedEvent:
		we = wireEvent{
			JobID: p.Progress.JobID().String(),
			Kind:  kindProgress,
			Seq:   p.Progress.SequenceNum(),
			TS:    p.Progress.Timestamp(),
			Data: map[string]any{
				"percent": p.Progress.Percent(),
				"message": p.Progress.Message(),
			},
		}
	case jobs.JobCompletedEvent:
		we = wireEvent{
			JobID: p.JobID.String(),
			Kind:  kindCompleted,
			Seq:   p.SequenceNum,
			TS:    p.OccurredAt(),
			Data:  map[string]any{"message": p.Summary},
		}
	case jobs.JobFailedEvent:
		we = wireEvent{
			JobID: p.JobID.String(),
			Kind:  kindFailed,
			Seq:   p.SequenceNum,
			TS:    p.OccurredAt(),
			Data:  map[string]any{"message": p.Reason},
		}
	case jobs.JobCancelledEvent:
		we = wireEvent{
			JobID: p.JobID.String(),
			Kind:  kindCancelled,
			Seq:   p.SequenceNum,
			TS:    p.OccurredAt(),
			Data:  map[string]any{"message": p.Reason},
		}
	default:
		return nil, fmt.Errorf("unsupported payload type %T for event %s", payload, eventType)
	}

	b, err := json.Marshal(we)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s event: %w", we.Kind, err)
	}
	return b, nil
}

// DeserializeEventEnvelope decodes wire bytes back into the event type, the
// routing key (job id), and a typed domain payload.
func DeserializeEventEnvelope(data []byte) (events.EventType, string, any, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return "", "", nil, fmt.Errorf("unmarshaling wire event: %w", err)
	}

	jobID, err := uuid.Parse(we.JobID)
	if err != nil {
		return "", "", nil, fmt.Errorf("invalid job_id %q: %w", we.JobID, err)
	}

	message, _ := we.Data["message"].(string)

	switch we.Kind {
	case kindProgress:
		percent := 0
		// JSON numbers decode as float64.
		if f, ok := we.Data["percent"].(float64); ok {
			percent = int(f)
		}
		p := jobs.ReconstructProgress(jobID, we.Seq, percent, message, we.TS)
		return jobs.EventTypeJobProgressed, we.JobID, jobs.NewJobProgressedEvent(p), nil
	case kindCompleted:
		return jobs.EventTypeJobCompleted, we.JobID, jobs.NewJobCompletedEvent(jobID, we.Seq, message), nil
	case kindFailed:
		return jobs.EventTypeJobFailed, we.JobID, jobs.NewJobFailedEvent(jobID, we.Seq, message), nil
	case kindCancelled:
		return jobs.EventTypeJobCancelled, we.JobID, jobs.NewJobCancelledEvent(jobID, we.Seq, message), nil
	default:
		return "", "", nil, fmt.Errorf("unknown wire event kind %q", we.Kind)
	}
}
