package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Progress is an immutable snapshot of how far a job has advanced. One is
// emitted at every checkpoint, including a zero-percent snapshot before the
// first checkpoint runs so watchers see the job the moment it starts.
type Progress struct {
	jobID       uuid.UUID
	sequenceNum int64
	percent     int
	message     string
	timestamp   time.Time
}

// NewProgress creates a progress snapshot for a job. Sequence numbers are
// assigned by the emitting worker and increase monotonically per job, letting
// subscribers detect gaps in the at-most-once event stream.
func NewProgress(jobID uuid.UUID, sequenceNum int64, percent int, message string) Progress {
	return Progress{
		jobID:       jobID,
		sequenceNum: sequenceNum,
		percent:     percent,
		message:     message,
		timestamp:   time.Now().UTC(),
	}
}

// ReconstructProgress rebuilds a snapshot from wire data. Repositories and
// codecs only; bypasses no invariants as Progress has none beyond its fields.
func ReconstructProgress(jobID uuid.UUID, sequenceNum int64, percent int, message string, timestamp time.Time) Progress {
	return Progress{
		jobID:       jobID,
		sequenceNum: sequenceNum,
		percent:     percent,
		message:     message,
		timestamp:   timestamp,
	}
}

// JobID returns the job this snapshot belongs to.
func (p Progress) JobID() uuid.UUID { return p.jobID }

// SequenceNum returns the per-job monotonic sequence number.
func (p Progress) SequenceNum() int64 { return p.sequenceNum }

// Percent returns the integer completion percentage (0-100).
func (p Progress) Percent() int { return p.percent }

// Message returns the optional human-readable progress note.
func (p Progress) Message() string { return p.message }

// Timestamp returns when the snapshot was taken.
func (p Progress) Timestamp() time.Time { return p.timestamp }
