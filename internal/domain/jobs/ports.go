package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Queue is the durable hand-off point between submission and execution.
// Entries are owned by the queue while Pending and by exactly one worker
// after a successful Claim; no two workers ever receive the same entry.
type Queue interface {
	// Enqueue stores a new Pending job and returns its fresh identifier. It
	// returns immediately; no execution happens synchronously. When the
	// backing store is unreachable the error wraps ErrQueueUnavailable and
	// the job was never created.
	Enqueue(ctx context.Context, payload json.RawMessage) (uuid.UUID, error)

	// Claim atomically removes and returns one Pending entry, transitioning
	// it to Running under a bounded lease. Concurrent callers never receive
	// the same entry. Returns ErrNoJob when nothing is pending.
	Claim(ctx context.Context) (*Job, error)

	// ReclaimExpired returns Running entries whose lease lapsed without a
	// terminal write back to Pending, making a crashed worker's job claimable
	// again. It reports how many entries were reclaimed.
	ReclaimExpired(ctx context.Context) (int, error)

	StateStore
	StatusReader
}

// StateStore records execution-side state changes for a job. The durable
// queue implements it against its backing store; the in-process runner
// implements it over a process-local map. Keeping it separate from Queue lets
// the executor drive both paths through one seam.
type StateStore interface {
	// SaveProgress persists the last observed completion percentage so a
	// status read can report it after missed events.
	SaveProgress(ctx context.Context, id uuid.UUID, percent int) error

	// ExtendLease renews the claim lease at a checkpoint, signalling the
	// worker is alive. Implementations without leases treat it as a no-op.
	ExtendLease(ctx context.Context, id uuid.UUID) error

	// MarkCompleted, MarkFailed and MarkCancelled write a terminal status and
	// its human-readable summary. Terminal writes are final; results are
	// observed through events or a status read, never by re-claiming.
	MarkCompleted(ctx context.Context, id uuid.UUID, summary string) error
	MarkFailed(ctx context.Context, id uuid.UUID, summary string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, summary string) error
}

// StatusReader serves the point-in-time status snapshot clients use to
// reconcile after a reconnect. It is a read path only; live updates flow over
// the event bus.
type StatusReader interface {
	// GetJob returns the current snapshot for id, or ErrJobNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
}

// CancellationRegistry is the shared flag store that carries cooperative
// cancellation signals across the process boundary between the web tier and
// workers. It owns no job semantics.
type CancellationRegistry interface {
	// RequestCancel sets the flag for id. It is idempotent and always
	// succeeds, even for unknown or already-terminal jobs; those requests are
	// harmless no-ops by contract, not errors.
	RequestCancel(ctx context.Context, id uuid.UUID) error

	// IsCancelled reports whether the flag is set for id. Workers call it at
	// every checkpoint; it must be cheap and read-mostly.
	IsCancelled(ctx context.Context, id uuid.UUID) (bool, error)

	// Clear removes the flag once the job reaches a terminal state. Flags
	// also carry a bounded expiry as a backstop, so Clear failing is not
	// fatal.
	Clear(ctx context.Context, id uuid.UUID) error
}
