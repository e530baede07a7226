// Package postgres provides the durable, PostgreSQL-backed job queue.
// A single jobs table holds the queue, the execution state and the status
// snapshot; claims rely on FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same entry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/internal/infra/storage"
)

var _ jobs.Queue = (*jobQueue)(nil)

// jobQueue implements jobs.Queue against PostgreSQL. Every mutation is a
// single statement, so no explicit transactions are needed; row locking
// inside the claim statement provides the mutual exclusion.
type jobQueue struct {
	db     *pgxpool.Pool
	lease  time.Duration
	tracer trace.Tracer
}

// NewJobQueue creates a PostgreSQL-backed job queue. Claimed jobs hold a
// lease of the given duration; a worker that stops extending it loses the
// job to ReclaimExpired.
func NewJobQueue(pool *pgxpool.Pool, lease time.Duration, tracer trace.Tracer) *jobQueue {
	return &jobQueue{db: pool, lease: lease, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Enqueue stores a new Pending job and returns its identifier. Storage
// errors wrap jobs.ErrQueueUnavailable so the gateway can surface a
// retryable failure without leaking driver details.
func (q *jobQueue) Enqueue(ctx context.Context, payload json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()

	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.enqueue_job", dbAttrs, func(ctx context.Context) error {
		_, err := q.db.Exec(ctx,
			`INSERT INTO jobs (job_id, payload) VALUES ($1, $2)`,
			pgtype.UUID{Bytes: id, Valid: true}, payload,
		)
		if err != nil {
			return fmt.Errorf("%w: enqueue insert error: %v", jobs.ErrQueueUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Claim atomically flips the oldest Pending entry to Running and stamps its
// lease. The inner select takes the row lock with SKIP LOCKED, so concurrent
// claimers skip past each other instead of blocking or double-claiming.
func (q *jobQueue) Claim(ctx context.Context) (*jobs.Job, error) {
	var job *jobs.Job
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.claim_job", defaultDBAttributes, func(ctx context.Context) error {
		row := q.db.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'RUNNING',
				started_at = NOW(),
				lease_expires_at = NOW() + make_interval(secs => $1)
			WHERE job_id = (
				SELECT job_id FROM jobs
				WHERE status = 'PENDING'
				ORDER BY enqueued_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING job_id, payload, status, percent, summary, enqueued_at, started_at, completed_at`,
			q.lease.Seconds(),
		)

		var err error
		job, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.ErrNoJob
		}
		if err != nil {
			return fmt.Errorf("claim job error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ReclaimExpired moves Running jobs with a lapsed lease back to Pending so
// another worker can pick them up. Progress resets since execution restarts
// from the first step.
func (q *jobQueue) ReclaimExpired(ctx context.Context) (int, error) {
	var reclaimed int
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.reclaim_expired", defaultDBAttributes, func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE jobs SET
				status = 'PENDING',
				percent = 0,
				started_at = NULL,
				lease_expires_at = NULL
			WHERE status = 'RUNNING' AND lease_expires_at < NOW()`,
		)
		if err != nil {
			return fmt.Errorf("reclaim expired error: %w", err)
		}
		reclaimed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// SaveProgress persists the last observed completion percentage. A zero row
// count means the job was reclaimed or finished meanwhile; the stale writer
// simply loses, which is the intended outcome.
func (q *jobQueue) SaveProgress(ctx context.Context, id uuid.UUID, percent int) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.Int("percent", percent),
	)
	return storage.ExecuteAndTrace(ctx, q.tracer, "postgres.save_progress", dbAttrs, func(ctx context.Context) error {
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET percent = $2 WHERE job_id = $1 AND status = 'RUNNING'`,
			pgtype.UUID{Bytes: id, Valid: true}, percent,
		)
		if err != nil {
			return fmt.Errorf("save progress error: %w", err)
		}
		return nil
	})
}

// ExtendLease renews the claim lease, signalling the worker is still alive.
func (q *jobQueue) ExtendLease(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	return storage.ExecuteAndTrace(ctx, q.tracer, "postgres.extend_lease", dbAttrs, func(ctx context.Context) error {
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET lease_expires_at = NOW() + make_interval(secs => $2)
			WHERE job_id = $1 AND status = 'RUNNING'`,
			pgtype.UUID{Bytes: id, Valid: true}, q.lease.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("extend lease error: %w", err)
		}
		return nil
	})
}

// MarkCompleted writes the successful terminal state. Percent snaps to 100
// so a status read after the final event agrees with it.
func (q *jobQueue) MarkCompleted(ctx context.Context, id uuid.UUID, summary string) error {
	return q.markTerminal(ctx, "postgres.mark_completed", id, jobs.JobStatusSucceeded, summary, 100)
}

// MarkFailed writes the failed terminal state with the failure reason.
func (q *jobQueue) MarkFailed(ctx context.Context, id uuid.UUID, summary string) error {
	return q.markTerminal(ctx, "postgres.mark_failed", id, jobs.JobStatusFailed, summary, -1)
}

// MarkCancelled writes the cancelled terminal state.
func (q *jobQueue) MarkCancelled(ctx context.Context, id uuid.UUID, summary string) error {
	return q.markTerminal(ctx, "postgres.mark_cancelled", id, jobs.JobStatusCancelled, summary, -1)
}

// markTerminal finalizes a non-terminal job. Percent below zero keeps the
// last recorded value. Zero rows affected means the job is unknown or
// already terminal; terminal writes are final, so that surfaces as
// ErrJobNotFound instead of being silently swallowed.
func (q *jobQueue) markTerminal(ctx context.Context, spanName string, id uuid.UUID, status jobs.JobStatus, summary string, percent int) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", id.String()),
		attribute.String("status", string(status)),
	)
	return storage.ExecuteAndTrace(ctx, q.tracer, spanName, dbAttrs, func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE jobs SET
				status = $2,
				summary = $3,
				percent = CASE WHEN $4 >= 0 THEN $4 ELSE percent END,
				completed_at = NOW(),
				lease_expires_at = NULL
			WHERE job_id = $1 AND status IN ('PENDING', 'RUNNING')`,
			pgtype.UUID{Bytes: id, Valid: true}, string(status), summary, percent,
		)
		if err != nil {
			return fmt.Errorf("mark terminal error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrJobNotFound
		}
		return nil
	})
}

// GetJob returns the current snapshot for id, or jobs.ErrJobNotFound.
func (q *jobQueue) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var job *jobs.Job
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := q.db.QueryRow(ctx,
			`SELECT job_id, payload, status, percent, summary, enqueued_at, started_at, completed_at
			FROM jobs WHERE job_id = $1`,
			pgtype.UUID{Bytes: id, Valid: true},
		)

		var err error
		job, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("get job error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// scanJob reconstructs a domain job from the canonical column order used by
// every job-returning query in this package.
func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		jobID      pgtype.UUID
		payload    []byte
		rawStatus  string
		percent    int
		summary    string
		enqueuedAt pgtype.Timestamptz
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)
	if err := row.Scan(&jobID, &payload, &rawStatus, &percent, &summary, &enqueuedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	status := jobs.ParseJobStatus(rawStatus)
	if status == "" {
		return nil, fmt.Errorf("invalid status in row: %q", rawStatus)
	}

	return jobs.ReconstructJob(
		uuid.UUID(jobID.Bytes),
		payload,
		status,
		percent,
		summary,
		timeOrZero(enqueuedAt),
		timeOrZero(startedAt),
		timeOrZero(finishedAt),
	), nil
}

func timeOrZero(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}
