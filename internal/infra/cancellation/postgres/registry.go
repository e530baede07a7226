// Package postgres provides the PostgreSQL-backed cancellation registry.
// Flags live in a dedicated table with a bounded expiry, so a missed Clear
// after a terminal write cannot leave a flag behind forever.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/internal/infra/storage"
)

var _ jobs.CancellationRegistry = (*registry)(nil)

type registry struct {
	db     *pgxpool.Pool
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRegistry creates a PostgreSQL-backed cancellation registry whose flags
// expire after ttl.
func NewRegistry(pool *pgxpool.Pool, ttl time.Duration, tracer trace.Tracer) *registry {
	return &registry{db: pool, ttl: ttl, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// RequestCancel sets the flag for id. Repeated requests refresh the expiry;
// there is no other state to carry, which is what makes the call idempotent.
func (r *registry) RequestCancel(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.request_cancel", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO cancellations (job_id, expires_at)
			VALUES ($1, NOW() + make_interval(secs => $2))
			ON CONFLICT (job_id) DO UPDATE
			SET requested_at = NOW(), expires_at = EXCLUDED.expires_at`,
			pgtype.UUID{Bytes: id, Valid: true}, r.ttl.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("request cancel error: %w", err)
		}
		return nil
	})
}

// IsCancelled reports whether a live (non-expired) flag exists for id.
func (r *registry) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelled bool
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.is_cancelled", dbAttrs, func(ctx context.Context) error {
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM cancellations WHERE job_id = $1 AND expires_at > NOW()
			)`,
			pgtype.UUID{Bytes: id, Valid: true},
		).Scan(&cancelled)
		if err != nil {
			return fmt.Errorf("is cancelled query error: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// Clear removes the flag for id. Missing flags are fine; expiry is the
// backstop for a Clear that never happens.
func (r *registry) Clear(ctx context.Context, id uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.clear_cancel", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx,
			`DELETE FROM cancellations WHERE job_id = $1`,
			pgtype.UUID{Bytes: id, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("clear cancel error: %w", err)
		}
		return nil
	})
}
