// Package cancellation composes cancellation registries.
package cancellation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
)

var _ jobs.CancellationRegistry = (Fanout)(nil)

// Fanout writes cancellation requests to every registry and reads from all
// of them. The server uses it to reach both the durable registry the workers
// watch and the in-memory one the task runner watches; whichever path owns
// the job observes its flag, the other's expires unclaimed.
type Fanout []jobs.CancellationRegistry

func (f Fanout) RequestCancel(ctx context.Context, id uuid.UUID) error {
	var errs []error
	for _, r := range f {
		if err := r.RequestCancel(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, r := range f {
		cancelled, err := r.IsCancelled(ctx, id)
		if err != nil {
			return false, err
		}
		if cancelled {
			return true, nil
		}
	}
	return false, nil
}

func (f Fanout) Clear(ctx context.Context, id uuid.UUID) error {
	var errs []error
	for _, r := range f {
		if err := r.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
