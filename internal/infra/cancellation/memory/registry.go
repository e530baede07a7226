// Package memory provides a process-local cancellation registry for the
// in-process task runner and for tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
)

var _ jobs.CancellationRegistry = (*Registry)(nil)

// Registry is an in-memory jobs.CancellationRegistry. Flags expire after a
// fixed TTL, matching the durable registry's backstop.
type Registry struct {
	mu    sync.RWMutex
	ttl   time.Duration
	flags map[uuid.UUID]time.Time
	now   func() time.Time
}

// NewRegistry creates an in-memory registry whose flags expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:   ttl,
		flags: make(map[uuid.UUID]time.Time),
		now:   time.Now,
	}
}

// SetTimeProvider overrides the clock used for flag expiry in tests.
func (r *Registry) SetTimeProvider(now func() time.Time) { r.now = now }

func (r *Registry) RequestCancel(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flags[id] = r.now().Add(r.ttl)
	return nil
}

func (r *Registry) IsCancelled(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expiry, ok := r.flags[id]
	return ok && r.now().Before(expiry), nil
}

func (r *Registry) Clear(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.flags, id)
	return nil
}
