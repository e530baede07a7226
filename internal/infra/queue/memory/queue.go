// Package memory provides a process-local jobs.Queue for tests and the
// in-process task runner. It mirrors the durable queue's claim semantics
// with a mutex instead of row locks.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
)

var _ jobs.Queue = (*JobQueue)(nil)

type entry struct {
	job          *jobs.Job
	leaseExpires time.Time
}

// JobQueue is an in-memory jobs.Queue. All operations are safe for
// concurrent use; Claim hands each pending entry to exactly one caller.
type JobQueue struct {
	mu      sync.Mutex
	lease   time.Duration
	entries map[uuid.UUID]*entry
	pending []uuid.UUID
	now     func() time.Time
}

// NewJobQueue creates an in-memory queue with the given claim lease.
func NewJobQueue(lease time.Duration) *JobQueue {
	return &JobQueue{
		lease:   lease,
		entries: make(map[uuid.UUID]*entry),
		now:     time.Now,
	}
}

// SetTimeProvider overrides the clock used for lease accounting in tests.
func (q *JobQueue) SetTimeProvider(now func() time.Time) { q.now = now }

func (q *JobQueue) Enqueue(_ context.Context, payload json.RawMessage) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := jobs.NewJob(payload)
	q.entries[job.JobID()] = &entry{job: job}
	q.pending = append(q.pending, job.JobID())
	return job.JobID(), nil
}

func (q *JobQueue) Claim(_ context.Context) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		e, ok := q.entries[id]
		if !ok || e.job.Status() != jobs.JobStatusPending {
			// Entry was finalized while still queued; skip it.
			continue
		}

		if err := e.job.Start(); err != nil {
			return nil, err
		}
		e.leaseExpires = q.now().Add(q.lease)
		return e.job, nil
	}
	return nil, jobs.ErrNoJob
}

func (q *JobQueue) ReclaimExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var reclaimed int
	for id, e := range q.entries {
		if e.job.Status() != jobs.JobStatusRunning || q.now().Before(e.leaseExpires) {
			continue
		}
		if err := e.job.Requeue(); err != nil {
			continue
		}
		e.leaseExpires = time.Time{}
		q.pending = append(q.pending, id)
		reclaimed++
	}
	return reclaimed, nil
}

func (q *JobQueue) SaveProgress(_ context.Context, id uuid.UUID, percent int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[id]; ok && e.job.Status() == jobs.JobStatusRunning {
		e.job.UpdateProgress(percent)
	}
	return nil
}

func (q *JobQueue) ExtendLease(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[id]; ok && e.job.Status() == jobs.JobStatusRunning {
		e.leaseExpires = q.now().Add(q.lease)
	}
	return nil
}

func (q *JobQueue) MarkCompleted(_ context.Context, id uuid.UUID, summary string) error {
	return q.finalize(id, summary, (*jobs.Job).Complete)
}

func (q *JobQueue) MarkFailed(_ context.Context, id uuid.UUID, summary string) error {
	return q.finalize(id, summary, (*jobs.Job).Fail)
}

func (q *JobQueue) MarkCancelled(_ context.Context, id uuid.UUID, summary string) error {
	return q.finalize(id, summary, (*jobs.Job).Cancel)
}

func (q *JobQueue) finalize(id uuid.UUID, summary string, apply func(*jobs.Job, string) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if err := apply(e.job, summary); err != nil {
		return err
	}
	e.leaseExpires = time.Time{}
	return nil
}

func (q *JobQueue) GetJob(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return e.job.Snapshot(), nil
}
