package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rogerlew/longhaul/internal/domain/events"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	cancelmem "github.com/rogerlew/longhaul/internal/infra/cancellation/memory"
	queuemem "github.com/rogerlew/longhaul/internal/infra/queue/memory"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// capturingPublisher records published domain events in order.
type capturingPublisher struct {
	mu       sync.Mutex
	events   []events.DomainEvent
	failWith error
}

func (p *capturingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *capturingPublisher) all() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.DomainEvent(nil), p.events...)
}

type executorHarness struct {
	queue     *queuemem.JobQueue
	registry  *cancelmem.Registry
	publisher *capturingPublisher
}

func newExecutor(t *testing.T, step StepFunc) (*Executor, *executorHarness) {
	t.Helper()

	h := &executorHarness{
		queue:     queuemem.NewJobQueue(time.Minute),
		registry:  cancelmem.NewRegistry(time.Hour),
		publisher: &capturingPublisher{},
	}
	exec := NewExecutor(
		h.queue,
		h.registry,
		h.publisher,
		step,
		noop.NewTracerProvider().Tracer("test"),
		logger.New(io.Discard, logger.LevelInfo, "test", nil),
	)
	return exec, h
}

func (h *executorHarness) enqueueAndClaim(t *testing.T, payload string) *jobs.Job {
	t.Helper()
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, json.RawMessage(payload))
	require.NoError(t, err)
	job, err := h.queue.Claim(ctx)
	require.NoError(t, err)
	return job
}

func noopStep(context.Context, uuid.UUID, int, int) error { return nil }

func TestExecutor_RunsToCompletion(t *testing.T) {
	t.Parallel()

	exec, h := newExecutor(t, noopStep)
	job := h.enqueueAndClaim(t, `{"n": 4}`)

	require.NoError(t, exec.Execute(context.Background(), job))

	got := h.publisher.all()
	require.Len(t, got, 6, "zero-percent progress + 4 step progresses + completed")

	wantPercents := []int{0, 25, 50, 75, 100}
	for i, want := range wantPercents {
		progressed, ok := got[i].(jobs.JobProgressedEvent)
		require.True(t, ok, "event %d should be progress", i)
		assert.Equal(t, want, progressed.Progress.Percent())
		assert.Equal(t, int64(i+1), progressed.Progress.SequenceNum(), "sequence numbers are monotonic")
	}

	completed, ok := got[5].(jobs.JobCompletedEvent)
	require.True(t, ok, "final event should be the terminal one")
	assert.Equal(t, "completed 4 steps", completed.Summary)

	stored, err := h.queue.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusSucceeded, stored.Status())
	assert.Equal(t, 100, stored.Percent())
}

func TestExecutor_CancelledBeforeFirstStep(t *testing.T) {
	t.Parallel()

	var steps int
	exec, h := newExecutor(t, func(context.Context, uuid.UUID, int, int) error {
		steps++
		return nil
	})
	job := h.enqueueAndClaim(t, `{"n": 5}`)

	ctx := context.Background()
	require.NoError(t, h.registry.RequestCancel(ctx, job.JobID()))
	require.NoError(t, exec.Execute(ctx, job))

	assert.Zero(t, steps, "no work runs for a pre-cancelled job")

	got := h.publisher.all()
	require.Len(t, got, 1)
	_, ok := got[0].(jobs.JobCancelledEvent)
	assert.True(t, ok)

	stored, err := h.queue.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, stored.Status())

	cancelled, err := h.registry.IsCancelled(ctx, job.JobID())
	require.NoError(t, err)
	assert.False(t, cancelled, "flag is cleared on terminal observation")
}

func TestExecutor_CancelledAtCheckpoint(t *testing.T) {
	t.Parallel()

	h := &executorHarness{
		queue:     queuemem.NewJobQueue(time.Minute),
		registry:  cancelmem.NewRegistry(time.Hour),
		publisher: &capturingPublisher{},
	}

	var steps int
	step := func(ctx context.Context, id uuid.UUID, _, _ int) error {
		steps++
		if steps == 2 {
			// Request lands mid-run; the executor notices before step 3.
			require.NoError(t, h.registry.RequestCancel(ctx, id))
		}
		return nil
	}
	exec := NewExecutor(h.queue, h.registry, h.publisher, step,
		noop.NewTracerProvider().Tracer("test"),
		logger.New(io.Discard, logger.LevelInfo, "test", nil))

	job := h.enqueueAndClaim(t, `{"n": 5}`)
	require.NoError(t, exec.Execute(context.Background(), job))

	assert.Equal(t, 2, steps, "no step runs after the flag is observed")

	got := h.publisher.all()
	require.NotEmpty(t, got)
	_, ok := got[len(got)-1].(jobs.JobCancelledEvent)
	assert.True(t, ok, "exactly one terminal event, and it is cancellation")
	for _, evt := range got[:len(got)-1] {
		_, isProgress := evt.(jobs.JobProgressedEvent)
		assert.True(t, isProgress)
	}

	stored, err := h.queue.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, stored.Status())
}

func TestExecutor_StepErrorFailsJob(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	exec, h := newExecutor(t, func(_ context.Context, _ uuid.UUID, step, _ int) error {
		if step == 2 {
			return boom
		}
		return nil
	})
	job := h.enqueueAndClaim(t, `{"n": 3}`)

	require.NoError(t, exec.Execute(context.Background(), job),
		"job-level failures are not executor errors")

	got := h.publisher.all()
	var failures int
	for _, evt := range got {
		if _, ok := evt.(jobs.JobFailedEvent); ok {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one failed event")

	failed, ok := got[len(got)-1].(jobs.JobFailedEvent)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "step 2/3")

	stored, err := h.queue.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status())
}

func TestExecutor_RecoversPanickingStep(t *testing.T) {
	t.Parallel()

	exec, h := newExecutor(t, func(context.Context, uuid.UUID, int, int) error {
		panic("work function exploded")
	})
	job := h.enqueueAndClaim(t, `{"n": 3}`)

	require.NoError(t, exec.Execute(context.Background(), job))

	stored, err := h.queue.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status())
	assert.Contains(t, stored.Summary(), "panicked")
}

func TestExecutor_InvalidPayloadFailsJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `nope`},
		{"missing n", `{}`},
		{"zero steps", `{"n": 0}`},
		{"negative steps", `{"n": -2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec, h := newExecutor(t, noopStep)
			job := h.enqueueAndClaim(t, tt.payload)

			require.NoError(t, exec.Execute(context.Background(), job))

			stored, err := h.queue.GetJob(context.Background(), job.JobID())
			require.NoError(t, err)
			assert.Equal(t, jobs.JobStatusFailed, stored.Status())
		})
	}
}

func TestExecutor_PublishFailureDoesNotFailJob(t *testing.T) {
	t.Parallel()

	exec, h := newExecutor(t, noopStep)
	h.publisher.failWith = errors.New("bus unavailable")
	job := h.enqueueAndClaim(t, `{"n": 3}`)

	require.NoError(t, exec.Execute(context.Background(), job))

	stored, err := h.queue.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusSucceeded, stored.Status())
	assert.Equal(t, 100, stored.Percent())
}
