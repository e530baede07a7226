// Package worker implements job execution: a pool of claim loops, the
// checkpointed executor they share, and the lease reclaimer that recovers
// jobs from crashed workers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/events"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// StepFunc performs one unit of a job's work. The executor calls it once per
// step between cancellation checkpoints; returning an error fails the job.
type StepFunc func(ctx context.Context, jobID uuid.UUID, step, total int) error

// SleepStep returns the canonical work function: each step sleeps for d,
// simulating a long-running computation.
func SleepStep(d time.Duration) StepFunc {
	return func(ctx context.Context, _ uuid.UUID, _, _ int) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// jobPayload is the wire shape of a job's input. N is the number of
// checkpointed steps to run.
type jobPayload struct {
	N int `json:"n"`
}

// Executor runs one claimed job to a terminal state. Between every step it
// checks the cancellation registry, so a cancel request takes effect at the
// next checkpoint rather than killing the worker mid-step.
//
// The executor only sees jobs.StateStore, jobs.CancellationRegistry and the
// event publisher, so the same code drives both durable queue jobs and
// in-process runner jobs.
type Executor struct {
	state     jobs.StateStore
	cancels   jobs.CancellationRegistry
	publisher events.DomainEventPublisher
	step      StepFunc

	tracer trace.Tracer
	logger *logger.Logger
}

// NewExecutor creates an executor that applies step to each checkpointed
// unit of work.
func NewExecutor(
	state jobs.StateStore,
	cancels jobs.CancellationRegistry,
	publisher events.DomainEventPublisher,
	step StepFunc,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Executor {
	return &Executor{
		state:     state,
		cancels:   cancels,
		publisher: publisher,
		step:      step,
		tracer:    tracer,
		logger:    logger.With("component", "job_executor"),
	}
}

// Execute runs job until it reaches exactly one terminal state. It always
// returns nil for job-level outcomes (success, failure, cancellation); a
// non-nil error means the terminal state itself could not be recorded.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job) (err error) {
	ctx, span := e.tracer.Start(ctx, "executor.execute_job",
		trace.WithAttributes(attribute.String("job_id", job.JobID().String())))
	defer span.End()

	var seq int64

	// A panicking work function must not take the worker down; it fails the
	// job like any other step error.
	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "job panicked")
			err = e.finalizeFailed(ctx, job.JobID(), seq, fmt.Sprintf("job panicked: %v", r))
		}
	}()

	var payload jobPayload
	if perr := json.Unmarshal(job.Payload(), &payload); perr != nil || payload.N <= 0 {
		span.SetStatus(codes.Error, "invalid payload")
		return e.finalizeFailed(ctx, job.JobID(), seq, fmt.Sprintf("invalid payload: %s", job.Payload()))
	}
	total := payload.N
	span.SetAttributes(attribute.Int("total_steps", total))

	// Checkpoint before the first step too, so a job cancelled while still
	// queued never performs any work.
	if e.isCancelled(ctx, job.JobID()) {
		span.AddEvent("cancelled_before_first_step")
		return e.finalizeCancelled(ctx, job.JobID(), seq)
	}

	// Zero-percent progress tells subscribers execution has begun.
	seq = e.reportProgress(ctx, job.JobID(), seq, 0, total)

	for i := 1; i <= total; i++ {
		if e.isCancelled(ctx, job.JobID()) {
			span.AddEvent("cancelled_at_checkpoint", trace.WithAttributes(attribute.Int("step", i)))
			return e.finalizeCancelled(ctx, job.JobID(), seq)
		}

		if serr := e.step(ctx, job.JobID(), i, total); serr != nil {
			span.RecordError(serr)
			span.SetStatus(codes.Error, "step failed")
			return e.finalizeFailed(ctx, job.JobID(), seq, fmt.Sprintf("step %d/%d failed: %v", i, total, serr))
		}

		seq = e.reportProgress(ctx, job.JobID(), seq, i*100/total, total)

		if lerr := e.state.ExtendLease(ctx, job.JobID()); lerr != nil {
			e.logger.Warn(ctx, "failed to extend lease", "job_id", job.JobID(), "error", lerr)
		}
	}

	summary := fmt.Sprintf("completed %d steps", total)
	if merr := e.state.MarkCompleted(ctx, job.JobID(), summary); merr != nil {
		return fmt.Errorf("marking job completed: %w", merr)
	}
	e.publish(ctx, jobs.NewJobCompletedEvent(job.JobID(), seq+1, summary), job.JobID())
	e.clearFlag(ctx, job.JobID())

	span.SetStatus(codes.Ok, "job completed")
	return nil
}

// reportProgress publishes a progress event and persists the percentage.
// Both are fire-and-forget: a flaky bus or store must never fail the job.
func (e *Executor) reportProgress(ctx context.Context, id uuid.UUID, seq int64, percent, total int) int64 {
	seq++
	progress := jobs.NewProgress(id, seq, percent, fmt.Sprintf("%d%% of %d steps", percent, total))
	e.publish(ctx, jobs.NewJobProgressedEvent(progress), id)

	if err := e.state.SaveProgress(ctx, id, percent); err != nil {
		e.logger.Warn(ctx, "failed to persist progress", "job_id", id, "percent", percent, "error", err)
	}
	return seq
}

// isCancelled checks the registry, treating lookup failures as not
// cancelled. A dead flag store should stall cancellation, not execution.
func (e *Executor) isCancelled(ctx context.Context, id uuid.UUID) bool {
	cancelled, err := e.cancels.IsCancelled(ctx, id)
	if err != nil {
		e.logger.Warn(ctx, "cancellation check failed", "job_id", id, "error", err)
		return false
	}
	return cancelled
}

func (e *Executor) finalizeCancelled(ctx context.Context, id uuid.UUID, seq int64) error {
	const reason = "cancelled by request"
	if err := e.state.MarkCancelled(ctx, id, reason); err != nil {
		return fmt.Errorf("marking job cancelled: %w", err)
	}
	e.publish(ctx, jobs.NewJobCancelledEvent(id, seq+1, reason), id)
	e.clearFlag(ctx, id)
	return nil
}

func (e *Executor) finalizeFailed(ctx context.Context, id uuid.UUID, seq int64, reason string) error {
	if err := e.state.MarkFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	e.publish(ctx, jobs.NewJobFailedEvent(id, seq+1, reason), id)
	e.clearFlag(ctx, id)
	return nil
}

func (e *Executor) publish(ctx context.Context, evt events.DomainEvent, id uuid.UUID) {
	if err := e.publisher.PublishDomainEvent(ctx, evt, events.WithKey(id.String())); err != nil {
		e.logger.Warn(ctx, "failed to publish job event",
			"job_id", id, "event_type", evt.EventType(), "error", err)
	}
}

func (e *Executor) clearFlag(ctx context.Context, id uuid.UUID) {
	if err := e.cancels.Clear(ctx, id); err != nil {
		e.logger.Warn(ctx, "failed to clear cancellation flag", "job_id", id, "error", err)
	}
}
