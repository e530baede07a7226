// Package taskrunner executes jobs on goroutines inside the submitting
// process. It trades the queue's durability for immediacy: a process restart
// discards anything in flight, and nothing is ever reclaimed. Tasks publish
// onto the same event bus port as queued jobs, so subscribers cannot tell
// the two apart.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/rogerlew/longhaul/internal/app/worker"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

var _ jobs.StatusReader = (*Runner)(nil)

// Runner schedules in-process tasks. A weighted semaphore caps how many run
// at once so background work cannot starve the rest of the process; tasks
// past the cap sit Pending until a slot frees, where a cancellation request
// still reaches them before any work happens.
type Runner struct {
	queue    jobs.Queue
	executor *worker.Executor

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	rootCtx context.Context
	stop    context.CancelFunc

	tracer trace.Tracer
	logger *logger.Logger
}

// NewRunner creates a task runner allowing up to maxConcurrent simultaneous
// tasks. The queue must be the same store the executor writes state to.
func NewRunner(
	queue jobs.Queue,
	executor *worker.Executor,
	maxConcurrent int64,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Runner {
	rootCtx, stop := context.WithCancel(context.Background())
	return &Runner{
		queue:    queue,
		executor: executor,
		sem:      semaphore.NewWeighted(maxConcurrent),
		rootCtx:  rootCtx,
		stop:     stop,
		tracer:   tracer,
		logger:   logger.With("component", "task_runner"),
	}
}

// Run schedules payload for in-process execution and returns its handle
// immediately. The task's lifetime is bound to the runner, not to ctx; the
// submitting request can finish while the task keeps running.
func (r *Runner) Run(ctx context.Context, payload json.RawMessage) (uuid.UUID, error) {
	id, err := r.queue.Enqueue(ctx, payload)
	if err != nil {
		return uuid.Nil, err
	}

	r.wg.Add(1)
	go r.execute()

	r.logger.Info(ctx, "scheduled in-process task", "job_id", id)
	return id, nil
}

// execute claims one pending task once a semaphore slot frees and runs it to
// a terminal state. Goroutines and pending tasks are counted one-to-one, so
// each call finds an entry; which entry is irrelevant, they all get run.
func (r *Runner) execute() {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.rootCtx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)

	// Once a task holds a slot it runs to its terminal state; Shutdown only
	// aborts tasks still waiting on the semaphore.
	ctx, span := r.tracer.Start(context.Background(), "task_runner.run_task")
	defer span.End()

	job, err := r.queue.Claim(ctx)
	if errors.Is(err, jobs.ErrNoJob) {
		return
	}
	if err != nil {
		span.RecordError(err)
		r.logger.Error(ctx, "failed to claim in-process task", "error", err)
		return
	}

	if err := r.executor.Execute(ctx, job); err != nil {
		span.RecordError(err)
		r.logger.Error(ctx, "in-process task failed to finalize",
			"job_id", job.JobID(), "error", err)
	}
}

// GetJob returns the snapshot for an in-process task, or jobs.ErrJobNotFound.
func (r *Runner) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	return r.queue.GetJob(ctx, id)
}

// Shutdown stops accepting semaphore slots and waits for in-flight tasks.
// Pending tasks that never acquired a slot are discarded.
func (r *Runner) Shutdown() {
	r.stop()
	r.wg.Wait()
}
