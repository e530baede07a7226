package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// Pool runs a fixed number of claim loops against the job queue. Each loop
// claims one pending job at a time and runs it to a terminal state, so the
// pool's size is the hard cap on concurrent jobs in this process.
type Pool struct {
	queue    jobs.Queue
	executor *Executor

	concurrency  int
	pollInterval time.Duration

	tracer trace.Tracer
	logger *logger.Logger
}

// NewPool creates a worker pool of the given concurrency. Idle workers poll
// the queue every pollInterval.
func NewPool(
	queue jobs.Queue,
	executor *Executor,
	concurrency int,
	pollInterval time.Duration,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Pool {
	return &Pool{
		queue:        queue,
		executor:     executor,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		tracer:       tracer,
		logger:       logger.With("component", "worker_pool"),
	}
}

// Run starts the claim loops and blocks until ctx is cancelled. Jobs already
// claimed finish their current step before the loop exits; their lease lets
// another worker reclaim anything left incomplete.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info(ctx, "starting worker pool",
		"concurrency", p.concurrency, "poll_interval", p.pollInterval.String())

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i
		g.Go(func() error { return p.claimLoop(ctx, workerID) })
	}
	return g.Wait()
}

func (p *Pool) claimLoop(ctx context.Context, workerID int) error {
	log := p.logger.With("worker_id", workerID)

	for {
		if err := ctx.Err(); err != nil {
			log.Info(ctx, "claim loop stopping")
			return nil
		}

		job, err := p.queue.Claim(ctx)
		switch {
		case errors.Is(err, jobs.ErrNoJob):
			if !sleepCtx(ctx, p.pollInterval) {
				return nil
			}
			continue
		case err != nil:
			log.Error(ctx, "failed to claim job", "error", err)
			if !sleepCtx(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		jobCtx, span := p.tracer.Start(ctx, "worker_pool.run_job",
			trace.WithAttributes(
				attribute.Int("worker_id", workerID),
				attribute.String("job_id", job.JobID().String()),
			))
		if err := p.executor.Execute(jobCtx, job); err != nil {
			span.RecordError(err)
			log.Error(jobCtx, "job execution failed to finalize",
				"job_id", job.JobID(), "error", err)
		}
		span.End()
	}
}

// sleepCtx sleeps for d unless ctx is done first. It reports whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Reclaimer periodically sweeps the queue for Running jobs whose lease
// expired, returning them to Pending. Exactly one reclaimer per deployment
// is enough, but running one per worker process is harmless since the sweep
// is idempotent.
type Reclaimer struct {
	queue    jobs.Queue
	interval time.Duration

	logger *logger.Logger
}

// NewReclaimer creates a reclaimer that sweeps every interval.
func NewReclaimer(queue jobs.Queue, interval time.Duration, logger *logger.Logger) *Reclaimer {
	return &Reclaimer{
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "lease_reclaimer"),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "starting lease reclaimer", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.queue.ReclaimExpired(ctx)
			if err != nil {
				r.logger.Error(ctx, "lease sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Warn(ctx, "reclaimed expired job leases", "count", n)
			}
		}
	}
}
