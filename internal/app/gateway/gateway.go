// Package gateway is the submission surface of the job system. It sits
// where the web tier hands work over: authorization, routing to the durable
// queue or the in-process runner, cancellation requests and status reads.
// HTTP handling itself stays outside; handlers call this service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// Principal identifies the caller on behalf of whom a job operation runs.
type Principal struct {
	ID    string
	Roles []string
}

// Authorizer decides whether a principal may operate on jobs. The identity
// layer lives outside this system; this port is where its decision plugs in.
type Authorizer interface {
	// Authorize returns ErrNotAuthorized (possibly wrapped) when the
	// principal may not perform the named action.
	Authorize(ctx context.Context, principal Principal, action Action) error
}

// Action names a gateway operation for authorization purposes.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionCancel Action = "cancel"
)

// ErrNotAuthorized indicates the authorizer rejected the principal.
var ErrNotAuthorized = errors.New("not authorized")

// AllowAll is an Authorizer that admits every principal. It is the default
// for deployments that terminate auth upstream.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, Principal, Action) error { return nil }

// Durability selects which execution path a submission takes.
type Durability string

const (
	// Durable submissions survive process restarts: the job enters the
	// persistent queue and any worker replica may run it.
	Durable Durability = "durable"

	// Ephemeral submissions run on a goroutine inside this process and are
	// lost on restart.
	Ephemeral Durability = "ephemeral"
)

// JobExecutor accepts a payload for execution and returns its handle. Both
// the durable queue and the in-process runner satisfy it, which is what lets
// the gateway dispatch on a durability tag instead of knowing either path.
type JobExecutor interface {
	Execute(ctx context.Context, payload json.RawMessage) (uuid.UUID, error)
}

// JobExecutorFunc adapts a function to the JobExecutor interface.
type JobExecutorFunc func(ctx context.Context, payload json.RawMessage) (uuid.UUID, error)

func (f JobExecutorFunc) Execute(ctx context.Context, payload json.RawMessage) (uuid.UUID, error) {
	return f(ctx, payload)
}

// Gateway routes job submissions, cancellations and status reads.
type Gateway struct {
	authorizer Authorizer
	registry   jobs.CancellationRegistry
	executors  map[Durability]JobExecutor
	readers    []jobs.StatusReader

	tracer trace.Tracer
	logger *logger.Logger
}

// NewGateway wires the submission service. Status reads consult the durable
// store first and fall back to the in-process runner, in the order readers
// are given.
func NewGateway(
	authorizer Authorizer,
	registry jobs.CancellationRegistry,
	durable, ephemeral JobExecutor,
	readers []jobs.StatusReader,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Gateway {
	return &Gateway{
		authorizer: authorizer,
		registry:   registry,
		executors: map[Durability]JobExecutor{
			Durable:   durable,
			Ephemeral: ephemeral,
		},
		readers: readers,
		tracer:  tracer,
		logger:  logger.With("component", "job_gateway"),
	}
}

// SubmitJob authorizes the principal and hands payload to the path selected
// by durability. It returns the job's handle; execution happens elsewhere.
func (g *Gateway) SubmitJob(
	ctx context.Context,
	principal Principal,
	payload json.RawMessage,
	durability Durability,
) (uuid.UUID, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.submit_job",
		trace.WithAttributes(
			attribute.String("principal_id", principal.ID),
			attribute.String("durability", string(durability)),
		))
	defer span.End()

	if err := g.authorizer.Authorize(ctx, principal, ActionSubmit); err != nil {
		span.SetStatus(codes.Error, "authorization failed")
		return uuid.Nil, fmt.Errorf("submit authorization: %w", err)
	}

	executor, ok := g.executors[durability]
	if !ok {
		span.SetStatus(codes.Error, "unknown durability")
		return uuid.Nil, fmt.Errorf("unknown durability %q", durability)
	}

	id, err := executor.Execute(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		return uuid.Nil, err
	}
	span.SetAttributes(attribute.String("job_id", id.String()))

	g.logger.Info(ctx, "job submitted",
		"job_id", id, "principal_id", principal.ID, "durability", durability)
	return id, nil
}

// CancelJob records a cancellation request for id. It is idempotent and
// succeeds for unknown or already-terminal jobs; the running side observes
// the flag at its next checkpoint, or never, and both are correct.
func (g *Gateway) CancelJob(ctx context.Context, principal Principal, id uuid.UUID) error {
	ctx, span := g.tracer.Start(ctx, "gateway.cancel_job",
		trace.WithAttributes(
			attribute.String("principal_id", principal.ID),
			attribute.String("job_id", id.String()),
		))
	defer span.End()

	if err := g.authorizer.Authorize(ctx, principal, ActionCancel); err != nil {
		span.SetStatus(codes.Error, "authorization failed")
		return fmt.Errorf("cancel authorization: %w", err)
	}

	if err := g.registry.RequestCancel(ctx, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("requesting cancellation: %w", err)
	}

	g.logger.Info(ctx, "cancellation requested", "job_id", id, "principal_id", principal.ID)
	return nil
}

// GetJobStatus returns the current snapshot for id, consulting each status
// reader in order. Clients use it to reconcile after missing live events;
// returns jobs.ErrJobNotFound when no reader knows the job.
func (g *Gateway) GetJobStatus(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.get_job_status",
		trace.WithAttributes(attribute.String("job_id", id.String())))
	defer span.End()

	for _, reader := range g.readers {
		job, err := reader.GetJob(ctx, id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return job, nil
	}
	return nil, jobs.ErrJobNotFound
}
