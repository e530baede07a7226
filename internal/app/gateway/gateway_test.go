package gateway

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	cancelmem "github.com/rogerlew/longhaul/internal/infra/cancellation/memory"
	queuemem "github.com/rogerlew/longhaul/internal/infra/queue/memory"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// denyAll rejects every principal.
type denyAll struct{}

func (denyAll) Authorize(context.Context, Principal, Action) error { return ErrNotAuthorized }

func newTestGateway(t *testing.T, authorizer Authorizer) (*Gateway, *queuemem.JobQueue, *queuemem.JobQueue, *cancelmem.Registry) {
	t.Helper()

	durableQueue := queuemem.NewJobQueue(time.Minute)
	ephemeralQueue := queuemem.NewJobQueue(time.Minute)
	registry := cancelmem.NewRegistry(time.Hour)

	gw := NewGateway(
		authorizer,
		registry,
		JobExecutorFunc(durableQueue.Enqueue),
		JobExecutorFunc(ephemeralQueue.Enqueue),
		[]jobs.StatusReader{durableQueue, ephemeralQueue},
		noop.NewTracerProvider().Tracer("test"),
		logger.New(io.Discard, logger.LevelInfo, "test", nil),
	)
	return gw, durableQueue, ephemeralQueue, registry
}

func TestGateway_SubmitRoutesByDurability(t *testing.T) {
	t.Parallel()

	gw, durableQueue, ephemeralQueue, _ := newTestGateway(t, AllowAll{})
	ctx := context.Background()
	principal := Principal{ID: "user-1"}

	durableID, err := gw.SubmitJob(ctx, principal, json.RawMessage(`{"n": 2}`), Durable)
	require.NoError(t, err)
	ephemeralID, err := gw.SubmitJob(ctx, principal, json.RawMessage(`{"n": 2}`), Ephemeral)
	require.NoError(t, err)

	_, err = durableQueue.GetJob(ctx, durableID)
	assert.NoError(t, err, "durable submission lands in the durable queue")
	_, err = durableQueue.GetJob(ctx, ephemeralID)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = ephemeralQueue.GetJob(ctx, ephemeralID)
	assert.NoError(t, err, "ephemeral submission lands in the runner's store")
}

func TestGateway_SubmitUnknownDurability(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newTestGateway(t, AllowAll{})
	_, err := gw.SubmitJob(context.Background(), Principal{ID: "user-1"}, json.RawMessage(`{"n": 1}`), "sometimes")
	assert.Error(t, err)
}

func TestGateway_AuthorizationDenied(t *testing.T) {
	t.Parallel()

	gw, durableQueue, _, registry := newTestGateway(t, denyAll{})
	ctx := context.Background()
	principal := Principal{ID: "intruder"}

	_, err := gw.SubmitJob(ctx, principal, json.RawMessage(`{"n": 1}`), Durable)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	id := uuid.New()
	err = gw.CancelJob(ctx, principal, id)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	cancelled, err := registry.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled, "denied cancel must not set the flag")

	_, err = durableQueue.Claim(ctx)
	assert.ErrorIs(t, err, jobs.ErrNoJob, "denied submit must not enqueue")
}

func TestGateway_CancelSetsFlag(t *testing.T) {
	t.Parallel()

	gw, _, _, registry := newTestGateway(t, AllowAll{})
	ctx := context.Background()
	id := uuid.New()

	// Unknown jobs are a benign no-op, and the call is idempotent.
	require.NoError(t, gw.CancelJob(ctx, Principal{ID: "user-1"}, id))
	require.NoError(t, gw.CancelJob(ctx, Principal{ID: "user-1"}, id))

	cancelled, err := registry.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestGateway_GetJobStatusFallsThroughReaders(t *testing.T) {
	t.Parallel()

	gw, _, ephemeralQueue, _ := newTestGateway(t, AllowAll{})
	ctx := context.Background()

	id, err := ephemeralQueue.Enqueue(ctx, json.RawMessage(`{"n": 1}`))
	require.NoError(t, err)

	job, err := gw.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, job.JobID())

	_, err = gw.GetJobStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
