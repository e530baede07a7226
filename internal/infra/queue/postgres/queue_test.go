package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/internal/infra/storage"
)

func setupQueueTest(t *testing.T, lease time.Duration) (context.Context, *jobQueue, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	queue := NewJobQueue(pool, lease, storage.NoOpTracer())
	return context.Background(), queue, cleanup
}

func TestJobQueue_EnqueueAndClaim(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	payload := json.RawMessage(`{"n": 4}`)
	id, err := queue.Enqueue(ctx, payload)
	require.NoError(t, err)

	job, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.JobID())
	assert.Equal(t, jobs.JobStatusRunning, job.Status())
	assert.JSONEq(t, string(payload), string(job.Payload()))
	assert.False(t, job.StartedAt().IsZero())

	_, err = queue.Claim(ctx)
	assert.ErrorIs(t, err, jobs.ErrNoJob, "a running job must not be claimable")
}

func TestJobQueue_ClaimOrderIsFIFO(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 1}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		job, err := queue.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, job.JobID())
	}
}

func TestJobQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	const numJobs = 10
	for i := 0; i < numJobs; i++ {
		_, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 1}`))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := queue.Claim(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[job.JobID()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, numJobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestJobQueue_ReclaimExpired(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, 50*time.Millisecond)
	defer cleanup()

	id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)

	job, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.SaveProgress(ctx, job.JobID(), 50))

	time.Sleep(100 * time.Millisecond)

	reclaimed, err := queue.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := queue.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status())
	assert.Equal(t, 0, got.Percent(), "progress resets when the job is requeued")

	job, err = queue.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.JobID())
}

func TestJobQueue_ExtendLeasePreventsReclaim(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, 50*time.Millisecond)
	defer cleanup()

	id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)
	_, err = queue.Claim(ctx)
	require.NoError(t, err)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, queue.ExtendLease(ctx, id))

		reclaimed, err := queue.ReclaimExpired(ctx)
		require.NoError(t, err)
		require.Zero(t, reclaimed)

		time.Sleep(10 * time.Millisecond)
	}

	got, err := queue.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusRunning, got.Status())
}

func TestJobQueue_SaveProgressIgnoresStaleWriter(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)
	_, err = queue.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.MarkCompleted(ctx, id, "done"))

	// The job already finished; a late progress write must not clobber it.
	require.NoError(t, queue.SaveProgress(ctx, id, 10))

	got, err := queue.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusSucceeded, got.Status())
	assert.Equal(t, 100, got.Percent())
}

func TestJobQueue_TerminalWritesAreFinal(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)
	_, err = queue.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, queue.MarkFailed(ctx, id, "step 1/2 failed"))
	assert.ErrorIs(t, queue.MarkCompleted(ctx, id, "done"), jobs.ErrJobNotFound)
	assert.ErrorIs(t, queue.MarkCancelled(ctx, id, "cancelled"), jobs.ErrJobNotFound)

	got, err := queue.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status())
	assert.Equal(t, "step 1/2 failed", got.Summary())

	_, ok := got.CompletedAt()
	assert.True(t, ok)
}

func TestJobQueue_CancelWhileQueued(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	id, err := queue.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)

	// Terminal writes apply to pending entries too; a job cancelled before
	// any worker touched it never becomes claimable.
	require.NoError(t, queue.MarkCancelled(ctx, id, "cancelled before start"))

	_, err = queue.Claim(ctx)
	assert.ErrorIs(t, err, jobs.ErrNoJob)

	got, err := queue.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCancelled, got.Status())
}

func TestJobQueue_GetJobNotFound(t *testing.T) {
	t.Parallel()
	ctx, queue, cleanup := setupQueueTest(t, time.Minute)
	defer cleanup()

	_, err := queue.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
