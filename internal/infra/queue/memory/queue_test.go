package memory

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
)

func TestQueue_EnqueueClaim(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, json.RawMessage(`{"n": 3}`))
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.JobID())
	assert.Equal(t, jobs.JobStatusRunning, job.Status())

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, jobs.ErrNoJob)
}

func TestQueue_ClaimIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, json.RawMessage(`{"n": 1}`))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, json.RawMessage(`{"n": 2}`))
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, job.JobID())

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, job.JobID())
}

// Concurrent claimers must never receive the same entry.
func TestQueue_ConcurrentClaimExclusivity(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		_, err := q.Enqueue(ctx, json.RawMessage(`{"n": 1}`))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim(ctx)
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

	assert.Len(t, claimed, jobCount)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestQueue_ReclaimExpired(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	current := time.Now()
	q.SetTimeProvider(func() time.Time { return current })

	id, err := q.Enqueue(ctx, json.RawMessage(`{"n": 3}`))
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	// Lease still live.
	n, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	current = current.Add(2 * time.Minute)
	n, err = q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, job.Status())
	assert.Zero(t, job.Percent())

	reclaimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, reclaimed.JobID())
}

func TestQueue_ExtendLeaseKeepsJob(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	current := time.Now()
	q.SetTimeProvider(func() time.Time { return current })

	id, err := q.Enqueue(ctx, json.RawMessage(`{"n": 3}`))
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	current = current.Add(45 * time.Second)
	require.NoError(t, q.ExtendLease(ctx, id))

	current = current.Add(45 * time.Second)
	n, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "extended lease should not be reclaimed")
}

func TestQueue_TerminalWrites(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, json.RawMessage(`{"n": 3}`))
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, q.SaveProgress(ctx, id, 66))
	require.NoError(t, q.MarkCompleted(ctx, id, "completed 3 steps"))

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusSucceeded, job.Status())
	assert.Equal(t, 100, job.Percent())
	assert.Equal(t, "completed 3 steps", job.Summary())

	// Terminal writes are final.
	assert.Error(t, q.MarkFailed(ctx, id, "too late"))
}

func TestQueue_CancelledWhileQueuedIsNeverClaimed(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, json.RawMessage(`{"n": 3}`))
	require.NoError(t, err)
	require.NoError(t, q.MarkCancelled(ctx, id, "cancelled by request"))

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, jobs.ErrNoJob)
}

func TestQueue_GetJobUnknown(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(time.Minute)
	_, err := q.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
