package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SetAndRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Hour)
	ctx := context.Background()
	id := uuid.New()

	cancelled, err := r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, r.RequestCancel(ctx, id))

	cancelled, err = r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestRegistry_RequestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Hour)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, r.RequestCancel(ctx, id))
	require.NoError(t, r.RequestCancel(ctx, id))

	cancelled, err := r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestRegistry_Clear(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Hour)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, r.RequestCancel(ctx, id))
	require.NoError(t, r.Clear(ctx, id))

	cancelled, err := r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	// Clearing an absent flag is a no-op.
	require.NoError(t, r.Clear(ctx, uuid.New()))
}

func TestRegistry_FlagExpires(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Hour)
	ctx := context.Background()
	id := uuid.New()

	current := time.Now()
	r.SetTimeProvider(func() time.Time { return current })

	require.NoError(t, r.RequestCancel(ctx, id))

	current = current.Add(2 * time.Hour)
	cancelled, err := r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled, "expired flags must read as not cancelled")

	// A fresh request re-arms the flag.
	require.NoError(t, r.RequestCancel(ctx, id))
	cancelled, err = r.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)
}
