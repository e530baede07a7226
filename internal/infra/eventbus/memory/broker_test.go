package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogerlew/longhaul/internal/domain/events"
)

const testEventType events.EventType = "TestEvent"

func collect(dst *[]events.EventEnvelope) events.HandlerFunc {
	return func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		*dst = append(*dst, evt)
		ack(nil)
		return nil
	}
}

func TestBroker_FanOut(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var first, second []events.EventEnvelope
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&first)))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&second)))

	err := broker.Publish(ctx, events.EventEnvelope{Type: testEventType, Payload: "hello"})
	require.NoError(t, err)

	assert.Len(t, first, 1, "every subscriber receives every event")
	assert.Len(t, second, 1)
}

func TestBroker_DeliveryOrderPreserved(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var got []events.EventEnvelope
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&got)))

	for i := 0; i < 10; i++ {
		require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: testEventType, Payload: i}))
	}

	require.Len(t, got, 10)
	for i, evt := range got {
		assert.Equal(t, i, evt.Payload)
	}
}

func TestBroker_LateSubscriberMissesEarlierEvents(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: testEventType, Payload: "before"}))

	var got []events.EventEnvelope
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&got)))

	require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: testEventType, Payload: "after"}))

	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Payload)
}

func TestBroker_TypeFiltering(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var got []events.EventEnvelope
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&got)))

	require.NoError(t, broker.Publish(ctx, events.EventEnvelope{Type: "OtherEvent", Payload: "skip"}))
	assert.Empty(t, got)
}

func TestBroker_PublishWithKey(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var got []events.EventEnvelope
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, collect(&got)))

	require.NoError(t, broker.Publish(ctx,
		events.EventEnvelope{Type: testEventType},
		events.WithKey("job-123"),
	))

	require.Len(t, got, 1)
	assert.Equal(t, "job-123", got[0].Key)
}

func TestBroker_HandlerErrorSurfaces(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	wantErr := errors.New("handler exploded")
	handler := func(context.Context, events.EventEnvelope, events.AckFunc) error {
		return wantErr
	}
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{testEventType}, handler))

	err := broker.Publish(ctx, events.EventEnvelope{Type: testEventType})
	assert.ErrorIs(t, err, wantErr)
}

func TestBroker_NilHandlerRejected(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	err := broker.Subscribe(context.Background(), []events.EventType{testEventType}, nil)
	assert.Error(t, err)
}

func TestBroker_ClosedRejectsPublish(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	require.NoError(t, broker.Close())

	err := broker.Publish(context.Background(), events.EventEnvelope{Type: testEventType})
	assert.Error(t, err)
}
