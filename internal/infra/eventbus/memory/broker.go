// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker used by the in-process task
// runner and by tests, where crossing a process boundary is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rogerlew/longhaul/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

type subscriber struct {
	eventTypes map[events.EventType]struct{}
	handler    events.HandlerFunc
}

// Broker is an in-memory events.EventBus. Delivery is synchronous and in
// publish order, which preserves the per-key ordering guarantee for free:
// a publisher that emits e1 before e2 has them handled in that order by every
// subscriber. Events published while nobody is subscribed are dropped, which
// is exactly the bus contract.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Publish delivers the envelope to every subscriber registered for its type.
// Handler errors stop delivery and are returned so tests can observe them;
// production callers treat publishing as fire-and-forget.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("broker is closed")
	}
	// Copy matching handlers to avoid holding the lock while executing them.
	handlers := make([]events.HandlerFunc, 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := sub.eventTypes[event.Type]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, event, func(error) {}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types. The subscription
// is removed when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	types := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		types[et] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{eventTypes: types, handler: handler}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	return nil
}

// Close drops all subscriptions and rejects further publishes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]*subscriber)
	return nil
}
