// Package eventbus contains transport implementations of the domain event
// bus ports, plus the shared domain-event publisher adapter they all use.
package eventbus

import (
	"context"

	"github.com/rogerlew/longhaul/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher adapts domain-level events onto any events.EventBus.
// It wraps the payload in an envelope and forwards publish options, keeping
// domain code ignorant of which transport (Kafka or in-memory) is underneath.
type DomainEventPublisher struct{ eventBus events.EventBus }

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the provided event bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: bus}
}

// PublishDomainEvent sends a domain event through the underlying event bus.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, evt, opts...)
}
