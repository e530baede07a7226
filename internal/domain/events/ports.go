package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the
// system about job progress and terminal state changes. It provides a
// technology-agnostic interface to decouple event producers from the
// underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The
	// provided context controls cancellation and deadlines. Optional
	// PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across process
// boundaries. It abstracts messaging infrastructure details (like Kafka or an
// in-memory broker) so domain logic never touches transport mechanics.
//
// Delivery semantics are fan-out and at-most-once: every active subscriber
// receives every event published after it subscribed, and nothing before.
// This is the opposite of the job queue's competing-consumer semantics and
// the two must never be conflated even when they share infrastructure.
type EventBus interface {
	// Publish broadcasts a domain event to all current subscribers. It must
	// not block on slow subscribers and must succeed even when nobody is
	// listening.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler to process events of the specified types.
	// The handler executes for each matching event received on this bus after
	// the subscription is established.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}
