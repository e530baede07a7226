// Package events provides the transport-agnostic event model used to move
// job progress notifications across process boundaries in a decoupled way.
package events

import "time"

// DomainEvent is implemented by every domain-level event the system emits.
// It carries enough information for the event bus to route and serialize the
// event without understanding its payload.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when the event was created.
	OccurredAt() time.Time
}

// EventEnvelope is the unit that actually travels over the event bus. It wraps
// a domain payload with the routing key and transport metadata a subscriber
// needs to order and attribute the event.
type EventEnvelope struct {
	// Type identifies the category of this event.
	Type EventType

	// Key is the routing key, always the job identifier. Events sharing a key
	// are delivered to a given subscriber in publish order.
	Key string

	// Timestamp records when this envelope was produced.
	Timestamp time.Time

	// Payload holds the concrete domain event (e.g. jobs.JobProgressedEvent).
	Payload any

	// Metadata carries transport-level position information, populated by the
	// consuming side of the bus.
	Metadata EventMetadata
}

// EventMetadata describes where in the underlying stream an envelope came from.
type EventMetadata struct {
	Partition int32
	Offset    int64
}
