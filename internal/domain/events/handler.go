package events

import "context"

// AckFunc acknowledges that an envelope has been fully processed. Passing a
// non-nil error tells the bus the handler failed; what that means is
// transport-specific (the in-memory bus ignores it, the Kafka bus counts it).
type AckFunc func(error)

// HandlerFunc processes a single event envelope delivered by the bus.
// Implementations must call ack exactly once when they are done with the
// envelope.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error
