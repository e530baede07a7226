// Package bridge relays job events from the process-wide bus subscription to
// individual local subscribers, typically one per connected client. The
// process holds a single bus subscription no matter how many clients watch;
// the bridge fans events out by job ID.
package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/events"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// Subscription is one local subscriber's view of a job's event stream.
// Events arrive in publish order; under backpressure the oldest undelivered
// event is dropped, which the bus's at-most-once contract already permits.
type Subscription struct {
	jobID uuid.UUID
	ch    chan events.EventEnvelope

	bridge    *Bridge
	closeOnce sync.Once
}

// Events returns the stream for this subscription. The channel closes when
// the subscription is detached.
func (s *Subscription) Events() <-chan events.EventEnvelope { return s.ch }

// JobID returns the job this subscription watches.
func (s *Subscription) JobID() uuid.UUID { return s.jobID }

// Close detaches the subscription from the bridge.
func (s *Subscription) Close() { s.bridge.detach(s) }

// Bridge fans the shared bus subscription out to per-job local subscribers.
// The bus subscription starts lazily on the first Attach and stays up for
// the bridge's lifetime; with nobody attached the relay simply finds no
// recipients.
type Bridge struct {
	bus        events.EventBus
	bufferSize int

	mu      sync.Mutex
	subs    map[uuid.UUID]map[*Subscription]struct{}
	started bool

	rootCtx context.Context
	stop    context.CancelFunc

	tracer trace.Tracer
	logger *logger.Logger
}

// NewBridge creates a bridge whose subscribers buffer up to bufferSize
// undelivered events each.
func NewBridge(bus events.EventBus, bufferSize int, tracer trace.Tracer, logger *logger.Logger) *Bridge {
	rootCtx, stop := context.WithCancel(context.Background())
	return &Bridge{
		bus:        bus,
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		rootCtx:    rootCtx,
		stop:       stop,
		tracer:     tracer,
		logger:     logger.With("component", "subscriber_bridge"),
	}
}

// Attach registers a local subscriber for jobID's events. Only events
// published after Attach returns are delivered; callers reconcile the gap
// with a status read.
func (b *Bridge) Attach(ctx context.Context, jobID uuid.UUID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		// The subscription's lifetime belongs to the bridge, not to the
		// first subscriber's request context.
		if err := b.bus.Subscribe(b.rootCtx, jobEventTypes(), b.relay); err != nil {
			return nil, err
		}
		b.started = true
	}

	sub := &Subscription{
		jobID:  jobID,
		ch:     make(chan events.EventEnvelope, b.bufferSize),
		bridge: b,
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*Subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}

	b.logger.Debug(ctx, "subscriber attached", "job_id", jobID)
	return sub, nil
}

func (b *Bridge) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.jobID)
		}
	}
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// relay is the shared bus handler. It routes each event to the local
// subscribers of its job and never blocks on any of them.
func (b *Bridge) relay(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	defer ack(nil)

	jobID, err := uuid.Parse(evt.Key)
	if err != nil {
		b.logger.Warn(ctx, "event with unparseable key", "key", evt.Key, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[jobID] {
		select {
		case sub.ch <- evt:
		default:
			// Full buffer: drop the oldest so the subscriber always sees the
			// most recent events, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close detaches all subscribers and stops the bus relay.
func (b *Bridge) Close() {
	b.stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for sub := range set {
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	b.subs = make(map[uuid.UUID]map[*Subscription]struct{})
}

func jobEventTypes() []events.EventType {
	return []events.EventType{
		jobs.EventTypeJobProgressed,
		jobs.EventTypeJobCompleted,
		jobs.EventTypeJobFailed,
		jobs.EventTypeJobCancelled,
	}
}
