// Package kafka provides a Kafka-based implementation of the progress event
// bus for asynchronous messaging between worker and web-server processes.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/domain/events"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/internal/infra/eventbus/serialization"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// ProgressTopic is the single topic carrying all job progress traffic. It is
// deliberately a compile-time constant shared by the publishing (worker) and
// subscribing (bridge) sides: a topic name mismatch between the two deployable
// units would silently drop all progress delivery with no error on either
// side, so the name is never sourced from per-process configuration.
const ProgressTopic = "longhaul.job-progress"

// EventBusMetrics defines metrics operations needed to monitor Kafka message
// handling.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Config contains settings for connecting to and interacting with Kafka
// brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// GroupID identifies the consumer group for this bus instance. Fan-out
	// delivery depends on every subscribing process using its own group ID;
	// two processes sharing one would split the stream between them instead
	// of each seeing every event.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string

	// ServiceType identifies the type of service (e.g. "worker", "server").
	ServiceType string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the events.EventBus interface using Kafka as the
// underlying message broker. Messages are keyed by job identifier and hash
// partitioned, so events for one job always land on one partition and are
// consumed in publish order; ordering across jobs is unspecified.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBusFromConfig creates a new Kafka-based event bus from the provided
// configuration. It establishes connections to Kafka brokers and configures
// both producer and consumer components.
func NewEventBusFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}

	logger = logger.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
		"service_type", cfg.ServiceType,
	)

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	// Consumers start at the newest offset: a subscriber that connects after
	// an event was published never sees it. Clients recover missed terminal
	// state through a status read, not through the bus.
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topicMap := map[events.EventType]string{
		jobs.EventTypeJobProgressed: ProgressTopic,
		jobs.EventTypeJobCompleted:  ProgressTopic,
		jobs.EventTypeJobFailed:     ProgressTopic,
		jobs.EventTypeJobCancelled:  ProgressTopic,
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topicMap:      topicMap,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
	}, nil
}

// Publish sends a domain event to the progress topic. It handles
// serialization and routing based on event type, and includes observability
// instrumentation for tracing and metrics. Publishing is synchronous with
// respect to broker acknowledgment but callers on the worker path treat the
// whole operation as fire-and-forget.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.publish",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("event_type", string(event.Type)),
		))
	defer span.End()

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}
	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		span.RecordError(err)
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	b.metrics.IncMessagePublished(ctx, topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)

	return nil
}

// Subscribe registers a handler function to process domain events of the
// specified types. It manages consumer group membership and message
// processing in a separate goroutine.
func (b *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	topicSet := make(map[string]struct{})
	var topics []string
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		if _, seen := topicSet[topic]; !seen {
			topicSet[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}

	go b.consumeLoop(ctx, topics, handler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing
// messages.
func (b *EventBus) consumeLoop(ctx context.Context, topics []string, handler events.HandlerFunc) {
	cgHandler := &progressEventHandler{
		userHandler: handler,
		logger:      b.logger,
		tracer:      b.tracer,
		metrics:     b.metrics,
	}

	for {
		if err := b.consumerGroup.Consume(ctx, topics, cgHandler); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// progressEventHandler implements sarama.ConsumerGroupHandler to process
// Kafka messages and convert them into domain events for the application.
type progressEventHandler struct {
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *progressEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *progressEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition, deserializing
// them into domain events and invoking the user-provided handler. Handler
// failures are logged and counted but never stop the claim loop: a delivery
// problem in one web process must not interrupt the stream for the rest.
func (h *progressEventHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())

	for msg := range claim.Messages() {
		func() {
			msgCtx, span := h.tracer.Start(sess.Context(), "kafka_event_bus.consume",
				trace.WithAttributes(
					attribute.String("topic", msg.Topic),
					attribute.Int("partition", int(msg.Partition)),
					attribute.Int64("offset", msg.Offset),
				))
			defer span.End()

			evtType, key, payload, err := serialization.DeserializeEventEnvelope(msg.Value)
			if err != nil {
				sess.MarkMessage(msg, "")
				span.RecordError(err)
				h.metrics.IncConsumeError(msgCtx, msg.Topic)
				consumeLogger.Error(msgCtx, "Failed to deserialize message", "error", err)
				return
			}

			evt := events.EventEnvelope{
				Type:      evtType,
				Key:       key,
				Timestamp: msg.Timestamp,
				Payload:   payload,
				Metadata: events.EventMetadata{
					Partition: claim.Partition(),
					Offset:    msg.Offset,
				},
			}

			ack := func(err error) {
				if err != nil {
					h.metrics.IncConsumeError(msgCtx, msg.Topic)
					span.RecordError(err)
					span.SetStatus(codes.Error, "failed to process message")
					return
				}
				h.metrics.IncMessageConsumed(msgCtx, msg.Topic)
			}

			sess.MarkMessage(msg, "")

			if err := h.userHandler(msgCtx, evt, ack); err != nil {
				consumeLogger.Error(msgCtx, "Failed to handle message", "error", err)
				span.RecordError(err)
				return
			}

			consumeLogger.Debug(msgCtx, "Successfully processed message",
				"topic", msg.Topic, "key", evt.Key)
		}()
	}

	return nil
}

// Close gracefully shuts down the event bus by closing both producer and
// consumer connections.
func (b *EventBus) Close() error {
	ctx := context.Background()
	logger := b.logger.With("operation", "close")

	if err := b.producer.Close(); err != nil {
		logger.Error(ctx, "Failed to close producer", "error", err)
		return err
	}
	if err := b.consumerGroup.Close(); err != nil {
		logger.Error(ctx, "Failed to close consumer group", "error", err)
		return err
	}

	logger.Info(ctx, "Closed event bus")
	return nil
}
