package kafka

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var _ EventBusMetrics = (*OtelEventBusMetrics)(nil)

// OtelEventBusMetrics records bus activity through the global OpenTelemetry
// meter provider.
type OtelEventBusMetrics struct {
	published metric.Int64Counter
	consumed  metric.Int64Counter
	pubErrors metric.Int64Counter
	conErrors metric.Int64Counter
}

// NewOtelEventBusMetrics creates counters under the given service namespace.
func NewOtelEventBusMetrics(serviceName string) (*OtelEventBusMetrics, error) {
	meter := otel.Meter(serviceName)

	published, err := meter.Int64Counter("eventbus.messages_published")
	if err != nil {
		return nil, err
	}
	consumed, err := meter.Int64Counter("eventbus.messages_consumed")
	if err != nil {
		return nil, err
	}
	pubErrors, err := meter.Int64Counter("eventbus.publish_errors")
	if err != nil {
		return nil, err
	}
	conErrors, err := meter.Int64Counter("eventbus.consume_errors")
	if err != nil {
		return nil, err
	}

	return &OtelEventBusMetrics{
		published: published,
		consumed:  consumed,
		pubErrors: pubErrors,
		conErrors: conErrors,
	}, nil
}

func (m *OtelEventBusMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *OtelEventBusMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.consumed.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *OtelEventBusMetrics) IncPublishError(ctx context.Context, topic string) {
	m.pubErrors.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *OtelEventBusMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.conErrors.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}
