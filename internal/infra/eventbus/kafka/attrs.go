package kafka

import "go.opentelemetry.io/otel/attribute"

func topicAttr(topic string) attribute.KeyValue {
	return attribute.String("topic", topic)
}
