// Package common holds small cross-cutting helpers shared by the service
// mains: broker connection retries and the health endpoint.
package common

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogerlew/longhaul/internal/infra/eventbus/kafka"
	"github.com/rogerlew/longhaul/pkg/common/logger"
)

// SplitBrokers parses a comma-separated broker list into addresses.
func SplitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConnectKafkaWithRetry attempts to establish a connection to Kafka with
// exponential backoff. It will retry failed connection attempts for up to
// 5 minutes, starting with 5 second intervals. This helps handle temporary
// network issues or Kafka cluster unavailability during startup.
func ConnectKafkaWithRetry(
	cfg *kafka.Config,
	log *logger.Logger,
	metrics kafka.EventBusMetrics,
	tracer trace.Tracer,
) (*kafka.EventBus, error) {
	var bus *kafka.EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		bus, err = kafka.NewEventBusFromConfig(cfg, log, metrics, tracer)
		if err != nil {
			log.Warn(context.Background(), "Failed to connect to Kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return bus, nil
}
