package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notifier delivers alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Close() error
}

// LogNotifier writes alerts to the structured log. It is the default
// channel and the fallback when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	attrs := []any{
		"rule", alert.Rule,
		"pipeline", alert.Pipeline,
		"message", alert.Message,
	}
	if alert.Severity == SeverityCritical {
		slog.Error("ALERT", attrs...)
	} else {
		slog.Warn("ALERT", attrs...)
	}
	return nil
}

func (LogNotifier) Close() error { return nil }

// KafkaConfig holds alert broker configuration.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// KafkaNotifier publishes alerts to a Kafka topic, keyed by pipeline
// so alerts for one pipeline stay ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier for the given brokers and topic.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Pipeline),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Fanout sends each alert to every notifier, logging delivery
// failures instead of propagating them. Alerting must never take the
// pipeline down.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout creates a fanout over the given notifiers.
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Notify(ctx context.Context, alert Alert) error {
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			slog.Error("Failed to deliver alert", "rule", alert.Rule, "error", err)
		}
	}
	return nil
}

func (f *Fanout) Close() error {
	for _, n := range f.notifiers {
		_ = n.Close()
	}
	return nil
}
