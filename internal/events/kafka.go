package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

const (
	defaultPublishTimeout = 2 * time.Second
	// Events are written one at a time from request paths; do not wait for a batch to fill.
	kafkaBatchTimeout = 5 * time.Millisecond
)

// KafkaPublisher mirrors events to Kafka; topics are prefixed with the configured prefix.
type KafkaPublisher struct {
	writer  *kafkaGo.Writer
	prefix  string
	timeout time.Duration
}

// NewKafkaPublisher builds a synchronous writer. Each Publish gives up after
// timeout; a non-positive timeout uses a 2s default.
func NewKafkaPublisher(brokers []string, prefix string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaPublisher{
		writer: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Balancer:               &kafkaGo.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           kafkaBatchTimeout,
			MaxAttempts:            3,
			WriteTimeout:           timeout,
		},
		prefix:  prefix,
		timeout: timeout,
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafkaGo.Message{Topic: k.prefix + topic, Value: value}
	if keyed, ok := payload.(Keyed); ok {
		msg.Key = []byte(keyed.EventKey())
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
