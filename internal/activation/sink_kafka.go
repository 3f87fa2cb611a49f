package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes activation events to a Kafka topic, keyed by tenant
// so one tenant's events stay ordered within a partition.
type KafkaSink struct {
	topic  string
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are empty")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is empty")
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
	}
	return newKafkaSinkWithWriter(topic, w), nil
}

func newKafkaSinkWithWriter(topic string, w messageWriter) *KafkaSink {
	return &KafkaSink{topic: topic, writer: w}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	key := ev.TenantID
	if key == "" {
		key = ev.RequestID
	}
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  ev.Timestamp,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-version", Value: []byte(ev.Version)},
			{Key: "action", Value: []byte(ev.Verdict.Action)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close(context.Context) error {
	return s.writer.Close()
}
