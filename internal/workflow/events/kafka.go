package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

type kafkaQueue struct {
	w *kafka.Writer
}

// NewKafka publishes events to one topic, keyed by request key so a
// consumer sees each request's events in order.
func NewKafka(brokers []string, topic string) Queue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &kafkaQueue{w: w}
}

func (q *kafkaQueue) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RequestKey),
		Value: b,
	})
}

func (q *kafkaQueue) Close() error { return q.w.Close() }

func splitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
