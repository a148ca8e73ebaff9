package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventOrderPaymentConfirmed = "OrderPaymentConfirmed"
	EventOrderStatusChanged    = "OrderStatusChanged"
)

type Producer struct{ w *kafka.Writer }

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // partition by Kafka message key
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Envelope is the standard event schema your services publish.
// Keep it small and stable.
type Envelope struct {
	EventType    string    `json:"eventType"`
	EventVersion string    `json:"eventVersion"`
	OccurredAt   time.Time `json:"occurredAt"`
	AggregateID  string    `json:"aggregateId"` // e.g., orderId
	Data         any       `json:"data"`
}

// Publish writes a single message to Kafka.
// 'key' is the Kafka partition key (use orderId to keep per-order ordering).
func (p *Producer) Publish(ctx context.Context, topic, key string, evt Envelope) error {
	val, err := encode(evt)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
	})
}

func encode(evt Envelope) ([]byte, error) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	val, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.EventType, err)
	}
	return val, nil
}

// Decode parses a message value, unmarshalling the payload into data.
// The returned envelope's Data is data itself.
func Decode(value []byte, data any) (Envelope, error) {
	var raw struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(value, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	evt := raw.Envelope
	if len(raw.Data) > 0 && data != nil {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return evt, fmt.Errorf("decode %s payload: %w", evt.EventType, err)
		}
	}
	evt.Data = data
	return evt, nil
}
