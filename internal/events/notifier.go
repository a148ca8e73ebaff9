package events

import (
	"context"
	"fmt"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

// Publisher is the part of Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, evt Envelope) error
}

// OrderEvent is the payload of order notification events.
type OrderEvent struct {
	OrderID       string       `json:"orderId"`
	CustomerID    string       `json:"customerId"`
	CustomerEmail string       `json:"customerEmail,omitempty"`
	Status        order.Status `json:"status"`
	TotalAmount   int64        `json:"totalAmount"`
}

// Order rebuilds the order snapshot carried by the event.
func (e OrderEvent) Order() order.Order {
	return order.Order{
		ID:            e.OrderID,
		CustomerID:    e.CustomerID,
		CustomerEmail: e.CustomerEmail,
		Status:        e.Status,
		TotalAmount:   e.TotalAmount,
	}
}

// Notifier hands order notifications to Kafka; the email worker sends them.
type Notifier struct {
	pub   Publisher
	topic string
}

func NewNotifier(pub Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic}
}

func (n *Notifier) SendOrderEmail(ctx context.Context, o order.Order, status order.Status) error {
	eventType := EventOrderStatusChanged
	if status == order.StatusWaitingApproval {
		eventType = EventOrderPaymentConfirmed
	}
	evt := Envelope{
		EventType:    eventType,
		EventVersion: "v1",
		AggregateID:  o.ID,
		Data: OrderEvent{
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			CustomerEmail: o.CustomerEmail,
			Status:        status,
			TotalAmount:   o.TotalAmount,
		},
	}
	if err := n.pub.Publish(ctx, n.topic, o.ID, evt); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", eventType, o.ID, err)
	}
	return nil
}
