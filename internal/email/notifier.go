package email

import (
	"context"
	"fmt"
	"log"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

// Notifier emails the customer about an order status change. It satisfies
// reconcile.Notifier and is also what the email worker calls per event.
type Notifier struct {
	sender   Sender
	fallback string
	logger   *log.Logger
}

// NewNotifier sends to the order's customer email, or to fallback when the
// order has none.
func NewNotifier(sender Sender, fallback string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{sender: sender, fallback: fallback, logger: logger}
}

func (n *Notifier) SendOrderEmail(ctx context.Context, o order.Order, status order.Status) error {
	to := o.CustomerEmail
	if to == "" {
		to = n.fallback
	}
	if to == "" {
		return fmt.Errorf("no recipient for order %s", o.ID)
	}
	subject, body := Render(o, status)

	// net/smtp has no context support; give up waiting when ctx ends.
	done := make(chan error, 1)
	go func() { done <- n.sender.Send(to, subject, body) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email for order %s: %w", o.ID, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send email for order %s: %w", o.ID, ctx.Err())
	}
	n.logger.Printf("[Email] sent %s email to=%s order=%s", status, to, o.ID)
	return nil
}
