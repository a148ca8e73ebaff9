package order

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a storefront order.
type Status string

const (
	StatusPendingPayment  Status = "PENDING_PAYMENT"
	StatusWaitingApproval Status = "WAITING_APPROVAL"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrConflict          = errors.New("order status changed concurrently")
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPendingPayment, StatusWaitingApproval, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

// PaymentConfirmed reports whether payment has been confirmed for an order
// in this status, i.e. it is WAITING_APPROVAL or further along fulfillment.
func (s Status) PaymentConfirmed() bool {
	switch s {
	case StatusWaitingApproval, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

type Order struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Status        Status    `json:"status"`
	TotalAmount   int64     `json:"total_amount"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the order persistence contract used by payment reconciliation
// and seller fulfillment.
type Store interface {
	FindByID(ctx context.Context, id string) (Order, error)
	// UpdateStatus sets status to next only if it currently equals expected.
	// It reports whether the write was applied; a missing order is ErrNotFound.
	UpdateStatus(ctx context.Context, id string, expected, next Status) (bool, error)
}
