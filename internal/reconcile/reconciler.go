// Package reconcile turns a verified gateway callback into an at-most-once
// order status transition and a single payment confirmation notification.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/metrics"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

// SuccessCode is the normalized gateway response code for a paid transaction.
const SuccessCode = "00"

var ErrAmountMismatch = errors.New("paid amount does not match order total")

type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeDeclined         Outcome = "declined"
	// OutcomeOrderClosed: paid after the order was cancelled; needs a manual refund.
	OutcomeOrderClosed Outcome = "order_closed"
)

// Confirmation is what a verified callback tells us about a payment.
type Confirmation struct {
	OrderID       string `json:"orderId"`
	Gateway       string `json:"gateway"`
	ResponseCode  string `json:"responseCode"`
	Amount        int64  `json:"amount,omitempty"` // 0 when the gateway did not report one
	TransactionNo string `json:"transactionNo,omitempty"`
}

// Notifier delivers the payment confirmation to the customer.
type Notifier interface {
	SendOrderEmail(ctx context.Context, o order.Order, status order.Status) error
}

type Reconciler struct {
	store         order.Store
	notifier      Notifier
	logger        *log.Logger
	notifyTimeout time.Duration

	wg sync.WaitGroup
}

func New(store order.Store, notifier Notifier, logger *log.Logger, notifyTimeout time.Duration) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &Reconciler{store: store, notifier: notifier, logger: logger, notifyTimeout: notifyTimeout}
}

// Confirm applies a callback to its order. Only the first successful
// confirmation moves PENDING_PAYMENT to WAITING_APPROVAL and notifies;
// repeats report OutcomeAlreadyProcessed and touch nothing.
func (r *Reconciler) Confirm(ctx context.Context, c Confirmation) (Outcome, error) {
	o, err := r.store.FindByID(ctx, c.OrderID)
	if err != nil {
		return "", err
	}
	if c.Amount > 0 && o.TotalAmount > 0 && c.Amount != o.TotalAmount {
		return "", fmt.Errorf("%w: order %s total=%d paid=%d", ErrAmountMismatch, o.ID, o.TotalAmount, c.Amount)
	}
	if c.ResponseCode != SuccessCode {
		r.logger.Printf("[Reconcile] payment declined gateway=%s order=%s code=%s", c.Gateway, c.OrderID, c.ResponseCode)
		return OutcomeDeclined, nil
	}
	if o.Status.PaymentConfirmed() {
		return OutcomeAlreadyProcessed, nil
	}
	if o.Status == order.StatusCancelled {
		r.logger.Printf("[Reconcile] WARNING paid cancelled order gateway=%s order=%s txn=%s", c.Gateway, c.OrderID, c.TransactionNo)
		return OutcomeOrderClosed, nil
	}

	applied, err := r.store.UpdateStatus(ctx, o.ID, order.StatusPendingPayment, order.StatusWaitingApproval)
	if err != nil {
		return "", fmt.Errorf("confirm order %s: %w", o.ID, err)
	}
	if !applied {
		// lost the race to a concurrent callback or a seller action
		cur, err := r.store.FindByID(ctx, o.ID)
		if err != nil {
			return "", err
		}
		if cur.Status == order.StatusCancelled {
			return OutcomeOrderClosed, nil
		}
		return OutcomeAlreadyProcessed, nil
	}

	o.Status = order.StatusWaitingApproval
	r.logger.Printf("[Reconcile] order %s confirmed via %s txn=%s", o.ID, c.Gateway, c.TransactionNo)
	r.Announce(ctx, o)
	return OutcomeConfirmed, nil
}

// Announce notifies the customer of o's current status in the background.
// Callers never wait on it and never see its error.
func (r *Reconciler) Announce(ctx context.Context, o order.Order) {
	if r.notifier == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
		defer cancel()
		if err := r.notifier.SendOrderEmail(nctx, o, o.Status); err != nil {
			metrics.RecordNotification("failed")
			r.logger.Printf("[Reconcile] notification failed order=%s: %v", o.ID, err)
			return
		}
		metrics.RecordNotification("sent")
	}()
}

// Wait blocks until in-flight notifications finish.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
