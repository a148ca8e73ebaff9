// Package payment exposes payment confirmation as a Restate virtual object
// keyed by order id, so the runtime serializes confirmations per order
// across every instance of the service.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"

	restate "github.com/restatedev/sdk-go"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/reconcile"
)

const (
	ServiceName = "PaymentConfirmation"

	stateLastOutcome = "last_outcome"
)

// Error kinds carried in ConfirmResult so domain errors survive the trip
// through the Restate ingress.
const (
	errKindNotFound       = "order_not_found"
	errKindAmountMismatch = "amount_mismatch"
)

type Confirmer interface {
	Confirm(ctx context.Context, c reconcile.Confirmation) (reconcile.Outcome, error)
}

// ConfirmResult is the handler's journaled response.
type ConfirmResult struct {
	Outcome   reconcile.Outcome `json:"outcome,omitempty"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type Object struct {
	confirmer Confirmer
}

func NewObject(confirmer Confirmer) *Object {
	return &Object{confirmer: confirmer}
}

// Definition binds the object's handlers for server.Restate.
func (o *Object) Definition() restate.ServiceDefinition {
	return restate.NewObject(ServiceName).
		Handler("Confirm", restate.NewObjectHandler(o.Confirm)).
		Handler("LastOutcome", restate.NewObjectSharedHandler(o.LastOutcome))
}

// Confirm runs the reconciler for the keyed order. Domain errors are part of
// the result; store errors fail the Run and Restate retries it.
func (o *Object) Confirm(ctx restate.ObjectContext, c reconcile.Confirmation) (ConfirmResult, error) {
	orderID := restate.Key(ctx)
	if c.OrderID == "" {
		c.OrderID = orderID
	}
	if c.OrderID != orderID {
		return ConfirmResult{}, restate.TerminalError(fmt.Errorf("confirmation for order %s sent to key %s", c.OrderID, orderID), 400)
	}
	log.Printf("[Payment Object %s] confirming via %s code=%s", orderID, c.Gateway, c.ResponseCode)

	res, err := restate.Run(ctx, func(rc restate.RunContext) (ConfirmResult, error) {
		return confirm(rc, o.confirmer, c)
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	if res.Outcome != "" {
		restate.Set(ctx, stateLastOutcome, res.Outcome)
	}
	return res, nil
}

func (o *Object) LastOutcome(ctx restate.ObjectSharedContext, _ restate.Void) (reconcile.Outcome, error) {
	outcome, err := restate.Get[reconcile.Outcome](ctx, stateLastOutcome)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func confirm(ctx context.Context, confirmer Confirmer, c reconcile.Confirmation) (ConfirmResult, error) {
	outcome, err := confirmer.Confirm(ctx, c)
	switch {
	case err == nil:
		return ConfirmResult{Outcome: outcome}, nil
	case errors.Is(err, order.ErrNotFound):
		return ConfirmResult{ErrorKind: errKindNotFound, Error: err.Error()}, nil
	case errors.Is(err, reconcile.ErrAmountMismatch):
		return ConfirmResult{ErrorKind: errKindAmountMismatch, Error: err.Error()}, nil
	default:
		return ConfirmResult{}, err
	}
}

// Err turns an encoded domain error back into its sentinel.
func (r ConfirmResult) Err() error {
	switch r.ErrorKind {
	case "":
		return nil
	case errKindNotFound:
		return fmt.Errorf("%w: %s", order.ErrNotFound, r.Error)
	case errKindAmountMismatch:
		return fmt.Errorf("%w: %s", reconcile.ErrAmountMismatch, r.Error)
	default:
		return fmt.Errorf("payment confirmation: %s", r.Error)
	}
}
