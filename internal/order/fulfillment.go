package order

import (
	"context"
	"fmt"
	"log"
)

// sellerTransitions lists the moves a seller may make. Payment confirmation
// (PENDING_PAYMENT -> WAITING_APPROVAL) is reserved for the reconciler.
var sellerTransitions = map[Status][]Status{
	StatusPendingPayment:  {StatusCancelled},
	StatusWaitingApproval: {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusDelivered},
}

func CanAdvance(from, to Status) bool {
	for _, s := range sellerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance applies a seller transition with the same conditional write the
// reconciler uses, so the two never overwrite each other.
func Advance(ctx context.Context, store Store, id string, to Status) (Order, error) {
	current, err := store.FindByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanAdvance(current.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	applied, err := store.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		return Order{}, err
	}
	if !applied {
		return Order{}, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	log.Printf("[Order %s] seller moved %s -> %s", id, current.Status, to)
	current.Status = to
	return current, nil
}
