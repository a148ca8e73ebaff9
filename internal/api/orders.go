package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/authz"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Announcer tells the customer about a status change without blocking
// the request.
type Announcer interface {
	Announce(ctx context.Context, o order.Order)
}

type OrderHandlers struct {
	Orders    order.Store
	Authz     authz.Client
	Announcer Announcer
	Logger    *log.Logger
}

// RegisterOrdersRoutes wires the orders API endpoints into the provided mux.
// The frontend polls GET after a payment redirect (buyer or seller only);
// sellers drive fulfillment through POST .../status.
func RegisterOrdersRoutes(mux *http.ServeMux, h *OrderHandlers) {
	if h.Logger == nil {
		h.Logger = log.Default()
	}
	requireView := authz.Require(h.Authz, func(r *http.Request) (string, string) {
		return "order:" + r.PathValue("id"), "can_view"
	})
	mux.Handle("GET /api/orders/{id}",
		otelhttp.NewHandler(requireView(http.HandlerFunc(h.getOrder)), "orders-get"))

	requireFulfill := authz.Require(h.Authz, func(r *http.Request) (string, string) {
		return "order:" + r.PathValue("id"), "can_fulfill"
	})
	mux.Handle("POST /api/orders/{id}/status",
		otelhttp.NewHandler(requireFulfill(http.HandlerFunc(h.updateStatus)), "orders-update-status"))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.FindByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, order.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	}
	if err != nil {
		h.Logger.Printf("[Orders] load %s: %v", r.PathValue("id"), err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not load order"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":            o,
		"paymentConfirmed": o.Status.PaymentConfirmed(),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var reqBody struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	next, ok := order.ParseStatus(reqBody.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown status", "status": reqBody.Status})
		return
	}

	o, err := order.Advance(r.Context(), h.Orders, id, next)
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	case err != nil:
		h.Logger.Printf("[Orders] advance %s to %s: %v", id, next, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not update order"})
		return
	}

	if h.Announcer != nil {
		h.Announcer.Announce(r.Context(), o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}
