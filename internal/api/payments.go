package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/gateway"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/metrics"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/reconcile"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Confirmer applies a verified callback to its order. The reconciler does
// it in process; the Restate ingress client does it through the runtime.
type Confirmer interface {
	Confirm(ctx context.Context, c reconcile.Confirmation) (reconcile.Outcome, error)
}

type PaymentHandlers struct {
	Gateways  *gateway.Registry
	Confirmer Confirmer
	Orders    order.Store
	Frontend  config.FrontendConfig
	Logger    *log.Logger
}

// RegisterPaymentRoutes mounts create_payment_url, return and ipn for every
// gateway under /api/payments/{gateway}/.
func RegisterPaymentRoutes(mux *http.ServeMux, h *PaymentHandlers) {
	if h.Logger == nil {
		h.Logger = log.Default()
	}
	mux.Handle("POST /api/payments/{gateway}/create_payment_url",
		otelhttp.NewHandler(http.HandlerFunc(h.createPaymentURL), "payment-create-url"))
	mux.Handle("GET /api/payments/{gateway}/return",
		otelhttp.NewHandler(http.HandlerFunc(h.handleReturn), "payment-return"))
	mux.Handle("GET /api/payments/{gateway}/ipn",
		otelhttp.NewHandler(http.HandlerFunc(h.handleIPN), "payment-ipn"))
	mux.Handle("POST /api/payments/{gateway}/ipn",
		otelhttp.NewHandler(http.HandlerFunc(h.handleIPN), "payment-ipn"))
}

type createPaymentRequest struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	BankCode string `json:"bankCode,omitempty"`
	Language string `json:"language,omitempty"`
}

type createPaymentResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (h *PaymentHandlers) createPaymentURL(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("gateway")
	g, ok := h.Gateways.Get(name)
	if !ok {
		metrics.RecordPaymentURL(metrics.UnknownGateway, "disabled")
		writeJSON(w, http.StatusServiceUnavailable, createPaymentResponse{Message: "payment gateway " + name + " is not available"})
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		metrics.RecordPaymentURL(name, "bad_request")
		writeJSON(w, http.StatusBadRequest, createPaymentResponse{Message: "orderId is required"})
		return
	}

	o, err := h.Orders.FindByID(r.Context(), req.OrderID)
	switch {
	case errors.Is(err, order.ErrNotFound):
		metrics.RecordPaymentURL(name, "not_found")
		writeJSON(w, http.StatusNotFound, createPaymentResponse{Message: "order not found"})
		return
	case err != nil:
		h.Logger.Printf("[Payments] load order %s: %v", req.OrderID, err)
		metrics.RecordPaymentURL(name, "error")
		writeJSON(w, http.StatusInternalServerError, createPaymentResponse{Message: "could not load order"})
		return
	}
	if o.Status != order.StatusPendingPayment {
		metrics.RecordPaymentURL(name, "not_payable")
		writeJSON(w, http.StatusConflict, createPaymentResponse{Message: "order is not awaiting payment"})
		return
	}
	if req.Amount != 0 && req.Amount != o.TotalAmount {
		metrics.RecordPaymentURL(name, "amount_mismatch")
		writeJSON(w, http.StatusBadRequest, createPaymentResponse{Message: "amount does not match order total"})
		return
	}

	payURL, err := g.CreatePaymentURL(r.Context(), gateway.PaymentRequest{
		OrderID:  o.ID,
		Amount:   o.TotalAmount,
		BankCode: req.BankCode,
		Language: req.Language,
		ClientIP: clientIP(r),
	})
	if err != nil {
		h.Logger.Printf("[Payments] %s create payment url order=%s: %v", name, o.ID, err)
		metrics.RecordPaymentURL(name, "error")
		writeJSON(w, http.StatusBadGateway, createPaymentResponse{Message: "could not create payment"})
		return
	}
	metrics.RecordPaymentURL(name, "ok")
	writeJSON(w, http.StatusOK, createPaymentResponse{Success: true, PaymentURL: payURL})
}

// handleReturn is where the gateway sends the buyer's browser. It confirms
// like the IPN does and then redirects to the storefront result page.
func (h *PaymentHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	g, ok := h.Gateways.Get(r.PathValue("gateway"))
	if !ok {
		metrics.RecordCallback(metrics.UnknownGateway, "return", "disabled")
		http.Redirect(w, r, h.Frontend.FailureURL, http.StatusFound)
		return
	}
	outcome, orderID, err := h.process(r, g, "return")
	target := h.Frontend.FailureURL
	if err == nil && (outcome == reconcile.OutcomeConfirmed || outcome == reconcile.OutcomeAlreadyProcessed) {
		target = h.Frontend.SuccessURL
	}
	if orderID != "" {
		target = withQuery(target, "orderId", orderID)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleIPN always answers 200 in the gateway's own ack format; gateways
// retry anything else.
func (h *PaymentHandlers) handleIPN(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("gateway")
	g, ok := h.Gateways.Get(name)
	if !ok {
		metrics.RecordCallback(metrics.UnknownGateway, "ipn", "disabled")
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "99", "Message": "Unknown gateway"})
		return
	}
	outcome, _, err := h.process(r, g, "ipn")
	g.WriteAck(w, ackFor(outcome, err))
}

// process verifies the callback and hands it to the confirmer. The returned
// order id is empty unless the signature checked out.
func (h *PaymentHandlers) process(r *http.Request, g gateway.Gateway, endpoint string) (reconcile.Outcome, string, error) {
	cb, err := g.ParseCallback(r)
	if err != nil {
		h.Logger.Printf("[Payments] rejected %s %s callback order=%q remote=%s: %v",
			g.Name(), endpoint, cb.OrderID, clientIP(r), err)
		metrics.RecordCallback(g.Name(), endpoint, "rejected")
		return "", "", err
	}

	outcome, err := h.Confirmer.Confirm(r.Context(), reconcile.Confirmation{
		OrderID:       cb.OrderID,
		Gateway:       cb.Gateway,
		ResponseCode:  cb.ResponseCode,
		Amount:        cb.Amount,
		TransactionNo: cb.TransactionNo,
	})
	if err != nil {
		h.Logger.Printf("[Payments] %s %s confirm order=%s: %v", g.Name(), endpoint, cb.OrderID, err)
		metrics.RecordCallback(g.Name(), endpoint, "error")
		return "", cb.OrderID, err
	}
	metrics.RecordCallback(g.Name(), endpoint, string(outcome))
	return outcome, cb.OrderID, nil
}

func ackFor(outcome reconcile.Outcome, err error) gateway.AckKind {
	switch {
	case errors.Is(err, gateway.ErrSignatureInvalid), errors.Is(err, gateway.ErrMalformedCallback):
		return gateway.AckChecksumFailed
	case errors.Is(err, order.ErrNotFound):
		return gateway.AckOrderNotFound
	case errors.Is(err, reconcile.ErrAmountMismatch):
		return gateway.AckInvalidAmount
	case err != nil:
		return gateway.AckUnknownError
	}
	switch outcome {
	case reconcile.OutcomeAlreadyProcessed, reconcile.OutcomeOrderClosed:
		return gateway.AckAlreadyConfirmed
	default:
		// confirmed or declined: the notification was received and recorded
		return gateway.AckSuccess
	}
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
