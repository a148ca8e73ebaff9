// Package gateway adapts each payment provider's URL building, callback
// verification and acknowledgement format behind one interface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/signing"
)

var (
	ErrSignatureInvalid  = errors.New("callback signature invalid")
	ErrMalformedCallback = errors.New("callback malformed")
	ErrCreatePayment     = errors.New("gateway rejected payment request")
)

// PaymentRequest is what the storefront asks a gateway to collect.
type PaymentRequest struct {
	OrderID   string
	Amount    int64 // VND, no minor unit
	OrderInfo string
	BankCode  string
	Language  string
	ClientIP  string
}

// Callback is a verified redirect or IPN. ResponseCode is normalized so
// "00" means paid for every gateway.
type Callback struct {
	Gateway       string
	OrderID       string
	ResponseCode  string
	Amount        int64
	TransactionNo string
	Params        signing.Params
}

// AckKind is the gateway-independent result we report back to an IPN.
type AckKind int

const (
	AckSuccess AckKind = iota
	AckAlreadyConfirmed
	AckOrderNotFound
	AckInvalidAmount
	AckChecksumFailed
	AckUnknownError
)

type Gateway interface {
	Name() string
	CreatePaymentURL(ctx context.Context, req PaymentRequest) (string, error)
	// ParseCallback verifies and decodes a callback. On ErrSignatureInvalid
	// the returned Callback still carries OrderID for audit logging.
	ParseCallback(r *http.Request) (Callback, error)
	WriteAck(w http.ResponseWriter, kind AckKind)
}

// Registry holds the gateways enabled by configuration.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gs ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gs))}
	for _, g := range gs {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
