package api

import (
	"net/http"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/metrics"
)

// NewMux assembles the public HTTP surface.
func NewMux(payments *PaymentHandlers, orders *OrderHandlers) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterPaymentRoutes(mux, payments)
	RegisterOrdersRoutes(mux, orders)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// WithCORS is permissive CORS for the storefront SPA.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Principal, X-User")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
