package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnknownGateway labels requests for gateway names that are not enabled.
// Path values never become label values, so series stay bounded.
const UnknownGateway = "unknown"

var (
	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment gateway callbacks by gateway, endpoint and result",
		},
		[]string{"gateway", "endpoint", "result"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Payment confirmation notifications by result",
		},
		[]string{"result"},
	)

	paymentURLsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_urls_created_total",
			Help: "Payment URL creation attempts by gateway and result",
		},
		[]string{"gateway", "result"},
	)
)

func init() {
	prometheus.MustRegister(callbacksTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(paymentURLsTotal)
}

// RecordCallback counts a handled return or IPN callback.
func RecordCallback(gateway, endpoint, result string) {
	callbacksTotal.WithLabelValues(gateway, endpoint, result).Inc()
}

func RecordNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

func RecordPaymentURL(gateway, result string) {
	paymentURLsTotal.WithLabelValues(gateway, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
