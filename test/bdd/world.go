package bdd

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/api"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/gateway"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/lock"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/reconcile"
	"github.com/cucumber/godog"
)

const (
	tmnCode    = "BDDTMN01"
	successURL = "http://shop.local/payment/success"
	failureURL = "http://shop.local/payment/failure"
)

// PaymentsWorld holds one scenario's running service: an in-memory order
// store behind the real HTTP API, served over a local listener.
type PaymentsWorld struct {
	t *testing.T

	hashSecret string
	memory     *order.MemoryStore
	store      order.Store
	reconciler *reconcile.Reconciler
	notifier   *recordingNotifier
	server     *httptest.Server
	client     *http.Client

	lastStatus   int
	lastAck      map[string]string
	lastLocation string
}

func NewPaymentsWorld(t *testing.T) *PaymentsWorld {
	return &PaymentsWorld{t: t}
}

func (w *PaymentsWorld) Register(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, w.start()
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		w.stop()
		return ctx, nil
	})
	w.registerOrderSteps(sc)
	w.registerCallbackSteps(sc)
}

func (w *PaymentsWorld) start() error {
	w.hashSecret = getenv("BDD_VNP_HASH_SECRET", "bdd-secret")
	logger := log.New(io.Discard, "", 0)
	if os.Getenv("BDD_DEBUG") == "1" {
		logger = log.New(os.Stdout, "[bdd] ", log.Lmicroseconds)
	}

	vnp, err := gateway.NewVNPay(config.VNPayConfig{
		TmnCode:    tmnCode,
		HashSecret: w.hashSecret,
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost/api/payments/vnpay/return",
		Version:    "2.1.0",
		Locale:     "vn",
		OrderType:  "other",
	})
	if err != nil {
		return err
	}

	w.memory = order.NewMemoryStore()
	w.store = order.NewLockedStore(w.memory, lock.NewLocal())
	w.notifier = &recordingNotifier{}
	w.reconciler = reconcile.New(w.store, w.notifier, logger, 0)

	mux := api.NewMux(&api.PaymentHandlers{
		Gateways:  gateway.NewRegistry(vnp),
		Confirmer: w.reconciler,
		Orders:    w.store,
		Frontend:  config.FrontendConfig{SuccessURL: successURL, FailureURL: failureURL},
		Logger:    logger,
	}, &api.OrderHandlers{
		Orders:    w.store,
		Announcer: w.reconciler,
		Logger:    logger,
	})
	w.server = httptest.NewServer(mux)
	w.client = w.server.Client()
	w.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	w.lastStatus, w.lastAck, w.lastLocation = 0, nil, ""
	return nil
}

func (w *PaymentsWorld) stop() {
	if w.server != nil {
		w.server.Close()
	}
	if w.reconciler != nil {
		w.reconciler.Wait()
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) SendOrderEmail(_ context.Context, o order.Order, status order.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.ID+":"+string(status))
	return nil
}

func (n *recordingNotifier) count(orderID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if len(s) > len(orderID) && s[:len(orderID)+1] == orderID+":" {
			c++
		}
	}
	return c
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
