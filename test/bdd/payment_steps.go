package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/signing"
	"github.com/cucumber/godog"
)

func (w *PaymentsWorld) registerOrderSteps(sc *godog.ScenarioContext) {
	sc.Step(`^order "([^"]+)" for customer "([^"]+)" totaling (\d+) VND is awaiting payment$`, w.orderAwaitingPayment)
	sc.Step(`^order "([^"]+)" totaling (\d+) VND has status "([^"]+)"$`, w.orderWithStatus)
	sc.Step(`^order "([^"]+)" has status "([^"]+)"$`, w.assertOrderStatus)
	sc.Step(`^the customer is notified (\d+) times? about order "([^"]+)"$`, w.assertNotified)
	sc.Step(`^the customer is not notified about order "([^"]+)"$`, w.assertNotNotified)
}

func (w *PaymentsWorld) registerCallbackSteps(sc *godog.ScenarioContext) {
	sc.Step(`^VNPay sends an IPN for order "([^"]+)" with amount (\d+) and response code "([^"]+)"$`, w.sendIPN)
	sc.Step(`^VNPay sends the same successful IPN for order "([^"]+)" with amount (\d+) (\d+) times concurrently$`, w.sendConcurrentIPNs)
	sc.Step(`^an attacker sends an IPN for order "([^"]+)" with amount (\d+) and a forged signature$`, w.sendForgedIPN)
	sc.Step(`^the customer returns from VNPay for order "([^"]+)" with amount (\d+) and response code "([^"]+)"$`, w.customerReturns)
	sc.Step(`^the customer returns from VNPay for order "([^"]+)" with amount (\d+) and a tampered amount$`, w.customerReturnsTampered)
	sc.Step(`^VNPay is acknowledged with RspCode "([^"]+)" and message "([^"]+)"$`, w.assertAck)
	sc.Step(`^the customer is redirected to the (success|failure) page for order "([^"]+)"$`, w.assertRedirect)
	sc.Step(`^the customer is redirected to the failure page without an order id$`, w.assertRedirectWithoutOrder)
}

func (w *PaymentsWorld) orderAwaitingPayment(id, customerID, amount string) error {
	return w.seedOrder(id, customerID, amount, order.StatusPendingPayment)
}

func (w *PaymentsWorld) orderWithStatus(id, amount, status string) error {
	s, ok := order.ParseStatus(status)
	if !ok {
		return fmt.Errorf("unknown status %q", status)
	}
	return w.seedOrder(id, "customer-"+id, amount, s)
}

func (w *PaymentsWorld) seedOrder(id, customerID, amount string, status order.Status) error {
	total, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	return w.memory.Save(context.Background(), order.Order{
		ID:          id,
		CustomerID:  customerID,
		Status:      status,
		TotalAmount: total,
		UpdatedAt:   time.Now().UTC(),
	})
}

// signedCallback builds the query VNPay would send for a transaction.
func (w *PaymentsWorld) signedCallback(id, amount, code string) (url.Values, error) {
	total, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	params := signing.Params{
		"vnp_TmnCode":           tmnCode,
		"vnp_TxnRef":            id,
		"vnp_Amount":            strconv.FormatInt(total*100, 10),
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "1400" + id,
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         "Thanh toan don hang:" + id,
		"vnp_PayDate":           "20250301100500",
	}
	v, err := signing.NewVerifier(signing.VNPay(), w.hashSecret)
	if err != nil {
		return nil, err
	}
	sig, err := v.Sign(params)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, val := range params {
		q.Set(k, val)
	}
	q.Set("vnp_SecureHashType", "HmacSHA512")
	q.Set("vnp_SecureHash", sig)
	return q, nil
}

func (w *PaymentsWorld) get(path string, q url.Values) (*http.Response, error) {
	return w.client.Get(w.server.URL + path + "?" + q.Encode())
}

func (w *PaymentsWorld) ipn(q url.Values) (int, map[string]string, error) {
	resp, err := w.get("/api/payments/vnpay/ipn", q)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var ack map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode ack: %w", err)
	}
	return resp.StatusCode, ack, nil
}

func (w *PaymentsWorld) sendIPN(id, amount, code string) error {
	q, err := w.signedCallback(id, amount, code)
	if err != nil {
		return err
	}
	w.lastStatus, w.lastAck, err = w.ipn(q)
	return err
}

func (w *PaymentsWorld) sendForgedIPN(id, amount string) error {
	q, err := w.signedCallback(id, amount, "00")
	if err != nil {
		return err
	}
	forger, err := signing.NewVerifier(signing.VNPay(), "not-the-merchant-secret")
	if err != nil {
		return err
	}
	params := signing.FromValues(q).Without("vnp_SecureHash", "vnp_SecureHashType")
	sig, err := forger.Sign(params)
	if err != nil {
		return err
	}
	q.Set("vnp_SecureHash", sig)
	w.lastStatus, w.lastAck, err = w.ipn(q)
	return err
}

func (w *PaymentsWorld) sendConcurrentIPNs(id, amount string, times int) error {
	q, err := w.signedCallback(id, amount, "00")
	if err != nil {
		return err
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		acks = map[string]int{}
	)
	for i := 0; i < times; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, ack, err := w.ipn(q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if status != http.StatusOK {
				errs = append(errs, fmt.Errorf("ipn status %d", status))
				return
			}
			acks[ack["Message"]]++
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	if acks["Success"] != 1 || acks["Order already confirmed"] != times-1 {
		return fmt.Errorf("expected one Success and %d already confirmed acks, got %v", times-1, acks)
	}
	return nil
}

func (w *PaymentsWorld) customerReturns(id, amount, code string) error {
	q, err := w.signedCallback(id, amount, code)
	if err != nil {
		return err
	}
	return w.followReturn(q)
}

func (w *PaymentsWorld) customerReturnsTampered(id, amount string) error {
	q, err := w.signedCallback(id, amount, "00")
	if err != nil {
		return err
	}
	q.Set("vnp_Amount", "100")
	return w.followReturn(q)
}

func (w *PaymentsWorld) followReturn(q url.Values) error {
	resp, err := w.get("/api/payments/vnpay/return", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	w.lastStatus = resp.StatusCode
	w.lastLocation = resp.Header.Get("Location")
	return nil
}

func (w *PaymentsWorld) assertAck(code, message string) error {
	if w.lastStatus != http.StatusOK {
		return fmt.Errorf("expected HTTP 200 for IPN, got %d", w.lastStatus)
	}
	if w.lastAck["RspCode"] != code || w.lastAck["Message"] != message {
		return fmt.Errorf("expected ack %s/%q, got %v", code, message, w.lastAck)
	}
	return nil
}

func (w *PaymentsWorld) assertRedirect(page, id string) error {
	if w.lastStatus != http.StatusFound {
		return fmt.Errorf("expected 302, got %d", w.lastStatus)
	}
	want := successURL
	if page == "failure" {
		want = failureURL
	}
	want += "?orderId=" + url.QueryEscape(id)
	if w.lastLocation != want {
		return fmt.Errorf("expected redirect to %s, got %s", want, w.lastLocation)
	}
	return nil
}

func (w *PaymentsWorld) assertRedirectWithoutOrder() error {
	if w.lastStatus != http.StatusFound {
		return fmt.Errorf("expected 302, got %d", w.lastStatus)
	}
	if w.lastLocation != failureURL {
		return fmt.Errorf("expected redirect to %s, got %s", failureURL, w.lastLocation)
	}
	return nil
}

func (w *PaymentsWorld) assertOrderStatus(id, status string) error {
	o, err := w.store.FindByID(context.Background(), id)
	if err != nil {
		return err
	}
	if string(o.Status) != status {
		return fmt.Errorf("expected order %s to be %s, got %s", id, status, o.Status)
	}
	return nil
}

func (w *PaymentsWorld) assertNotified(times int, id string) error {
	w.reconciler.Wait()
	if got := w.notifier.count(id); got != times {
		return fmt.Errorf("expected %d notifications for %s, got %d", times, id, got)
	}
	return nil
}

func (w *PaymentsWorld) assertNotNotified(id string) error {
	return w.assertNotified(0, id)
}
