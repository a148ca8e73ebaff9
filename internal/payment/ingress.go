package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/reconcile"
)

// IngressClient confirms payments by invoking the PaymentConfirmation
// object through the Restate ingress.
type IngressClient struct {
	runtimeURL string
	http       *http.Client
}

func NewIngressClient(runtimeURL string, httpClient *http.Client) *IngressClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &IngressClient{runtimeURL: strings.TrimRight(runtimeURL, "/"), http: httpClient}
}

func (c *IngressClient) Confirm(ctx context.Context, conf reconcile.Confirmation) (reconcile.Outcome, error) {
	target := fmt.Sprintf("%s/%s/%s/Confirm", c.runtimeURL, ServiceName, url.PathEscape(conf.OrderID))
	b, err := json.Marshal(conf)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if conf.TransactionNo != "" {
		// redirect and IPN for one transaction collapse into one invocation
		req.Header.Set("idempotency-key", conf.Gateway+":"+conf.TransactionNo+":"+conf.ResponseCode)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("restate ingress: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("restate ingress status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res ConfirmResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("restate ingress: decode response: %w", err)
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Outcome, nil
}
