package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
)

// Client performs authorization checks.
type Client interface {
	Check(ctx context.Context, user, object, relation string) (bool, error)
}

// TupleKey is an OpenFGA relationship tuple.
type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// OpenFGAClient implements Client against an OpenFGA HTTP API.
type OpenFGAClient struct {
	apiURL  string
	storeID string
	http    *http.Client
}

// New constructs a Client from config.
// If OpenFGA is not configured, returns a no-op client that always allows.
func New(cfg config.AuthzConfig) Client {
	if cfg.APIURL == "" || cfg.StoreID == "" {
		return &NoopClient{}
	}
	return NewOpenFGAClient(cfg, nil)
}

func NewOpenFGAClient(cfg config.AuthzConfig, httpClient *http.Client) *OpenFGAClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &OpenFGAClient{apiURL: cfg.APIURL, storeID: cfg.StoreID, http: httpClient}
}

// Check calls OpenFGA /check. Returns (false, nil) on a definitive deny.
func (c *OpenFGAClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	var jr struct {
		Allowed bool `json:"allowed"`
	}
	body := map[string]any{"tuple_key": TupleKey{User: user, Relation: relation, Object: object}}
	if err := c.post(ctx, "check", body, &jr); err != nil {
		return false, err
	}
	return jr.Allowed, nil
}

// Write stores relationship tuples.
func (c *OpenFGAClient) Write(ctx context.Context, tuples []TupleKey) error {
	body := map[string]any{"writes": map[string]any{"tuple_keys": tuples}}
	return c.post(ctx, "write", body, nil)
}

// POST {api}/stores/{store_id}/{op}
func (c *OpenFGAClient) post(ctx context.Context, op string, body, out any) error {
	url := fmt.Sprintf("%s/stores/%s/%s", c.apiURL, c.storeID, op)
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openfga %s status %d", op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NoopClient allows everything. Useful for local dev without OpenFGA.
type NoopClient struct{}

func (n *NoopClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	return true, nil
}
