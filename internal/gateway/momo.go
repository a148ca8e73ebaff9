package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/signing"
	"github.com/google/uuid"
)

const momoSignature = "signature"

// MoMo raw signature templates; order matters.
var (
	momoCreateFields = []string{
		"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo",
		"partnerCode", "redirectUrl", "requestId", "requestType",
	}
	momoCallbackFields = []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
		"orderType", "partnerCode", "payType", "requestId", "responseTime",
		"resultCode", "transId",
	}
)

var momoAcks = map[AckKind]struct {
	code int
	msg  string
}{
	AckSuccess:          {0, "Success"},
	AckAlreadyConfirmed: {0, "Order already confirmed"},
	AckOrderNotFound:    {1, "Order not found"},
	AckInvalidAmount:    {4, "Invalid amount"},
	AckChecksumFailed:   {97, "Checksum failed"},
	AckUnknownError:     {99, "Unknown error"},
}

type MoMo struct {
	cfg      config.MoMoConfig
	create   *signing.Verifier
	callback *signing.Verifier
	client   *http.Client
	newID    func() string
}

func NewMoMo(cfg config.MoMoConfig, client *http.Client) (*MoMo, error) {
	fixed := map[string]string{"accessKey": cfg.AccessKey}
	create, err := signing.NewVerifier(signing.MoMo(momoCreateFields, fixed), cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("momo: %w", err)
	}
	callback, err := signing.NewVerifier(signing.MoMo(momoCallbackFields, fixed), cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("momo: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MoMo{
		cfg:      cfg,
		create:   create,
		callback: callback,
		client:   client,
		newID:    func() string { return uuid.New().String() },
	}, nil
}

func (g *MoMo) Name() string { return config.GatewayMoMo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// CreatePaymentURL registers the payment with MoMo and returns its payUrl.
func (g *MoMo) CreatePaymentURL(ctx context.Context, req PaymentRequest) (string, error) {
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang:" + req.OrderID
	}
	lang := req.Language
	if lang == "" {
		lang = g.cfg.Lang
	}
	body := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   g.newID(),
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		OrderInfo:   info,
		RedirectURL: g.cfg.RedirectURL,
		IPNURL:      g.cfg.IPNURL,
		RequestType: g.cfg.RequestType,
		Lang:        lang,
	}
	sig, err := g.create.Sign(signing.Params{
		"amount":      strconv.FormatInt(body.Amount, 10),
		"extraData":   body.ExtraData,
		"ipnUrl":      body.IPNURL,
		"orderId":     body.OrderID,
		"orderInfo":   body.OrderInfo,
		"partnerCode": body.PartnerCode,
		"redirectUrl": body.RedirectURL,
		"requestId":   body.RequestID,
		"requestType": body.RequestType,
	})
	if err != nil {
		return "", err
	}
	body.Signature = sig

	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("momo create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("momo create: %w", err)
	}
	defer resp.Body.Close()

	var out momoCreateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("momo create: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return "", fmt.Errorf("%w: momo resultCode=%d message=%q", ErrCreatePayment, out.ResultCode, out.Message)
	}
	return out.PayURL, nil
}

// ParseCallback accepts the redirect (query string) and the IPN (JSON body).
func (g *MoMo) ParseCallback(r *http.Request) (Callback, error) {
	cb := Callback{Gateway: g.Name()}
	var params signing.Params
	if r.Method == http.MethodPost {
		p, err := decodeJSONParams(r.Body)
		if err != nil {
			return cb, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		params = p
	} else {
		params = signing.FromValues(r.URL.Query())
	}
	cb.Params = params
	cb.OrderID = params["orderId"]
	cb.TransactionNo = params["transId"]

	sig := params[momoSignature]
	if sig == "" {
		return cb, fmt.Errorf("%w: missing %s", ErrMalformedCallback, momoSignature)
	}
	ok, err := g.callback.Verify(signing.SignedRequest{Params: params.Without(momoSignature), Signature: sig})
	if err != nil {
		return cb, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if !ok {
		return cb, ErrSignatureInvalid
	}

	if cb.OrderID == "" {
		return cb, fmt.Errorf("%w: missing orderId", ErrMalformedCallback)
	}
	amount, err := strconv.ParseInt(params["amount"], 10, 64)
	if err != nil {
		return cb, fmt.Errorf("%w: amount: %v", ErrMalformedCallback, err)
	}
	if amount <= 0 {
		return cb, fmt.Errorf("%w: amount %d", ErrMalformedCallback, amount)
	}
	cb.Amount = amount
	switch code := params["resultCode"]; code {
	case "0":
		cb.ResponseCode = "00"
	case "", "00":
		// "00" is not a MoMo code; never let it through as success
		cb.ResponseCode = "99"
	default:
		cb.ResponseCode = code
	}
	return cb, nil
}

func (g *MoMo) WriteAck(w http.ResponseWriter, kind AckKind) {
	a, ok := momoAcks[kind]
	if !ok {
		a = momoAcks[AckUnknownError]
	}
	writeJSON(w, map[string]any{"resultCode": a.code, "message": a.msg})
}

// decodeJSONParams flattens a MoMo JSON body into strings exactly as MoMo
// renders them in its signature (numbers without exponent or decimals).
func decodeJSONParams(body io.Reader) (signing.Params, error) {
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(signing.Params, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			out[k] = strings.TrimSpace(string(b))
		}
	}
	return out, nil
}
