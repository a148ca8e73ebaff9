package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/signing"
)

const (
	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
)

// VNPay merchant time zone (GMT+7) for vnp_CreateDate / vnp_ExpireDate.
var vnpZone = time.FixedZone("ICT", 7*60*60)

var vnpAcks = map[AckKind][2]string{
	AckSuccess:          {"00", "Success"},
	AckAlreadyConfirmed: {"00", "Order already confirmed"},
	AckOrderNotFound:    {"01", "Order not found"},
	AckInvalidAmount:    {"04", "Invalid amount"},
	AckChecksumFailed:   {"97", "Checksum failed"},
	AckUnknownError:     {"99", "Unknown error"},
}

type VNPay struct {
	cfg      config.VNPayConfig
	verifier *signing.Verifier
	now      func() time.Time
}

func NewVNPay(cfg config.VNPayConfig) (*VNPay, error) {
	v, err := signing.NewVerifier(signing.VNPay("vnp_TxnRef", "vnp_Amount"), cfg.HashSecret)
	if err != nil {
		return nil, fmt.Errorf("vnpay: %w", err)
	}
	return &VNPay{cfg: cfg, verifier: v, now: time.Now}, nil
}

func (g *VNPay) Name() string { return config.GatewayVNPay }

func (g *VNPay) CreatePaymentURL(_ context.Context, req PaymentRequest) (string, error) {
	locale := req.Language
	if locale == "" {
		locale = g.cfg.Locale
	}
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang:" + req.OrderID
	}
	created := g.now().In(vnpZone)

	params := signing.Params{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  g.cfg.OrderType,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": created.Format("20060102150405"),
		"vnp_ExpireDate": created.Add(15 * time.Minute).Format("20060102150405"),
	}
	if req.BankCode != "" {
		params["vnp_BankCode"] = req.BankCode
	}

	query, err := g.verifier.Canonical(params)
	if err != nil {
		return "", err
	}
	sig, err := g.verifier.Sign(params)
	if err != nil {
		return "", err
	}
	return g.cfg.PaymentURL + "?" + query + "&" + vnpSecureHash + "=" + sig, nil
}

// ParseCallback handles both the browser return and the IPN, which VNPay
// sends as the same signed query string.
func (g *VNPay) ParseCallback(r *http.Request) (Callback, error) {
	if err := r.ParseForm(); err != nil {
		return Callback{Gateway: g.Name()}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	params := signing.FromValues(r.Form)
	cb := Callback{
		Gateway:       g.Name(),
		OrderID:       params["vnp_TxnRef"],
		TransactionNo: params["vnp_TransactionNo"],
		Params:        params,
	}

	sig := params[vnpSecureHash]
	if sig == "" {
		return cb, fmt.Errorf("%w: missing %s", ErrMalformedCallback, vnpSecureHash)
	}
	ok, err := g.verifier.Verify(signing.SignedRequest{
		Params:    params.Without(vnpSecureHash, vnpSecureHashType),
		Signature: sig,
	})
	if err != nil {
		return cb, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if !ok {
		return cb, ErrSignatureInvalid
	}

	if cb.OrderID == "" {
		return cb, fmt.Errorf("%w: missing vnp_TxnRef", ErrMalformedCallback)
	}
	amount, err := strconv.ParseInt(params["vnp_Amount"], 10, 64)
	if err != nil {
		return cb, fmt.Errorf("%w: vnp_Amount: %v", ErrMalformedCallback, err)
	}
	// vnp_Amount is VND x 100; anything else cannot be a real charge
	if amount <= 0 || amount%100 != 0 {
		return cb, fmt.Errorf("%w: vnp_Amount %d is not a whole VND amount", ErrMalformedCallback, amount)
	}
	cb.Amount = amount / 100
	cb.ResponseCode = vnpResult(params["vnp_ResponseCode"], params["vnp_TransactionStatus"])
	return cb, nil
}

// vnpResult is "00" only when both the response code and, if present,
// the transaction status say the payment went through.
func vnpResult(responseCode, txnStatus string) string {
	if responseCode != "00" {
		if responseCode == "" {
			return "99"
		}
		return responseCode
	}
	if txnStatus != "" && txnStatus != "00" {
		return txnStatus
	}
	return "00"
}

func (g *VNPay) WriteAck(w http.ResponseWriter, kind AckKind) {
	a, ok := vnpAcks[kind]
	if !ok {
		a = vnpAcks[AckUnknownError]
	}
	writeJSON(w, map[string]string{"RspCode": a[0], "Message": a[1]})
}
