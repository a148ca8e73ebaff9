package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vnpSecret = "vnp-test-secret"

func newTestVNPay(t *testing.T) *VNPay {
	t.Helper()
	g, err := NewVNPay(config.VNPayConfig{
		TmnCode:    "TMN01",
		HashSecret: vnpSecret,
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:3000/api/payments/vnpay/return",
		Version:    "2.1.0",
		Locale:     "vn",
		OrderType:  "other",
	})
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC) }
	return g
}

// vnpCallback plays VNPay: it signs params the way the gateway does and
// returns the request it would send.
func vnpCallback(t *testing.T, params signing.Params) *http.Request {
	t.Helper()
	v, err := signing.NewVerifier(signing.VNPay(), vnpSecret)
	require.NoError(t, err)
	sig, err := v.Sign(params)
	require.NoError(t, err)

	q := url.Values{}
	for k, val := range params {
		q.Set(k, val)
	}
	q.Set("vnp_SecureHashType", "HmacSHA512")
	q.Set("vnp_SecureHash", sig)
	return httptest.NewRequest(http.MethodGet, "/api/payments/vnpay/ipn?"+q.Encode(), nil)
}

func paidVNPayParams() signing.Params {
	return signing.Params{
		"vnp_TmnCode":           "TMN01",
		"vnp_TxnRef":            "order-123",
		"vnp_Amount":            "15000000",
		"vnp_OrderInfo":         "Thanh toan don hang:order-123",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14012345",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20250301100512",
	}
}

func TestVNPayCreatePaymentURL(t *testing.T) {
	g := newTestVNPay(t)
	raw, err := g.CreatePaymentURL(context.Background(), PaymentRequest{
		OrderID:  "order-123",
		Amount:   150000,
		ClientIP: "127.0.0.1",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	params := signing.FromValues(u.Query())
	assert.Equal(t, "15000000", params["vnp_Amount"])
	assert.Equal(t, "order-123", params["vnp_TxnRef"])
	assert.Equal(t, "Thanh toan don hang:order-123", params["vnp_OrderInfo"])
	assert.Equal(t, "20250301100000", params["vnp_CreateDate"])
	assert.Equal(t, "20250301101500", params["vnp_ExpireDate"])
	assert.NotContains(t, params, "vnp_BankCode")

	ok, err := g.verifier.Verify(signing.SignedRequest{
		Params:    params.Without(vnpSecureHash),
		Signature: params[vnpSecureHash],
	})
	require.NoError(t, err)
	assert.True(t, ok, "payment url must carry a signature the gateway accepts")
}

func TestVNPayParseCallback(t *testing.T) {
	g := newTestVNPay(t)

	cb, err := g.ParseCallback(vnpCallback(t, paidVNPayParams()))
	require.NoError(t, err)
	assert.Equal(t, "vnpay", cb.Gateway)
	assert.Equal(t, "order-123", cb.OrderID)
	assert.Equal(t, "00", cb.ResponseCode)
	assert.Equal(t, int64(150000), cb.Amount)
	assert.Equal(t, "14012345", cb.TransactionNo)
}

func TestVNPayParseCallbackPost(t *testing.T) {
	g := newTestVNPay(t)
	get := vnpCallback(t, paidVNPayParams())

	r := httptest.NewRequest(http.MethodPost, "/api/payments/vnpay/ipn", strings.NewReader(get.URL.RawQuery))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	cb, err := g.ParseCallback(r)
	require.NoError(t, err)
	assert.Equal(t, "00", cb.ResponseCode)
}

func TestVNPayDeclinedCodes(t *testing.T) {
	g := newTestVNPay(t)

	p := paidVNPayParams()
	p["vnp_ResponseCode"] = "24"
	cb, err := g.ParseCallback(vnpCallback(t, p))
	require.NoError(t, err)
	assert.Equal(t, "24", cb.ResponseCode)

	p = paidVNPayParams()
	p["vnp_TransactionStatus"] = "02"
	cb, err = g.ParseCallback(vnpCallback(t, p))
	require.NoError(t, err)
	assert.Equal(t, "02", cb.ResponseCode)
}

func TestVNPayTamperedCallback(t *testing.T) {
	g := newTestVNPay(t)
	r := vnpCallback(t, paidVNPayParams())

	q := r.URL.Query()
	q.Set("vnp_Amount", "100")
	r = httptest.NewRequest(http.MethodGet, "/ipn?"+q.Encode(), nil)

	cb, err := g.ParseCallback(r)
	require.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, "order-123", cb.OrderID, "order id is kept for audit logging")
}

func TestVNPayMissingSignature(t *testing.T) {
	g := newTestVNPay(t)
	r := httptest.NewRequest(http.MethodGet, "/ipn?vnp_TxnRef=order-123&vnp_Amount=100", nil)
	_, err := g.ParseCallback(r)
	assert.ErrorIs(t, err, ErrMalformedCallback)

	r = httptest.NewRequest(http.MethodGet, "/ipn?vnp_SecureHash=abc", nil)
	_, err = g.ParseCallback(r)
	assert.ErrorIs(t, err, ErrMalformedCallback)
}

func TestVNPayRejectsFractionalAmount(t *testing.T) {
	g := newTestVNPay(t)

	for _, amount := range []string{"15000099", "0", "-15000000"} {
		p := paidVNPayParams()
		p["vnp_Amount"] = amount
		cb, err := g.ParseCallback(vnpCallback(t, p))
		assert.ErrorIs(t, err, ErrMalformedCallback, amount)
		assert.Zero(t, cb.Amount, amount)
	}
}

func TestVNPayWriteAck(t *testing.T) {
	g := newTestVNPay(t)
	cases := map[AckKind]string{
		AckSuccess:          "00",
		AckAlreadyConfirmed: "00",
		AckOrderNotFound:    "01",
		AckInvalidAmount:    "04",
		AckChecksumFailed:   "97",
		AckUnknownError:     "99",
	}
	for kind, code := range cases {
		rec := httptest.NewRecorder()
		g.WriteAck(rec, kind)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, code, body["RspCode"])
		assert.NotEmpty(t, body["Message"])
	}
}

func momoTestConfig(endpoint string) config.MoMoConfig {
	return config.MoMoConfig{
		PartnerCode: "MOMOTEST",
		AccessKey:   "access-key",
		SecretKey:   "momo-secret",
		Endpoint:    endpoint,
		RedirectURL: "http://localhost:3000/api/payments/momo/return",
		IPNURL:      "http://localhost:3000/api/payments/momo/ipn",
		RequestType: "captureWallet",
		Lang:        "vi",
	}
}

func TestMoMoCreatePaymentURL(t *testing.T) {
	var got momoCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 0, Message: "ok", PayURL: "https://test-payment.momo.vn/pay/abc"})
	}))
	defer srv.Close()

	g, err := NewMoMo(momoTestConfig(srv.URL), srv.Client())
	require.NoError(t, err)
	g.newID = func() string { return "req-1" }

	payURL, err := g.CreatePaymentURL(context.Background(), PaymentRequest{OrderID: "order-9", Amount: 50000})
	require.NoError(t, err)
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", payURL)

	assert.Equal(t, "MOMOTEST", got.PartnerCode)
	assert.Equal(t, int64(50000), got.Amount)
	assert.Equal(t, "req-1", got.RequestID)

	raw := "accessKey=access-key&amount=50000&extraData=&ipnUrl=http://localhost:3000/api/payments/momo/ipn" +
		"&orderId=order-9&orderInfo=Thanh toan don hang:order-9&partnerCode=MOMOTEST" +
		"&redirectUrl=http://localhost:3000/api/payments/momo/return&requestId=req-1&requestType=captureWallet"
	canonical, err := g.create.Canonical(signing.Params{
		"amount": "50000", "extraData": "", "ipnUrl": got.IPNURL, "orderId": got.OrderID,
		"orderInfo": got.OrderInfo, "partnerCode": got.PartnerCode, "redirectUrl": got.RedirectURL,
		"requestId": got.RequestID, "requestType": got.RequestType,
	})
	require.NoError(t, err)
	assert.Equal(t, raw, canonical)

	ok, err := g.create.Verify(signing.SignedRequest{
		Params: signing.Params{
			"amount": "50000", "extraData": "", "ipnUrl": got.IPNURL, "orderId": got.OrderID,
			"orderInfo": got.OrderInfo, "partnerCode": got.PartnerCode, "redirectUrl": got.RedirectURL,
			"requestId": got.RequestID, "requestType": got.RequestType,
		},
		Signature: got.Signature,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMoMoCreatePaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(momoCreateResponse{ResultCode: 13, Message: "merchant authentication failed"})
	}))
	defer srv.Close()

	g, err := NewMoMo(momoTestConfig(srv.URL), srv.Client())
	require.NoError(t, err)
	_, err = g.CreatePaymentURL(context.Background(), PaymentRequest{OrderID: "order-9", Amount: 50000})
	require.ErrorIs(t, err, ErrCreatePayment)
	assert.Contains(t, err.Error(), "merchant authentication failed")
}

func momoIPN(t *testing.T, g *MoMo, resultCode int) map[string]any {
	t.Helper()
	params := signing.Params{
		"amount": "50000", "extraData": "", "message": "Successful.", "orderId": "order-9",
		"orderInfo": "Thanh toan don hang:order-9", "orderType": "momo_wallet",
		"partnerCode": "MOMOTEST", "payType": "qr", "requestId": "req-1",
		"responseTime": "1740800000000", "resultCode": "0", "transId": "4088878653",
	}
	if resultCode != 0 {
		params["resultCode"] = "1006"
	}
	sig, err := g.callback.Sign(params)
	require.NoError(t, err)
	return map[string]any{
		"partnerCode": "MOMOTEST", "orderId": "order-9", "requestId": "req-1",
		"amount": 50000, "orderInfo": "Thanh toan don hang:order-9", "orderType": "momo_wallet",
		"transId": 4088878653, "resultCode": resultCode, "message": "Successful.", "payType": "qr",
		"responseTime": 1740800000000, "extraData": "", "signature": sig,
	}
}

func TestMoMoParseIPN(t *testing.T) {
	g, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	body, _ := json.Marshal(momoIPN(t, g, 0))
	r := httptest.NewRequest(http.MethodPost, "/api/payments/momo/ipn", strings.NewReader(string(body)))
	cb, err := g.ParseCallback(r)
	require.NoError(t, err)
	assert.Equal(t, "momo", cb.Gateway)
	assert.Equal(t, "order-9", cb.OrderID)
	assert.Equal(t, "00", cb.ResponseCode)
	assert.Equal(t, int64(50000), cb.Amount)
	assert.Equal(t, "4088878653", cb.TransactionNo)

	body, _ = json.Marshal(momoIPN(t, g, 1006))
	r = httptest.NewRequest(http.MethodPost, "/api/payments/momo/ipn", strings.NewReader(string(body)))
	cb, err = g.ParseCallback(r)
	require.NoError(t, err)
	assert.Equal(t, "1006", cb.ResponseCode)
}

func TestMoMoRejectsNonPositiveAmount(t *testing.T) {
	g, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	params := signing.Params{
		"amount": "0", "extraData": "", "message": "Successful.", "orderId": "order-9",
		"orderInfo": "Thanh toan don hang:order-9", "orderType": "momo_wallet",
		"partnerCode": "MOMOTEST", "payType": "qr", "requestId": "req-1",
		"responseTime": "1740800000000", "resultCode": "0", "transId": "4088878653",
	}
	sig, err := g.callback.Sign(params)
	require.NoError(t, err)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("signature", sig)

	_, err = g.ParseCallback(httptest.NewRequest(http.MethodGet, "/api/payments/momo/return?"+q.Encode(), nil))
	assert.ErrorIs(t, err, ErrMalformedCallback)
}

func TestMoMoParseRedirect(t *testing.T) {
	g, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	q := url.Values{}
	for k, v := range momoIPN(t, g, 0) {
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		default:
			b, _ := json.Marshal(val)
			q.Set(k, string(b))
		}
	}
	cb, err := g.ParseCallback(httptest.NewRequest(http.MethodGet, "/api/payments/momo/return?"+q.Encode(), nil))
	require.NoError(t, err)
	assert.Equal(t, "00", cb.ResponseCode)

	q.Set("amount", "1")
	_, err = g.ParseCallback(httptest.NewRequest(http.MethodGet, "/api/payments/momo/return?"+q.Encode(), nil))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestMoMoMalformedIPN(t *testing.T) {
	g, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/payments/momo/ipn", strings.NewReader("{not json"))
	_, err = g.ParseCallback(r)
	assert.ErrorIs(t, err, ErrMalformedCallback)

	r = httptest.NewRequest(http.MethodPost, "/api/payments/momo/ipn", strings.NewReader(`{"orderId":"x"}`))
	_, err = g.ParseCallback(r)
	assert.ErrorIs(t, err, ErrMalformedCallback)
}

func TestMoMoWriteAck(t *testing.T) {
	g, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	g.WriteAck(rec, AckChecksumFailed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resultCode":97,"message":"Checksum failed"}`, rec.Body.String())
}

func TestRegistry(t *testing.T) {
	vnp := newTestVNPay(t)
	momo, err := NewMoMo(momoTestConfig("http://unused"), nil)
	require.NoError(t, err)

	reg := NewRegistry(vnp, momo)
	assert.Equal(t, []string{"momo", "vnpay"}, reg.Names())

	g, ok := reg.Get("vnpay")
	require.True(t, ok)
	assert.Same(t, vnp, g)

	_, ok = reg.Get("stripe")
	assert.False(t, ok)
}
