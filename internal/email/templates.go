package email

import (
	"bytes"
	"html/template"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
)

var paymentConfirmedTpl = template.Must(template.New("paymentConfirmed").Parse(`
<h2>We received your payment!</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Total: <b>{{.Total}} VND</b></p>
<p>The seller will review your order shortly.</p>
`))

var statusChangedTpl = template.Must(template.New("statusChanged").Parse(`
<h2>Your order was updated</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Status: <b>{{.Status}}</b></p>
`))

// Render returns the subject and HTML body for an order entering status.
func Render(o order.Order, status order.Status) (subject, body string) {
	data := map[string]any{
		"OrderID": o.ID,
		"Total":   formatVND(o.TotalAmount),
		"Status":  string(status),
	}
	var buf bytes.Buffer
	if status == order.StatusWaitingApproval {
		_ = paymentConfirmedTpl.Execute(&buf, data)
		return "Your Payment Confirmation", buf.String()
	}
	_ = statusChangedTpl.Execute(&buf, data)
	return "Your order is " + string(status), buf.String()
}

// formatVND groups thousands with dots, e.g. 1500000 -> 1.500.000.
func formatVND(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := []byte{}
	for i := 0; amount > 0 || i == 0; i++ {
		if i > 0 && i%3 == 0 {
			digits = append(digits, '.')
		}
		digits = append(digits, byte('0'+amount%10))
		amount /= 10
	}
	if neg {
		digits = append(digits, '-')
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
