package order

import "time"

// DemoOrders are the fixture orders loaded by the seed command and by the
// in-memory store at startup.
func DemoOrders(now time.Time) []Order {
	return []Order{
		{ID: "demo-order-1", CustomerID: "demo-customer", CustomerEmail: "buyer@example.local", Status: StatusPendingPayment, TotalAmount: 150000, UpdatedAt: now},
		{ID: "demo-order-2", CustomerID: "demo-customer", CustomerEmail: "buyer@example.local", Status: StatusPendingPayment, TotalAmount: 2500000, UpdatedAt: now},
		{ID: "demo-order-3", CustomerID: "demo-customer", Status: StatusShipped, TotalAmount: 99000, UpdatedAt: now},
	}
}
