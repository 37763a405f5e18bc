package domain

import "time"

type OrderCreated struct {
	OrderID    string      `json:"orderId"`
	Number     string      `json:"number"`
	CustomerID string      `json:"customerId"`
	TotalCents int64       `json:"totalCents"`
	Currency   string      `json:"currency"`
	Items      []OrderItem `json:"items"`
}

// OrderRejected compensates an OrderCreated whose stock reservation
// lost a race; consumers must treat the order as never placed.
type OrderRejected struct {
	OrderID string `json:"orderId"`
	Number  string `json:"number"`
	Reason  string `json:"reason"`
}

type OrderStatusChanged struct {
	OrderID string      `json:"orderId"`
	Number  string      `json:"number"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	At      time.Time   `json:"at"`
}

type OrderCancelled struct {
	OrderID    string `json:"orderId"`
	Number     string `json:"number"`
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
}
