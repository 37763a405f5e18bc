package domain

import (
	"errors"
	"math"
	"time"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions is the full legal chain; anything absent is rejected.
// Cancellation is modeled separately because it is customer-driven and
// restores stock.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func ValidStatus(s OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal statuses end the order's active lifecycle; the record stays
// readable as an audit trail.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// OrderItem is snapshotted entirely at commit time. Catalog changes
// after commit never alter a placed order.
type OrderItem struct {
	ProductID         string `json:"productId"`
	SellerID          string `json:"sellerId"`
	Name              string `json:"name"`
	Image             string `json:"image,omitempty"`
	Quantity          int    `json:"quantity"`
	UnitPriceCents    int64  `json:"unitPriceCents"`
	LineDiscountCents int64  `json:"lineDiscountCents"`
	LineTotalCents    int64  `json:"lineTotalCents"`
}

type StatusChange struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	Note   string      `json:"note"`
}

// Order is immutable after creation except for Status, History and
// DeliveredAt.
type Order struct {
	ID              string        `json:"id"`
	Number          string        `json:"number"`
	CustomerID      string        `json:"customerId"`
	Items           []OrderItem   `json:"items"`
	SubtotalCents   int64         `json:"subtotalCents"`
	TaxRate         float64       `json:"taxRate"`
	TaxCents        int64         `json:"taxCents"`
	ShippingCents   int64         `json:"shippingCents"`
	DiscountCents   int64         `json:"discountCents"`
	TotalCents      int64         `json:"totalCents"`
	Currency        string        `json:"currency"`
	Status          OrderStatus   `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentMethod   string        `json:"paymentMethod"`
	Notes           string        `json:"notes,omitempty"`
	History         []StatusChange `json:"history"`
	ShippingAddress Address       `json:"shippingAddress"`
	BillingAddress  Address       `json:"billingAddress"`
	DeliveredAt     *time.Time    `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

type Draft struct {
	ID              string
	Number          string
	CustomerID      string
	Items           []OrderItem
	TaxRate         float64
	ShippingCents   int64
	DiscountCents   int64
	Currency        string
	PaymentMethod   string
	Notes           string
	ShippingAddress Address
	BillingAddress  *Address
}

// NewOrder computes line totals and the order total from the draft and
// seeds the status history. Billing address falls back to the shipping
// address when absent.
func NewOrder(d Draft) Order {
	var subtotal int64
	items := make([]OrderItem, len(d.Items))
	for i, item := range d.Items {
		item.LineTotalCents = int64(item.Quantity) * item.UnitPriceCents
		subtotal += item.LineTotalCents
		items[i] = item
	}
	tax := int64(math.Round(float64(subtotal) * d.TaxRate))

	billing := d.ShippingAddress
	if d.BillingAddress != nil {
		billing = *d.BillingAddress
	}

	now := time.Now().UTC()
	return Order{
		ID:              d.ID,
		Number:          d.Number,
		CustomerID:      d.CustomerID,
		Items:           items,
		SubtotalCents:   subtotal,
		TaxRate:         d.TaxRate,
		TaxCents:        tax,
		ShippingCents:   d.ShippingCents,
		DiscountCents:   d.DiscountCents,
		TotalCents:      subtotal + tax + d.ShippingCents - d.DiscountCents,
		Currency:        d.Currency,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   d.PaymentMethod,
		Notes:           d.Notes,
		History:         []StatusChange{{Status: StatusPending, At: now, Note: "Order placed"}},
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// OwnedBySeller reports whether the seller owns at least one line item.
func (o *Order) OwnedBySeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// SellerTotalCents sums only the given seller's line totals; other
// sellers' lines in the same order are never counted.
func (o *Order) SellerTotalCents(sellerID string) int64 {
	var total int64
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			total += item.LineTotalCents
		}
	}
	return total
}

// Advance moves the order along the seller-driven chain, appending a
// history entry. Delivery stamps DeliveredAt.
func (o *Order) Advance(to OrderStatus, note string) error {
	if to == StatusCancelled || !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	o.Status = to
	o.History = append(o.History, StatusChange{Status: to, At: now, Note: note})
	o.UpdatedAt = now
	if to == StatusDelivered {
		o.DeliveredAt = &now
	}
	return nil
}

// Cancellable is true only before the order enters fulfilment.
func (o *Order) Cancellable() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// Cancel marks the order cancelled. Releasing the reserved stock is
// the caller's obligation.
func (o *Order) Cancel(reason string) error {
	if !o.Cancellable() {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.History = append(o.History, StatusChange{Status: StatusCancelled, At: now, Note: reason})
	o.UpdatedAt = now
	return nil
}

// LastChange is the tail of the append-only history; its status always
// matches the order's current status.
func (o *Order) LastChange() StatusChange {
	return o.History[len(o.History)-1]
}
