package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftWithItems(items ...OrderItem) Draft {
	return Draft{
		ID:         "o-1",
		Number:     "ORD-20260823-000001",
		CustomerID: "c-1",
		Items:      items,
		TaxRate:    0.08,
		Currency:   "USD",
		ShippingAddress: Address{
			Name: "Ada Byron", Street: "1 Main St", City: "London", PostalCode: "E1", Country: "GB",
		},
	}
}

func TestNewOrderTotals(t *testing.T) {
	d := draftWithItems(
		OrderItem{ProductID: "A", SellerID: "s-1", Quantity: 2, UnitPriceCents: 10000},
		OrderItem{ProductID: "B", SellerID: "s-2", Quantity: 1, UnitPriceCents: 5000},
	)
	d.ShippingCents = 1000

	o := NewOrder(d)

	assert.Equal(t, int64(20000), o.Items[0].LineTotalCents)
	assert.Equal(t, int64(5000), o.Items[1].LineTotalCents)
	assert.Equal(t, int64(25000), o.SubtotalCents)
	assert.Equal(t, int64(2000), o.TaxCents)
	assert.Equal(t, int64(28000), o.TotalCents)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)

	require.Len(t, o.History, 1)
	assert.Equal(t, StatusPending, o.History[0].Status)
	assert.Equal(t, "Order placed", o.History[0].Note)
}

func TestNewOrderTaxRounding(t *testing.T) {
	d := draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 333})
	o := NewOrder(d)
	// 333 * 0.08 = 26.64 -> 27
	assert.Equal(t, int64(27), o.TaxCents)
}

func TestNewOrderBillingDefaultsToShipping(t *testing.T) {
	d := draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100})
	o := NewOrder(d)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)

	billing := Address{Name: "Other", Street: "2 Side St", City: "Leeds", PostalCode: "L1", Country: "GB"}
	d.BillingAddress = &billing
	o = NewOrder(d)
	assert.Equal(t, billing, o.BillingAddress)
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to OrderStatus }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusProcessing},
		{StatusConfirmed, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusShipped, StatusDelivered},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to OrderStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusShipped},
		{StatusPending, StatusDelivered},
		{StatusConfirmed, StatusShipped},
		{StatusConfirmed, StatusPending},
		{StatusProcessing, StatusCancelled},
		{StatusProcessing, StatusDelivered},
		{StatusShipped, StatusCancelled},
		{StatusShipped, StatusProcessing},
		{StatusDelivered, StatusShipped},
		{StatusDelivered, StatusCancelled},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusConfirmed},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestAdvanceAppendsHistoryAndStampsDelivery(t *testing.T) {
	o := NewOrder(draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100}))

	for _, next := range []OrderStatus{StatusConfirmed, StatusProcessing, StatusShipped} {
		require.NoError(t, o.Advance(next, "step"))
		assert.Equal(t, next, o.Status)
		assert.Equal(t, next, o.LastChange().Status)
	}
	assert.Nil(t, o.DeliveredAt)

	require.NoError(t, o.Advance(StatusDelivered, "left at door"))
	require.NotNil(t, o.DeliveredAt)
	assert.WithinDuration(t, time.Now().UTC(), *o.DeliveredAt, time.Second)
	assert.Len(t, o.History, 5)
}

func TestAdvanceRejectsIllegalMoves(t *testing.T) {
	o := NewOrder(draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100}))

	assert.ErrorIs(t, o.Advance(StatusShipped, ""), ErrInvalidTransition)
	// Cancellation goes through Cancel, never Advance.
	assert.ErrorIs(t, o.Advance(StatusCancelled, ""), ErrInvalidTransition)
	assert.Equal(t, StatusPending, o.Status)
	assert.Len(t, o.History, 1)
}

func TestCancelOnlyBeforeProcessing(t *testing.T) {
	o := NewOrder(draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100}))
	require.NoError(t, o.Cancel("changed my mind"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, StatusCancelled, o.LastChange().Status)
	assert.Equal(t, "changed my mind", o.LastChange().Note)

	o = NewOrder(draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100}))
	require.NoError(t, o.Advance(StatusConfirmed, ""))
	require.NoError(t, o.Cancel("still fine"))

	o = NewOrder(draftWithItems(OrderItem{ProductID: "A", Quantity: 1, UnitPriceCents: 100}))
	require.NoError(t, o.Advance(StatusConfirmed, ""))
	require.NoError(t, o.Advance(StatusProcessing, ""))
	assert.ErrorIs(t, o.Cancel("too late"), ErrInvalidTransition)
}

func TestSellerOwnershipAndTotals(t *testing.T) {
	o := NewOrder(draftWithItems(
		OrderItem{ProductID: "A", SellerID: "x", Quantity: 2, UnitPriceCents: 5000},
		OrderItem{ProductID: "B", SellerID: "y", Quantity: 1, UnitPriceCents: 5000},
	))

	assert.True(t, o.OwnedBySeller("x"))
	assert.True(t, o.OwnedBySeller("y"))
	assert.False(t, o.OwnedBySeller("z"))
	assert.Equal(t, int64(10000), o.SellerTotalCents("x"))
	assert.Equal(t, int64(5000), o.SellerTotalCents("y"))
	assert.Equal(t, int64(0), o.SellerTotalCents("z"))
}
