package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// OutOfStockError reports how many units the customer can still take.
type OutOfStockError struct {
	ProductID string
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: %d available", e.ProductID, e.Available)
}

// Cart holds a customer's pending selection. One document per customer,
// created lazily on the first write and drained on every successful
// order commit.
type Cart struct {
	CustomerID string    `bson:"customer_id" json:"customerId"`
	Items      []Item    `bson:"items" json:"items"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updatedAt"`
}

// Item is one cart line. UnitPriceCents is a snapshot of the catalog
// price at the time of the last mutation touching this line.
type Item struct {
	ProductID      string    `bson:"product_id" json:"productId"`
	Quantity       int       `bson:"quantity" json:"quantity"`
	UnitPriceCents int64     `bson:"unit_price_cents" json:"unitPriceCents"`
	AddedAt        time.Time `bson:"added_at" json:"addedAt"`
}

func New(customerID string) *Cart {
	now := time.Now().UTC()
	return &Cart{CustomerID: customerID, Items: []Item{}, CreatedAt: now, UpdatedAt: now}
}

func (c *Cart) Find(productID string) *Item {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// Upsert replaces the line for the item's product, or appends it.
func (c *Cart) Upsert(item Item) {
	if existing := c.Find(item.ProductID); existing != nil {
		*existing = item
		return
	}
	c.Items = append(c.Items, item)
}

func (c *Cart) Remove(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) Empty() bool { return len(c.Items) == 0 }

func (c *Cart) SubtotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	return total
}
