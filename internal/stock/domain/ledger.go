package domain

import "errors"

// ErrInsufficientStock is returned when a reservation asks for more
// units than the product currently has, or the product is inactive.
// The conditional update that detects this must leave stock unchanged.
var ErrInsufficientStock = errors.New("insufficient stock")

// Movement records one ledger mutation. Reservations carry a negative
// delta, releases a positive one; for any cancelled order the deltas
// per product sum to zero.
type Movement struct {
	ProductID string
	Delta     int
}
