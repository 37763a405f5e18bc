package domain

import "errors"

var (
	ErrProductNotFound = errors.New("product not found")

	// ErrProductUnavailable marks a product that exists but cannot be
	// sold right now (deactivated by its seller).
	ErrProductUnavailable = errors.New("product unavailable")
)

// Product is the read model the engine consumes from the catalog.
// Price and stock reflect the catalog's current committed state; order
// line items snapshot these values at commit time and never follow
// later catalog changes.
type Product struct {
	ID         string
	SellerID   string
	Name       string
	Image      string
	PriceCents int64
	Stock      int
	IsActive   bool
}

// Available reports whether the product can be sold at all.
func (p Product) Available() bool {
	return p.IsActive && p.Stock > 0
}
