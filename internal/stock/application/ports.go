package application

import "context"

type LedgerStore interface {
	// ReserveStock decrements stock by qty only if the product is active
	// and has at least qty units, as one atomic statement. Returns
	// domain.ErrInsufficientStock otherwise, leaving stock unchanged.
	ReserveStock(ctx context.Context, productID string, qty int) error
	// ReleaseStock unconditionally restores qty units and rolls back the
	// cumulative sold counter.
	ReleaseStock(ctx context.Context, productID string, qty int) error
}
