package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/order-engine/internal/stock/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// ReserveStock is a single conditional update so the availability check
// and the decrement commit together; concurrent reservations against
// the same row serialize on the row lock and can never oversell.
func (r *Repository) ReserveStock(ctx context.Context, productID string, qty int) error {
	ct, err := r.pool.Exec(ctx, `UPDATE products
		SET stock = stock - $2, units_sold = units_sold + $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

func (r *Repository) ReleaseStock(ctx context.Context, productID string, qty int) error {
	ct, err := r.pool.Exec(ctx, `UPDATE products
		SET stock = stock + $2, units_sold = greatest(units_sold - $2, 0), updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		r.log.Warn("release for unknown product", "product_id", productID, "qty", qty)
	}
	return nil
}
