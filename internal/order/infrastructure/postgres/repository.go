package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/order-engine/internal/order/application"
	"github.com/shopforge/order-engine/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// SaveWithOutbox writes order, line items, history and the outbox
// event in one transaction, so the event exists iff the order does.
func (r *Repository) SaveWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders
		(id, order_number, customer_id, subtotal_cents, tax_rate, tax_cents, shipping_cents,
		 discount_cents, total_cents, currency, status, payment_status, payment_method, notes,
		 shipping_address, billing_address, delivered_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.Number, o.CustomerID, o.SubtotalCents, o.TaxRate, o.TaxCents, o.ShippingCents,
		o.DiscountCents, o.TotalCents, o.Currency, o.Status, o.PaymentStatus, o.PaymentMethod, o.Notes,
		o.ShippingAddress, o.BillingAddress, o.DeliveredAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items
			(order_id, product_id, seller_id, name, image, quantity, unit_price_cents, line_discount_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, item.ProductID, item.SellerID, item.Name, item.Image,
			item.Quantity, item.UnitPriceCents, item.LineDiscountCents, item.LineTotalCents)
	}
	for _, h := range o.History {
		batch.Queue(`INSERT INTO order_status_history (order_id, status, note, changed_at) VALUES ($1,$2,$3,$4)`,
			o.ID, h.Status, h.Note, h.At)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order rows: %w", err)
	}

	if err := insertOutbox(ctx, tx, o.ID, eventType, payload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateStatusWithOutbox persists the order's current status together
// with the newest history entry and the event. Line items and totals
// are immutable and never touched here. The UPDATE is guarded by the
// expected prior status; when a concurrent transition won the row first
// no rows match and ErrInvalidTransition comes back.
func (r *Repository) UpdateStatusWithOutbox(ctx context.Context, o domain.Order, from domain.OrderStatus, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders
		SET status=$3, payment_status=$4, delivered_at=$5, updated_at=$6
		WHERE id=$1 AND status=$2`,
		o.ID, from, o.Status, o.PaymentStatus, o.DeliveredAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}

	last := o.LastChange()
	_, err = tx.Exec(ctx, `INSERT INTO order_status_history (order_id, status, note, changed_at) VALUES ($1,$2,$3,$4)`,
		o.ID, last.Status, last.Note, last.At)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if err := insertOutbox(ctx, tx, o.ID, eventType, payload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteWithOutbox removes a rolled-back order (items and history
// cascade) while leaving the compensating event behind.
func (r *Repository) DeleteWithOutbox(ctx context.Context, orderID, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if err := insertOutbox(ctx, tx, orderID, eventType, payload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ('order',$1,$2,$3,$4,'pending')`, aggregateID, eventType, payload, traceparent)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, customer_id, subtotal_cents, tax_rate, tax_cents, shipping_cents,
	discount_cents, total_cents, currency, status, payment_status, payment_method, notes,
	shipping_address, billing_address, delivered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.SubtotalCents, &o.TaxRate, &o.TaxCents,
		&o.ShippingCents, &o.DiscountCents, &o.TotalCents, &o.Currency, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.Notes, &o.ShippingAddress, &o.BillingAddress, &o.DeliveredAt,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadItems(ctx, map[string]*domain.Order{o.ID: &o}); err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT status, note, changed_at FROM order_status_history WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h domain.StatusChange
		if err := rows.Scan(&h.Status, &h.Note, &h.At); err != nil {
			return domain.Order{}, fmt.Errorf("scan history: %w", err)
		}
		o.History = append(o.History, h)
	}
	return o, rows.Err()
}

// sortColumns is the whole set of sortable columns; the application
// layer validates first, this map is the last line of defense before
// the ORDER BY is interpolated.
var sortColumns = map[application.SortField]string{
	application.SortByCreatedAt: "created_at",
	application.SortByTotal:     "total_cents",
	application.SortByStatus:    "status",
}

func (r *Repository) List(ctx context.Context, q application.ListQuery) ([]domain.Order, int, error) {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		return nil, 0, application.ErrInvalidSort
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	where := `customer_id = $1`
	if q.Role == application.RoleSeller {
		where = `EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.seller_id = $1)`
	}
	args := []any{q.PartyID}
	if q.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, *q.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		orderColumns, where, col, dir, len(args)+1, len(args)+2)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.seller_id = $1)
		ORDER BY created_at`, sellerID)
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	byID := make(map[string]*domain.Order)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, orders map[string]*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}

	rows, err := r.pool.Query(ctx, `SELECT order_id, product_id, seller_id, name, image, quantity,
		unit_price_cents, line_discount_cents, line_total_cents
		FROM order_items WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Name, &item.Image,
			&item.Quantity, &item.UnitPriceCents, &item.LineDiscountCents, &item.LineTotalCents); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		if o, ok := orders[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}
