package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/order/domain"
	stockdomain "github.com/shopforge/order-engine/internal/stock/domain"
	"github.com/shopforge/order-engine/pkg/tracing"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidSort   = errors.New("invalid sort field")
	ErrInvalidStatus = errors.New("unknown order status")

	// ErrInconsistent marks a partial commit that needs reconciliation:
	// the order and its reservations stand but a downstream step failed.
	// It must never be swallowed.
	ErrInconsistent = errors.New("order state inconsistent")
)

type Config struct {
	TaxRate  float64
	Currency string
}

type Service struct {
	log     *slog.Logger
	repo    OrderRepository
	carts   CartStore
	catalog CatalogLookup
	ledger  StockLedger
	seq     OrderSequence
	cfg     Config
}

func NewService(log *slog.Logger, repo OrderRepository, carts CartStore, catalog CatalogLookup, ledger StockLedger, seq OrderSequence, cfg Config) *Service {
	return &Service{log: log, repo: repo, carts: carts, catalog: catalog, ledger: ledger, seq: seq, cfg: cfg}
}

type CreateOrderInput struct {
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingAddress domain.Address  `json:"shippingAddress"`
	BillingAddress  *domain.Address `json:"billingAddress,omitempty"`
	ShippingCents   int64           `json:"shippingCents"`
	DiscountCents   int64           `json:"discountCents"`
	Notes           string          `json:"notes,omitempty"`
}

// CreateOrder turns the customer's cart into an immutable order:
// validate every line against the catalog, mint the order number,
// persist order + OrderCreated event transactionally, reserve stock
// per line, clear the cart. All validation happens before any
// mutation; a reservation lost to a concurrent commit rolls the whole
// order back.
func (s *Service) CreateOrder(ctx context.Context, customerID string, in CreateOrderInput) (domain.Order, error) {
	if in.ShippingCents < 0 || in.DiscountCents < 0 {
		return domain.Order{}, fmt.Errorf("shipping and discount must not be negative: %w", ErrInvalidAmount)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil || cart.Empty() {
		return domain.Order{}, ErrEmptyCart
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrProductNotFound) {
				return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, catalogdomain.ErrProductUnavailable)
			}
			return domain.Order{}, fmt.Errorf("lookup product %s: %w", line.ProductID, err)
		}
		if !p.IsActive {
			return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, catalogdomain.ErrProductUnavailable)
		}
		if p.Stock < line.Quantity {
			return domain.Order{}, fmt.Errorf("product %s: %w", line.ProductID, stockdomain.ErrInsufficientStock)
		}
		items = append(items, domain.OrderItem{
			ProductID:      line.ProductID,
			SellerID:       p.SellerID,
			Name:           p.Name,
			Image:          p.Image,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	now := time.Now().UTC()
	seq, err := s.seq.Next(ctx, now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order sequence: %w", err)
	}

	o := domain.NewOrder(domain.Draft{
		ID:              uuid.NewString(),
		Number:          fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), seq),
		CustomerID:      customerID,
		Items:           items,
		TaxRate:         s.cfg.TaxRate,
		ShippingCents:   in.ShippingCents,
		DiscountCents:   in.DiscountCents,
		Currency:        s.cfg.Currency,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
	})

	payload, err := json.Marshal(domain.OrderCreated{
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		Items:      o.Items,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal event: %w", err)
	}

	traceparent := tracing.Traceparent(ctx)
	if err := s.repo.SaveWithOutbox(ctx, o, "OrderCreated", payload, traceparent); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	for i, item := range o.Items {
		if err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			s.rollback(ctx, o, o.Items[:i], traceparent, err)
			return domain.Order{}, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
	}

	// The commit is durable from here on; a disconnecting client must
	// not be able to strand reserved stock behind an undrained cart.
	if err := s.carts.Clear(context.WithoutCancel(ctx), customerID); err != nil {
		s.log.Error("cart clear failed after commit", "order", o.Number, "customer_id", customerID, "err", err)
		return o, fmt.Errorf("order %s placed but cart not cleared: %w", o.Number, ErrInconsistent)
	}

	s.log.Info("order placed", "order", o.Number, "customer_id", customerID, "total_cents", o.TotalCents)
	return o, nil
}

// rollback undoes a commit that lost a reservation race: releases the
// reservations already taken and deletes the order together with a
// compensating OrderRejected event. Runs detached from the caller's
// cancellation so an abandoned request still cleans up after itself.
func (s *Service) rollback(ctx context.Context, o domain.Order, reserved []domain.OrderItem, traceparent string, cause error) {
	rctx := context.WithoutCancel(ctx)

	for _, item := range reserved {
		if err := s.ledger.Release(rctx, item.ProductID, item.Quantity); err != nil {
			s.log.Error("rollback release failed, reconciliation needed",
				"order", o.Number, "product_id", item.ProductID, "qty", item.Quantity, "err", err)
		}
	}

	payload, _ := json.Marshal(domain.OrderRejected{OrderID: o.ID, Number: o.Number, Reason: cause.Error()})
	if err := s.repo.DeleteWithOutbox(rctx, o.ID, "OrderRejected", payload, traceparent); err != nil {
		s.log.Error("rollback delete failed, reconciliation needed", "order", o.Number, "err", err)
		return
	}
	s.log.Warn("order rolled back", "order", o.Number, "cause", cause)
}

// Advance moves an order along the fulfilment chain. Only a seller
// owning at least one line item may drive it.
func (s *Service) Advance(ctx context.Context, orderID, sellerID string, to domain.OrderStatus, note string) (domain.Order, error) {
	if !domain.ValidStatus(to) {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.OwnedBySeller(sellerID) {
		return domain.Order{}, domain.ErrForbidden
	}

	from := o.Status
	if err := o.Advance(to, note); err != nil {
		return domain.Order{}, err
	}

	payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, Number: o.Number, From: from, To: to, At: o.LastChange().At})
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal event: %w", err)
	}
	if err := s.repo.UpdateStatusWithOutbox(ctx, o, from, "OrderStatusChanged", payload, tracing.Traceparent(ctx)); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Order{}, domain.ErrInvalidTransition
		}
		return domain.Order{}, fmt.Errorf("persist status: %w", err)
	}

	s.log.Info("order status advanced", "order", o.Number, "from", from, "to", to, "seller_id", sellerID)
	return o, nil
}

// Cancel is customer-driven and only legal while the order is pending
// or confirmed. Every reserved unit is released, restoring exactly the
// quantities taken at commit.
func (s *Service) Cancel(ctx context.Context, orderID, customerID, reason string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.CustomerID != customerID {
		return domain.Order{}, domain.ErrForbidden
	}
	from := o.Status
	if err := o.Cancel(reason); err != nil {
		return domain.Order{}, err
	}

	payload, err := json.Marshal(domain.OrderCancelled{OrderID: o.ID, Number: o.Number, CustomerID: customerID, Reason: reason})
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal event: %w", err)
	}
	// The conditional update makes one of two racing cancels lose here,
	// before any release; the reserved units can never come back twice.
	if err := s.repo.UpdateStatusWithOutbox(ctx, o, from, "OrderCancelled", payload, tracing.Traceparent(ctx)); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Order{}, domain.ErrInvalidTransition
		}
		return domain.Order{}, fmt.Errorf("persist cancellation: %w", err)
	}

	// Restore stock after the cancellation is durable; a failed release
	// is surfaced, never swallowed.
	rctx := context.WithoutCancel(ctx)
	var stranded bool
	for _, item := range o.Items {
		if err := s.ledger.Release(rctx, item.ProductID, item.Quantity); err != nil {
			stranded = true
			s.log.Error("release failed on cancellation, reconciliation needed",
				"order", o.Number, "product_id", item.ProductID, "qty", item.Quantity, "err", err)
		}
	}
	if stranded {
		return o, fmt.Errorf("order %s cancelled but stock not fully released: %w", o.Number, ErrInconsistent)
	}

	s.log.Info("order cancelled", "order", o.Number, "customer_id", customerID)
	return o, nil
}

// GetOrder enforces visibility: customers see their own orders,
// sellers the orders containing at least one of their lines.
func (s *Service) GetOrder(ctx context.Context, orderID, partyID string, role Role) (domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	switch role {
	case RoleSeller:
		if !o.OwnedBySeller(partyID) {
			return domain.Order{}, domain.ErrForbidden
		}
	default:
		if o.CustomerID != partyID {
			return domain.Order{}, domain.ErrForbidden
		}
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, q ListQuery) (Page, error) {
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
		q.Desc = true
	}
	if !q.SortBy.Valid() {
		return Page{}, fmt.Errorf("%q: %w", q.SortBy, ErrInvalidSort)
	}
	if q.Status != nil && !domain.ValidStatus(*q.Status) {
		return Page{}, fmt.Errorf("%q: %w", *q.Status, ErrInvalidStatus)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}

	orders, total, err := s.repo.List(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("list orders: %w", err)
	}
	totalPages := (total + q.PageSize - 1) / q.PageSize
	return Page{Orders: orders, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: totalPages}, nil
}

// SellerStats aggregates the seller's share of every order touching
// them. Multi-seller orders contribute only the seller's own lines to
// revenue and units.
func (s *Service) SellerStats(ctx context.Context, sellerID string) (SellerStats, error) {
	orders, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return SellerStats{}, fmt.Errorf("list seller orders: %w", err)
	}

	stats := SellerStats{SellerID: sellerID, OrdersByStatus: make(map[domain.OrderStatus]int)}
	for _, o := range orders {
		stats.TotalOrders++
		stats.OrdersByStatus[o.Status]++
		stats.TotalRevenueCents += o.SellerTotalCents(sellerID)
		for _, item := range o.Items {
			if item.SellerID == sellerID {
				stats.UnitsSold += item.Quantity
			}
		}
	}
	return stats, nil
}
