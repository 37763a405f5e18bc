package application

import (
	"context"
	"time"

	cartdomain "github.com/shopforge/order-engine/internal/cart/domain"
	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/order/domain"
)

type OrderRepository interface {
	// SaveWithOutbox persists the order, its items, its seed history
	// entry and the outbox event in one transaction.
	SaveWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, traceparent string) error
	// DeleteWithOutbox removes an order whose reservation lost a race,
	// enqueueing the compensating event in the same transaction.
	DeleteWithOutbox(ctx context.Context, orderID, eventType string, payload []byte, traceparent string) error
	// UpdateStatusWithOutbox persists the order's current status,
	// delivered-at stamp and the latest history entry, plus the event.
	// The update is conditional on the order still being in the from
	// status; a concurrent writer that got there first makes this
	// return domain.ErrInvalidTransition, so read-modify-write races
	// resolve to exactly one winner.
	UpdateStatusWithOutbox(ctx context.Context, o domain.Order, from domain.OrderStatus, eventType string, payload []byte, traceparent string) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, q ListQuery) ([]domain.Order, int, error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error)
}

type CartStore interface {
	Get(ctx context.Context, customerID string) (*cartdomain.Cart, error)
	Clear(ctx context.Context, customerID string) error
}

type CatalogLookup interface {
	GetProduct(ctx context.Context, id string) (catalogdomain.Product, error)
}

type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

// OrderSequence issues the monotonically increasing per-day counter
// behind order numbers. Implementations must be atomic; counting
// existing orders is not acceptable.
type OrderSequence interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
)

type SortField string

// The sortable fields are a closed set; anything else never reaches
// the storage layer.
const (
	SortByCreatedAt SortField = "created_at"
	SortByTotal     SortField = "total_cents"
	SortByStatus    SortField = "status"
)

func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByTotal, SortByStatus:
		return true
	}
	return false
}

type ListQuery struct {
	PartyID  string
	Role     Role
	Status   *domain.OrderStatus
	Page     int
	PageSize int
	SortBy   SortField
	Desc     bool
}

type Page struct {
	Orders     []domain.Order `json:"orders"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

type SellerStats struct {
	SellerID          string                     `json:"sellerId"`
	TotalRevenueCents int64                      `json:"totalRevenueCents"`
	UnitsSold         int                        `json:"unitsSold"`
	TotalOrders       int                        `json:"totalOrders"`
	OrdersByStatus    map[domain.OrderStatus]int `json:"ordersByStatus"`
}
