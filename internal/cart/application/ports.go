package application

import (
	"context"

	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/cart/domain"
)

type CartRepository interface {
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	Upsert(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, customerID string) error
}

type CatalogLookup interface {
	GetProduct(ctx context.Context, id string) (catalogdomain.Product, error)
}
