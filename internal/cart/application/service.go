package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/cart/domain"
)

// Service owns all cart mutations. Every operation for a customer runs
// under that customer's lock, so a concurrent add and merge cannot lose
// each other's writes; the repository itself is last-writer-wins on the
// whole document.
type Service struct {
	log     *slog.Logger
	repo    CartRepository
	catalog CatalogLookup
	locks   sync.Map // customerID -> *sync.Mutex
}

func NewService(log *slog.Logger, repo CartRepository, catalog CatalogLookup) *Service {
	return &Service{log: log, repo: repo, catalog: catalog}
}

func (s *Service) lock(customerID string) func() {
	mu, _ := s.locks.LoadOrStore(customerID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Get returns the customer's cart with lines re-validated against the
// current catalog: missing, inactive and zero-stock products are
// dropped. Quantities are left untouched even when they exceed current
// stock; whether that is acceptable is the reader's decision, and the
// order commit must see the real quantity so it can refuse it. If
// validation dropped lines the healed cart is persisted before
// returning.
func (s *Service) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	defer s.lock(customerID)()

	cart, err := s.repo.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.New(customerID), nil
		}
		return nil, err
	}

	healed := cart.Items[:0:0]
	changed := false
	for _, item := range cart.Items {
		p, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrProductNotFound) {
				changed = true
				continue
			}
			return nil, err
		}
		if !p.Available() {
			changed = true
			continue
		}
		healed = append(healed, item)
	}
	if changed {
		cart.Items = healed
		cart.UpdatedAt = time.Now().UTC()
		if err := s.repo.Upsert(ctx, cart); err != nil {
			return nil, fmt.Errorf("persist healed cart: %w", err)
		}
		s.log.Info("cart healed against catalog", "customer_id", customerID, "items", len(healed))
	}
	return cart, nil
}

// AddItem adds qty units of a product, summing with any existing line
// and refreshing its price snapshot. The requested total (existing +
// new) is validated against current stock.
func (s *Service) AddItem(ctx context.Context, customerID, productID string, qty int) (*domain.Cart, error) {
	if qty < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	defer s.lock(customerID)()

	p, err := s.lookupSellable(ctx, productID)
	if err != nil {
		return nil, err
	}

	cart, err := s.loadOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	requested := qty
	if existing := cart.Find(productID); existing != nil {
		requested += existing.Quantity
	}
	if p.Stock < requested {
		return nil, &domain.OutOfStockError{ProductID: productID, Available: p.Stock}
	}

	cart.Upsert(domain.Item{
		ProductID:      productID,
		Quantity:       requested,
		UnitPriceCents: p.PriceCents,
		AddedAt:        time.Now().UTC(),
	})
	return cart, s.save(ctx, cart)
}

// UpdateQuantity overwrites a line's quantity and refreshes its price
// snapshot. A quantity below 1 removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (*domain.Cart, error) {
	if qty < 1 {
		return s.RemoveItem(ctx, customerID, productID)
	}
	defer s.lock(customerID)()

	cart, err := s.repo.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if cart.Find(productID) == nil {
		return nil, fmt.Errorf("product %s not in cart: %w", productID, catalogdomain.ErrProductNotFound)
	}

	p, err := s.lookupSellable(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < qty {
		return nil, &domain.OutOfStockError{ProductID: productID, Available: p.Stock}
	}

	cart.Upsert(domain.Item{
		ProductID:      productID,
		Quantity:       qty,
		UnitPriceCents: p.PriceCents,
		AddedAt:        time.Now().UTC(),
	})
	return cart, s.save(ctx, cart)
}

func (s *Service) RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error) {
	defer s.lock(customerID)()

	cart, err := s.repo.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !cart.Remove(productID) {
		return nil, fmt.Errorf("product %s not in cart: %w", productID, catalogdomain.ErrProductNotFound)
	}
	return cart, s.save(ctx, cart)
}

// Clear drops the cart document entirely; the next read lazily starts
// a fresh one. Deleting an absent cart is a noop.
func (s *Service) Clear(ctx context.Context, customerID string) error {
	defer s.lock(customerID)()
	return s.repo.Delete(ctx, customerID)
}

// Merge folds a guest session's items into the customer's cart.
// Quantities for the same product are summed and then capped at current
// stock, so the customer's pre-existing quantity is never discarded,
// only clamped. Guest lines for inactive or out-of-stock products are
// dropped silently.
func (s *Service) Merge(ctx context.Context, customerID string, guestItems []domain.Item) (*domain.Cart, error) {
	defer s.lock(customerID)()

	cart, err := s.loadOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	for _, guest := range guestItems {
		if guest.Quantity < 1 {
			continue
		}
		p, err := s.catalog.GetProduct(ctx, guest.ProductID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrProductNotFound) {
				continue
			}
			return nil, err
		}
		if !p.Available() {
			continue
		}

		qty := guest.Quantity
		if existing := cart.Find(guest.ProductID); existing != nil {
			qty += existing.Quantity
		}
		if qty > p.Stock {
			qty = p.Stock
		}
		cart.Upsert(domain.Item{
			ProductID:      guest.ProductID,
			Quantity:       qty,
			UnitPriceCents: p.PriceCents,
			AddedAt:        time.Now().UTC(),
		})
	}
	return cart, s.save(ctx, cart)
}

func (s *Service) loadOrCreate(ctx context.Context, customerID string) (*domain.Cart, error) {
	cart, err := s.repo.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.New(customerID), nil
		}
		return nil, err
	}
	return cart, nil
}

func (s *Service) lookupSellable(ctx context.Context, productID string) (catalogdomain.Product, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return catalogdomain.Product{}, err
	}
	if !p.IsActive {
		return catalogdomain.Product{}, fmt.Errorf("product %s: %w", productID, catalogdomain.ErrProductUnavailable)
	}
	return p, nil
}

func (s *Service) save(ctx context.Context, cart *domain.Cart) error {
	cart.UpdatedAt = time.Now().UTC()
	return s.repo.Upsert(ctx, cart)
}
