package application

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogdomain "github.com/shopforge/order-engine/internal/catalog/domain"
	"github.com/shopforge/order-engine/internal/cart/domain"
)

// memCartRepo implements CartRepository in memory, returning copies so
// the store only changes through Upsert.
type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]domain.Cart)}
}

func (r *memCartRepo) Get(_ context.Context, customerID string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[customerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	cp := c
	cp.Items = append([]domain.Item(nil), c.Items...)
	return &cp, nil
}

func (r *memCartRepo) Upsert(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cart
	cp.Items = append([]domain.Item(nil), cart.Items...)
	r.carts[cart.CustomerID] = cp
	return nil
}

func (r *memCartRepo) Delete(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, customerID)
	return nil
}

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]catalogdomain.Product
}

func (c *stubCatalog) GetProduct(_ context.Context, id string) (catalogdomain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return catalogdomain.Product{}, catalogdomain.ErrProductNotFound
	}
	return p, nil
}

func newFixture(products ...catalogdomain.Product) (*Service, *memCartRepo, *stubCatalog) {
	catalog := &stubCatalog{products: make(map[string]catalogdomain.Product)}
	for _, p := range products {
		catalog.products[p.ID] = p
	}
	repo := newMemCartRepo()
	log := slog.New(slog.DiscardHandler)
	return NewService(log, repo, catalog), repo, catalog
}

func active(id, seller string, price int64, stock int) catalogdomain.Product {
	return catalogdomain.Product{ID: id, SellerID: seller, Name: "Product " + id, PriceCents: price, Stock: stock, IsActive: true}
}

func TestAddItemCreatesCartAndSumsQuantities(t *testing.T) {
	svc, _, catalog := newFixture(active("p-1", "s-1", 100, 10))
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, "c-1", "p-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Find("p-1").Quantity)
	assert.Equal(t, int64(100), cart.Find("p-1").UnitPriceCents)

	// Price changed since; second add sums quantities and refreshes the
	// snapshot.
	catalog.mu.Lock()
	p := catalog.products["p-1"]
	p.PriceCents = 150
	catalog.products["p-1"] = p
	catalog.mu.Unlock()

	cart, err = svc.AddItem(ctx, "c-1", "p-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, cart.Find("p-1").Quantity)
	assert.Equal(t, int64(150), cart.Find("p-1").UnitPriceCents)
}

func TestAddItemValidatesTotalAgainstStock(t *testing.T) {
	svc, repo, _ := newFixture(active("p-1", "s-1", 100, 3))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "p-1", 2)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "c-1", "p-1", 2)
	var oos *domain.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 3, oos.Available)

	// The failed add changed nothing.
	stored, err := repo.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Find("p-1").Quantity)
}

func TestAddItemRejectsInactiveAndUnknown(t *testing.T) {
	inactive := active("p-1", "s-1", 100, 5)
	inactive.IsActive = false
	svc, _, _ := newFixture(inactive)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "p-1", 1)
	assert.ErrorIs(t, err, catalogdomain.ErrProductUnavailable)

	_, err = svc.AddItem(ctx, "c-1", "ghost", 1)
	assert.ErrorIs(t, err, catalogdomain.ErrProductNotFound)

	_, err = svc.AddItem(ctx, "c-1", "p-1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestUpdateQuantityBelowOneRemovesLine(t *testing.T) {
	svc, _, _ := newFixture(active("p-1", "s-1", 100, 10), active("p-2", "s-1", 50, 10))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "p-1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "c-1", "p-2", 1)
	require.NoError(t, err)

	cart, err := svc.UpdateQuantity(ctx, "c-1", "p-1", 0)
	require.NoError(t, err)
	assert.Nil(t, cart.Find("p-1"))
	assert.NotNil(t, cart.Find("p-2"))
}

func TestUpdateQuantityOverwritesAndRevalidates(t *testing.T) {
	svc, _, _ := newFixture(active("p-1", "s-1", 100, 4))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "p-1", 1)
	require.NoError(t, err)

	cart, err := svc.UpdateQuantity(ctx, "c-1", "p-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Find("p-1").Quantity)

	_, err = svc.UpdateQuantity(ctx, "c-1", "p-1", 5)
	var oos *domain.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 4, oos.Available)
}

func TestGetReturnsEmptyCartWhenAbsent(t *testing.T) {
	svc, repo, _ := newFixture()
	cart, err := svc.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, cart.Empty())
	// Lazy: nothing persisted by a pure read.
	assert.Empty(t, repo.carts)
}

func TestGetSelfHealsAgainstCatalogDrift(t *testing.T) {
	svc, repo, catalog := newFixture(
		active("keep", "s-1", 100, 10),
		active("gone-inactive", "s-1", 100, 10),
		active("low-stock", "s-1", 100, 10),
	)
	ctx := context.Background()

	for _, id := range []string{"keep", "gone-inactive", "low-stock"} {
		_, err := svc.AddItem(ctx, "c-1", id, 2)
		require.NoError(t, err)
	}

	// Catalog drifts: one product deactivated, one nearly sold out.
	catalog.mu.Lock()
	p := catalog.products["gone-inactive"]
	p.IsActive = false
	catalog.products["gone-inactive"] = p
	p = catalog.products["low-stock"]
	p.Stock = 1
	catalog.products["low-stock"] = p
	catalog.mu.Unlock()

	cart, err := svc.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, cart.Find("gone-inactive"))
	assert.Equal(t, 2, cart.Find("keep").Quantity)
	// Quantity above current stock stays; the commit decides its fate.
	assert.Equal(t, 2, cart.Find("low-stock").Quantity)

	// Healed cart was persisted, not just returned.
	stored, err := repo.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, stored.Find("gone-inactive"))
	assert.Equal(t, 2, stored.Find("low-stock").Quantity)
}

func TestMergeSumsThenClampsToStock(t *testing.T) {
	svc, _, _ := newFixture(active("P", "s-1", 100, 3))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "P", 1)
	require.NoError(t, err)

	// Guest had 5; 1+5 caps at stock 3, never drops the existing 1.
	cart, err := svc.Merge(ctx, "c-1", []domain.Item{{ProductID: "P", Quantity: 5}})
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Find("P").Quantity)
}

func TestMergeIntoEmptyCartClampsAndDrops(t *testing.T) {
	soldOut := active("soldout", "s-1", 100, 0)
	inactive := active("inactive", "s-1", 100, 5)
	inactive.IsActive = false
	svc, repo, _ := newFixture(active("ok", "s-1", 100, 2), soldOut, inactive)
	ctx := context.Background()

	cart, err := svc.Merge(ctx, "c-2", []domain.Item{
		{ProductID: "ok", Quantity: 9},
		{ProductID: "soldout", Quantity: 1},
		{ProductID: "inactive", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Find("ok").Quantity)

	stored, err := repo.Get(ctx, "c-2")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}

func TestClearWithoutCartIsNoop(t *testing.T) {
	svc, _, _ := newFixture()
	assert.NoError(t, svc.Clear(context.Background(), "c-1"))
}

func TestClearDropsTheDocument(t *testing.T) {
	svc, repo, _ := newFixture(active("p-1", "s-1", 100, 10))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "c-1", "p-1", 1)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "c-1"))
	_, err = repo.Get(ctx, "c-1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

// Concurrent adds for one customer serialize on the per-cart lock; the
// cart can never end up holding more than current stock.
func TestConcurrentAddsNeverExceedStock(t *testing.T) {
	const stock = 5
	svc, _, _ := newFixture(active("p-1", "s-1", 100, stock))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "c-1", "p-1", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var rejected int
	for err := range errs {
		if err != nil {
			var oos *domain.OutOfStockError
			require.ErrorAs(t, err, &oos)
			rejected++
		}
	}
	assert.Equal(t, 5, rejected)

	cart, err := svc.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, stock, cart.Find("p-1").Quantity)
}
