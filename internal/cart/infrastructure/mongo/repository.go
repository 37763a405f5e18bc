package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopforge/order-engine/internal/cart/domain"
)

// Repository stores one cart document per customer. Mutations replace
// the whole document; the application layer serializes writers per
// customer, so last-writer-wins here is safe.
type Repository struct {
	log        *slog.Logger
	collection *mongo.Collection
}

func NewRepository(log *slog.Logger, db *mongo.Database) *Repository {
	return &Repository{log: log, collection: db.Collection("carts")}
}

// EnsureIndexes enforces the one-cart-per-customer invariant.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "customer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create cart index: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.collection.FindOne(ctx, bson.M{"customer_id": customerID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &cart, nil
}

func (r *Repository) Upsert(ctx context.Context, cart *domain.Cart) error {
	filter := bson.M{"customer_id": cart.CustomerID}
	update := bson.M{"$set": cart}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, customerID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"customer_id": customerID}); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
