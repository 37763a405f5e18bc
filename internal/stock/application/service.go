package application

import (
	"context"
	"log/slog"
)

// Service is the only component allowed to mutate stock counts.
type Service struct {
	log   *slog.Logger
	store LedgerStore
}

func NewService(log *slog.Logger, store LedgerStore) *Service {
	return &Service{log: log, store: store}
}

func (s *Service) Reserve(ctx context.Context, productID string, qty int) error {
	if err := s.store.ReserveStock(ctx, productID, qty); err != nil {
		return err
	}
	s.log.Info("stock reserved", "product_id", productID, "qty", qty)
	return nil
}

func (s *Service) Release(ctx context.Context, productID string, qty int) error {
	if err := s.store.ReleaseStock(ctx, productID, qty); err != nil {
		return err
	}
	s.log.Info("stock released", "product_id", productID, "qty", qty)
	return nil
}
