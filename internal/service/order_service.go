package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// OrderService exposes resting orders and the trade journal. Cancel and list
// go straight to the venue; nothing is tracked locally.
type OrderService struct {
	exec    Executor
	journal domain.TradeJournal
	logger  *slog.Logger
}

// NewOrderService creates an OrderService.
func NewOrderService(exec Executor, logger *slog.Logger) *OrderService {
	return &OrderService{exec: exec, logger: logger}
}

// WithJournal enables History.
func (s *OrderService) WithJournal(j domain.TradeJournal) *OrderService {
	s.journal = j
	return s
}

// Cancel cancels one resting order.
func (s *OrderService) Cancel(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order_service: %w: order id is required", domain.ErrInvalidOrder)
	}
	if s.exec == nil {
		return fmt.Errorf("order_service: %w: no executor configured", domain.ErrSigningFailed)
	}
	if err := s.exec.Cancel(ctx, orderID); err != nil {
		return fmt.Errorf("order_service: cancel: %w", err)
	}
	s.logger.InfoContext(ctx, "order_service: order cancelled", slog.String("order_id", orderID))
	return nil
}

// ListOpen returns the wallet's resting orders.
func (s *OrderService) ListOpen(ctx context.Context) ([]domain.OpenOrder, error) {
	if s.exec == nil {
		return nil, fmt.Errorf("order_service: %w: no executor configured", domain.ErrSigningFailed)
	}
	orders, err := s.exec.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("order_service: list open: %w", err)
	}
	return orders, nil
}

// History returns recent journal rows, newest first.
func (s *OrderService) History(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	recs, err := s.journal.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: history: %w", err)
	}
	return recs, nil
}
