package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Cancel(ctx context.Context, orderID string) error
	ListOpen(ctx context.Context) ([]domain.OpenOrder, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logHandler(logger, "order"),
	}
}

type orderResponse struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	Outcome      string          `json:"outcome"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	OriginalSize decimal.Decimal `json:"original_size"`
	SizeMatched  decimal.Decimal `json:"size_matched"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}

// ListOrders returns the wallet's resting orders.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse{
			ID:           o.ID,
			Market:       o.Market,
			Outcome:      o.Outcome,
			Side:         o.Side,
			Price:        o.Price,
			OriginalSize: o.OriginalSize,
			SizeMatched:  o.SizeMatched,
			Status:       o.Status,
			CreatedAt:    o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: out})
}

// CancelOrder cancels one resting order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.orders.Cancel(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": id,
	})
}
