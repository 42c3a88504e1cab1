package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/service"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	Prepare(ctx context.Context, req domain.OrderRequest) (service.Quote, error)
	Execute(ctx context.Context, c service.Confirmation) (service.Outcome, error)
}

// HistoryService lists journal rows.
type HistoryService interface {
	History(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves the preview/execute endpoints and the trade history.
type TradeHandler struct {
	trades  TradeService
	history HistoryService
	live    bool
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. When live is false, execute is
// refused and only previews are served.
func NewTradeHandler(trades TradeService, history HistoryService, live bool, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:  trades,
		history: history,
		live:    live,
		logger:  logHandler(logger, "trade"),
	}
}

// tradeRequest is the operator's order as sent by a client.
type tradeRequest struct {
	Side      string              `json:"side"`
	OrderType string              `json:"order_type"`
	Price     decimal.NullDecimal `json:"price"`
	Size      decimal.Decimal     `json:"size"`
	Override  bool                `json:"override"`
}

func (t tradeRequest) toDomain() (domain.OrderRequest, error) {
	side, err := domain.ParseOrderSide(t.Side)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	kind := domain.OrderTypeGTC
	if strings.TrimSpace(t.OrderType) != "" {
		if kind, err = domain.ParseOrderType(t.OrderType); err != nil {
			return domain.OrderRequest{}, err
		}
	}
	return domain.OrderRequest{
		Side:     side,
		Kind:     kind,
		Price:    t.Price,
		Size:     t.Size,
		Override: t.Override,
	}, nil
}

// executeRequest repeats the previewed order together with what the operator
// saw when they confirmed it.
type executeRequest struct {
	tradeRequest
	RequestID string              `json:"request_id"`
	WindowID  string              `json:"window_id"`
	Level     domain.VerdictLevel `json:"level"`
}

type quoteResponse struct {
	State   domain.TradeState   `json:"state"`
	Allowed bool                `json:"allowed"`
	Summary domain.OrderSummary `json:"summary"`
}

func toQuote(q service.Quote) quoteResponse {
	return quoteResponse{State: q.State, Allowed: q.Allowed(), Summary: q.Summary}
}

type outcomeResponse struct {
	State   domain.TradeState   `json:"state"`
	Summary domain.OrderSummary `json:"summary"`
	OrderID string              `json:"order_id,omitempty"`
	Status  string              `json:"status,omitempty"`
	Error   string              `json:"error,omitempty"`
	Requote *quoteResponse      `json:"requote,omitempty"`
}

// Preview runs the pipeline up to the guard and returns the quote.
// POST /api/trades/preview
func (h *TradeHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q, err := h.trades.Prepare(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: preview failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

// Execute submits a previously previewed order. The market is evaluated
// again; a rotated window or a worse verdict returns 409 with a fresh quote.
// POST /api/trades/execute
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if !h.live {
		writeError(w, http.StatusForbidden, "server is running in dry-run mode")
		return
	}

	var body executeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.WindowID == "" {
		writeError(w, http.StatusBadRequest, "window_id from the preview is required")
		return
	}
	switch body.Level {
	case "", domain.LevelOK, domain.LevelWarn:
	default:
		writeError(w, http.StatusBadRequest, "level must be OK or WARN")
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out, err := h.trades.Execute(r.Context(), service.Confirmation{
		RequestID: body.RequestID,
		Request:   req,
		WindowID:  body.WindowID,
		Level:     body.Level,
	})
	if err != nil && out.State != domain.StateSubmitFailed {
		h.logger.WarnContext(r.Context(), "handler: execute failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	resp := outcomeResponse{
		State:   out.State,
		Summary: out.Summary,
		OrderID: out.OrderID,
		Status:  out.Status,
		Error:   out.Error,
	}
	if out.Requote != nil {
		q := toQuote(*out.Requote)
		resp.Requote = &q
	}

	status := http.StatusOK
	switch out.State {
	case domain.StateBlocked:
		status = http.StatusUnprocessableEntity
	case domain.StateAwaitingConfirmation:
		status = http.StatusConflict
	case domain.StateSubmitFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

type recordResponse struct {
	ID               string              `json:"id"`
	WindowID         string              `json:"window_id"`
	State            domain.TradeState   `json:"state"`
	Side             domain.OrderSide    `json:"side"`
	Outcome          string              `json:"outcome"`
	OrderType        domain.OrderType    `json:"order_type"`
	Price            decimal.NullDecimal `json:"price"`
	Size             decimal.Decimal     `json:"size"`
	AveragePrice     decimal.NullDecimal `json:"avg_price"`
	SlippagePct      decimal.NullDecimal `json:"slippage_pct"`
	SecondsRemaining float64             `json:"seconds_remaining"`
	Level            domain.VerdictLevel `json:"level"`
	Reason           string              `json:"reason,omitempty"`
	OrderID          string              `json:"order_id,omitempty"`
	Error            string              `json:"error,omitempty"`
	DryRun           bool                `json:"dry_run"`
	CreatedAt        time.Time           `json:"created_at"`
}

type listTradesResponse struct {
	Trades []recordResponse `json:"trades"`
}

// ListTrades returns recent journal rows, newest first.
// GET /api/trades?limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	recs, err := h.history.History(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResponse{
			ID:               rec.ID,
			WindowID:         rec.WindowID,
			State:            rec.State,
			Side:             rec.Side,
			Outcome:          rec.Outcome,
			OrderType:        rec.Kind,
			Price:            rec.Price,
			Size:             rec.Size,
			AveragePrice:     rec.AveragePrice,
			SlippagePct:      rec.SlippagePct,
			SecondsRemaining: rec.SecondsRemaining,
			Level:            rec.Level,
			Reason:           rec.Reason,
			OrderID:          rec.OrderID,
			Error:            rec.Error,
			DryRun:           rec.DryRun,
			CreatedAt:        rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}
