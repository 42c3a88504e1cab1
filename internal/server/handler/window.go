package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/service"
)

// WindowService defines the methods that the window handler requires from
// the service layer.
type WindowService interface {
	CurrentWindow(ctx context.Context) (domain.Window, error)
	Books(ctx context.Context) (service.BookView, error)
}

// WindowHandler serves the active-window endpoints. Token identifiers never
// leave this handler; only outcome labels are returned.
type WindowHandler struct {
	windows WindowService
	now     func() time.Time
	logger  *slog.Logger
}

// NewWindowHandler creates a WindowHandler.
func NewWindowHandler(windows WindowService, logger *slog.Logger) *WindowHandler {
	return &WindowHandler{
		windows: windows,
		now:     time.Now,
		logger:  logHandler(logger, "window"),
	}
}

type windowResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	OpenTime         time.Time `json:"open_time"`
	CloseTime        time.Time `json:"close_time"`
	SecondsRemaining float64   `json:"seconds_remaining"`
	Outcomes         [2]string `json:"outcomes"`
	Liquidity        float64   `json:"liquidity"`
}

func (h *WindowHandler) toWindow(win domain.Window) windowResponse {
	return windowResponse{
		ID:               win.ID,
		Title:            win.Title,
		OpenTime:         win.OpenTime,
		CloseTime:        win.CloseTime,
		SecondsRemaining: win.Remaining(h.now()).Seconds(),
		Outcomes: [2]string{
			win.LabelFor(domain.RoleAffirmative),
			win.LabelFor(domain.RoleNegative),
		},
		Liquidity: win.Liquidity,
	}
}

type levelResponse struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type outcomeBook struct {
	Outcome   string          `json:"outcome"`
	Bids      []levelResponse `json:"bids"`
	Asks      []levelResponse `json:"asks"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type booksResponse struct {
	Window windowResponse `json:"window"`
	Books  []outcomeBook  `json:"books"`
}

func toLevels(in []domain.DepthLevel) []levelResponse {
	out := make([]levelResponse, 0, len(in))
	for _, l := range in {
		out = append(out, levelResponse{Price: l.Price, Size: l.Size})
	}
	return out
}

func toBook(label string, snap domain.DepthSnapshot) outcomeBook {
	return outcomeBook{
		Outcome:   label,
		Bids:      toLevels(snap.Bids),
		Asks:      toLevels(snap.Asks),
		FetchedAt: snap.FetchedAt,
	}
}

// GetWindow returns the window that is currently accepting trades.
// GET /api/window
func (h *WindowHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	win, err := h.windows.CurrentWindow(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: resolve window failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toWindow(win))
}

// GetBooks returns both outcome books of the active window.
// GET /api/window/books
func (h *WindowHandler) GetBooks(w http.ResponseWriter, r *http.Request) {
	view, err := h.windows.Books(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: fetch books failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booksResponse{
		Window: h.toWindow(view.Window),
		Books: []outcomeBook{
			toBook(view.Window.LabelFor(domain.RoleAffirmative), view.Affirmative),
			toBook(view.Window.LabelFor(domain.RoleNegative), view.Negative),
		},
	})
}
