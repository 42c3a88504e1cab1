package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// WindowLister lists the candidate windows around a point in time.
type WindowLister interface {
	ListWindows(ctx context.Context, around time.Time) ([]domain.WindowListing, error)
}

// Resolver finds the window that is trading right now. It keeps no state
// between calls; every trade action resolves again.
type Resolver struct {
	lister       WindowLister
	windowLength time.Duration
	logger       *slog.Logger
}

// NewResolver creates a Resolver. windowLength is used to derive the open
// time of listings that only report when they close.
func NewResolver(lister WindowLister, windowLength time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		lister:       lister,
		windowLength: windowLength,
		logger:       logger,
	}
}

// Resolve returns the window whose [open, close) interval contains now. If
// the venue ever reports overlapping windows, the one closing first wins.
func (r *Resolver) Resolve(ctx context.Context, now time.Time) (domain.Window, error) {
	listings, err := r.lister.ListWindows(ctx, now)
	if err != nil {
		if domain.Kind(err) == domain.KindUnknown {
			err = fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		}
		return domain.Window{}, fmt.Errorf("resolver: list windows: %w", err)
	}

	var (
		chosen *domain.WindowListing
		open   time.Time
	)
	for i := range listings {
		l := &listings[i]
		if l.CloseTime.IsZero() {
			continue
		}
		start := l.OpenTime
		if start.IsZero() {
			start = l.CloseTime.Add(-r.windowLength)
		}
		if now.Before(start) || !now.Before(l.CloseTime) {
			continue
		}
		if chosen == nil || l.CloseTime.Before(chosen.CloseTime) {
			chosen, open = l, start
		}
	}
	if chosen == nil {
		r.logger.DebugContext(ctx, "resolver: no active window",
			slog.Int("candidates", len(listings)),
			slog.Time("now", now),
		)
		return domain.Window{}, fmt.Errorf("resolver: %w at %s", domain.ErrNoActiveWindow, now.UTC().Format(time.RFC3339))
	}

	if len(chosen.TokenIDs) < 2 || chosen.TokenIDs[0] == "" || chosen.TokenIDs[1] == "" {
		return domain.Window{}, fmt.Errorf("resolver: window %s: %w: expected two outcome tokens, got %d",
			chosen.ID, domain.ErrMalformedWindow, len(chosen.TokenIDs))
	}

	w := domain.Window{
		ID:               chosen.ID,
		Title:            chosen.Title,
		OpenTime:         open,
		CloseTime:        chosen.CloseTime,
		AffirmativeToken: chosen.TokenIDs[0],
		NegativeToken:    chosen.TokenIDs[1],
		Liquidity:        chosen.Liquidity,
	}
	for i := 0; i < len(chosen.Outcomes) && i < 2; i++ {
		w.Outcomes[i] = chosen.Outcomes[i]
	}

	r.logger.DebugContext(ctx, "resolver: window resolved",
		slog.String("window_id", w.ID),
		slog.Time("close_time", w.CloseTime),
	)
	return w, nil
}
