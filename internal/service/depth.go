package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"golang.org/x/sync/errgroup"
)

// BookSource reads the current order book for one outcome token.
type BookSource interface {
	FetchBook(ctx context.Context, token string) (domain.DepthSnapshot, error)
}

// DepthFetcher takes fresh depth snapshots. Nothing is cached.
type DepthFetcher struct {
	source BookSource
}

// NewDepthFetcher creates a DepthFetcher reading from source.
func NewDepthFetcher(source BookSource) *DepthFetcher {
	return &DepthFetcher{source: source}
}

// Fetch returns a snapshot for token. Any failure is reported as
// ErrBookUnavailable; an empty book is not a failure.
func (f *DepthFetcher) Fetch(ctx context.Context, token string) (domain.DepthSnapshot, error) {
	if token == "" {
		return domain.DepthSnapshot{}, fmt.Errorf("depth: %w: empty token", domain.ErrBookUnavailable)
	}
	snap, err := f.source.FetchBook(ctx, token)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("depth: %w: %w", domain.ErrBookUnavailable, err)
	}
	return snap, nil
}

// FetchBoth snapshots both outcome books of w concurrently.
func (f *DepthFetcher) FetchBoth(ctx context.Context, w domain.Window) (affirmative, negative domain.DepthSnapshot, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		affirmative, err = f.Fetch(gctx, w.AffirmativeToken)
		return err
	})
	g.Go(func() error {
		var err error
		negative, err = f.Fetch(gctx, w.NegativeToken)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DepthSnapshot{}, domain.DepthSnapshot{}, err
	}
	return affirmative, negative, nil
}
