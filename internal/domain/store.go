package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeJournal persists the outcome of every trade request.
type TradeJournal interface {
	Record(ctx context.Context, rec TradeRecord) error
	Get(ctx context.Context, id string) (TradeRecord, error)
	List(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}
