package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Decision is the full record of one pipeline evaluation, kept for audit.
type Decision struct {
	Summary  OrderSummary  `json:"summary"`
	State    TradeState    `json:"state"`
	Estimate FillEstimate  `json:"estimate"`
	Snapshot DepthSnapshot `json:"snapshot"`
}

// DecisionArchiver stores decisions in cold storage.
type DecisionArchiver interface {
	ArchiveDecision(ctx context.Context, d Decision) error
}
