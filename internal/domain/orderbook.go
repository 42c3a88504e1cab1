package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DepthLevel is a single price+size entry in an order book. Price lies in
// (0,1) exclusive and Size is positive.
type DepthLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Valid reports whether the level is tradable.
func (l DepthLevel) Valid() bool {
	return l.Price.IsPositive() && l.Price.LessThan(decimal.NewFromInt(1)) && l.Size.IsPositive()
}

// DepthSnapshot is a point-in-time read of the resting liquidity for one token.
// Bids are ordered by descending price, asks by ascending price.
type DepthSnapshot struct {
	TokenID   string
	Bids      []DepthLevel
	Asks      []DepthLevel
	FetchedAt time.Time
}

// NewDepthSnapshot builds a snapshot from raw venue levels. Invalid levels are
// dropped and both sides are put in walking order. The input slices are not
// retained.
func NewDepthSnapshot(tokenID string, bids, asks []DepthLevel, fetchedAt time.Time) DepthSnapshot {
	b := cleanLevels(bids)
	a := cleanLevels(asks)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })
	return DepthSnapshot{TokenID: tokenID, Bids: b, Asks: a, FetchedAt: fetchedAt}
}

func cleanLevels(in []DepthLevel) []DepthLevel {
	out := make([]DepthLevel, 0, len(in))
	for _, l := range in {
		if l.Valid() {
			out = append(out, l)
		}
	}
	return out
}

// BestBid returns the highest bid, if any.
func (s DepthSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask, if any.
func (s DepthSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// Depth sums the resting size on one side.
func Depth(levels []DepthLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}
