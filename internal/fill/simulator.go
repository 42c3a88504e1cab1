// Package fill estimates how an order would execute against a depth snapshot.
package fill

import (
	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Simulate walks size through the side of snap that side consumes. BUY takes
// asks from the lowest price up, SELL hits bids from the highest price down.
// It never fails: an empty side yields an estimate with nothing filled and no
// best price, and a non-positive size fills nothing.
func Simulate(snap domain.DepthSnapshot, side domain.OrderSide, size decimal.Decimal) domain.FillEstimate {
	est := domain.FillEstimate{
		Side:      side,
		Requested: size,
		Filled:    decimal.Zero,
		Unfilled:  decimal.Zero,
		Cost:      decimal.Zero,
	}
	if !size.IsPositive() {
		return est
	}

	levels := snap.Asks
	if side == domain.OrderSideSell {
		levels = snap.Bids
	}

	remaining := size
	var worst decimal.Decimal
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		est.Cost = est.Cost.Add(take.Mul(lvl.Price))
		est.Filled = est.Filled.Add(take)
		remaining = remaining.Sub(take)
		worst = lvl.Price
		est.LevelsConsumed++
	}
	est.Unfilled = size.Sub(est.Filled)

	if len(levels) > 0 {
		est.BestPrice = decimal.NewNullDecimal(levels[0].Price)
	}
	if est.Filled.IsZero() {
		return est
	}

	avg := est.Cost.Div(est.Filled)
	est.AveragePrice = decimal.NewNullDecimal(avg)
	est.WorstPrice = decimal.NewNullDecimal(worst)
	est.SlippagePct = decimal.NewNullDecimal(Slippage(side, avg, est.BestPrice.Decimal))
	return est
}

// Slippage is the percentage move from best to avg, signed so that an adverse
// move is positive for either side.
func Slippage(side domain.OrderSide, avg, best decimal.Decimal) decimal.Decimal {
	if best.IsZero() {
		return decimal.Zero
	}
	pct := avg.Sub(best).Div(best).Mul(hundred)
	if side == domain.OrderSideSell {
		pct = pct.Neg()
	}
	return pct
}
