package domain

import "github.com/shopspring/decimal"

// FillEstimate is the result of walking an order through a depth snapshot.
// AveragePrice, BestPrice, WorstPrice and SlippagePct are invalid when nothing
// could be filled.
type FillEstimate struct {
	Side           OrderSide
	Requested      decimal.Decimal
	Filled         decimal.Decimal
	Unfilled       decimal.Decimal
	Cost           decimal.Decimal
	AveragePrice   decimal.NullDecimal
	BestPrice      decimal.NullDecimal
	WorstPrice     decimal.NullDecimal
	SlippagePct    decimal.NullDecimal
	LevelsConsumed int
}

// Partial reports whether the book could not absorb the whole request.
func (e FillEstimate) Partial() bool {
	return e.Unfilled.IsPositive()
}

// NoLiquidity reports whether nothing at all could be filled.
func (e FillEstimate) NoLiquidity() bool {
	return !e.Filled.IsPositive()
}
