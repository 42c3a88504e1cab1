// Package guard decides whether a simulated trade may be submitted.
package guard

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/shopspring/decimal"
)

// Reason prefixes. Every verdict reason starts with one of these, followed by
// the values that triggered it.
const (
	ReasonClosingSoon    = "window closing too soon"
	ReasonNoLiquidity    = "no liquidity on requested side"
	ReasonSlippageBlock  = "slippage exceeds block threshold"
	ReasonSlippageWarn   = "slippage above warn threshold"
	ReasonWithinLimits   = "within limits"
	overrideReasonSuffix = "override accepted"
)

// slippagePlaces is the precision slippage percentages are reported with.
const slippagePlaces = 4

// Thresholds are the operator limits a trade is checked against.
type Thresholds struct {
	MinTimeRemaining time.Duration
	SlippageWarn     decimal.Decimal
	SlippageBlock    decimal.Decimal
}

// Evaluate runs the ordered checks and returns the first one that fails. It is
// total: every input yields a verdict.
//
// A slippage breach of the block threshold can be downgraded to a warning by
// override. Missing liquidity and a closing window cannot.
func Evaluate(w domain.Window, est domain.FillEstimate, th Thresholds, override bool, now time.Time) domain.Verdict {
	remaining := w.Remaining(now)
	v := domain.Verdict{
		SecondsRemaining: remaining.Seconds(),
		SlippagePct:      displaySlippage(est.SlippagePct),
	}

	if remaining < th.MinTimeRemaining {
		return block(v, fmt.Sprintf("%s: %.0fs left, minimum %.0fs",
			ReasonClosingSoon, remaining.Seconds(), th.MinTimeRemaining.Seconds()))
	}

	if est.NoLiquidity() {
		return block(v, fmt.Sprintf("%s: nothing to fill %s shares against", ReasonNoLiquidity, est.Requested))
	}

	slip := est.SlippagePct.Decimal
	if slip.GreaterThan(th.SlippageBlock) {
		reason := fmt.Sprintf("%s: %s%% > %s%%", ReasonSlippageBlock, slip.StringFixed(2), th.SlippageBlock)
		if override {
			v.Allowed = true
			v.Level = domain.LevelWarn
			v.Reason = reason + " (" + overrideReasonSuffix + ")"
			return v
		}
		return block(v, reason)
	}

	if slip.IsPositive() && slip.GreaterThanOrEqual(th.SlippageWarn) {
		v.Allowed = true
		v.Level = domain.LevelWarn
		v.Reason = fmt.Sprintf("%s: %s%% >= %s%%", ReasonSlippageWarn, slip.StringFixed(2), th.SlippageWarn)
		return v
	}

	v.Allowed = true
	v.Level = domain.LevelOK
	v.Reason = fmt.Sprintf("%s: slippage %s%%, %.0fs left", ReasonWithinLimits, slip.StringFixed(2), remaining.Seconds())
	return v
}

func block(v domain.Verdict, reason string) domain.Verdict {
	v.Allowed = false
	v.Level = domain.LevelBlock
	v.Reason = reason
	return v
}

// displaySlippage rounds a slippage percentage for summaries. Checks always
// compare the unrounded estimate.
func displaySlippage(pct decimal.NullDecimal) decimal.NullDecimal {
	if !pct.Valid {
		return pct
	}
	return decimal.NewNullDecimal(pct.Decimal.Round(slippagePlaces))
}
