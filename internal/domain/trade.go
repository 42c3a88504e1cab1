package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeState is a step of the order lifecycle.
type TradeState string

const (
	StateResolving            TradeState = "RESOLVING"
	StateSnapshotting         TradeState = "SNAPSHOTTING"
	StateSimulating           TradeState = "SIMULATING"
	StateGuarding             TradeState = "GUARDING"
	StateBlocked              TradeState = "BLOCKED"
	StateAwaitingConfirmation TradeState = "AWAITING_CONFIRMATION"
	StateSubmitting           TradeState = "SUBMITTING"
	StateSubmitted            TradeState = "SUBMITTED"
	StateSubmitFailed         TradeState = "SUBMIT_FAILED"
)

// Terminal reports whether no further transition can follow.
func (s TradeState) Terminal() bool {
	switch s {
	case StateBlocked, StateSubmitted, StateSubmitFailed:
		return true
	}
	return false
}

// OrderSummary is everything disclosed to the operator about a prospective
// order. It carries outcome labels only, never tokens.
type OrderSummary struct {
	RequestID        string              `json:"request_id"`
	Side             OrderSide           `json:"side"`
	Outcome          string              `json:"outcome"`
	Kind             OrderType           `json:"order_type"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	AveragePrice     decimal.NullDecimal `json:"avg_price"`
	BestPrice        decimal.NullDecimal `json:"best_price"`
	Size             decimal.Decimal     `json:"size"`
	Filled           decimal.Decimal     `json:"filled"`
	Unfilled         decimal.Decimal     `json:"unfilled"`
	SlippagePct      decimal.NullDecimal `json:"slippage_pct"`
	SecondsRemaining float64             `json:"seconds_remaining"`
	Level            VerdictLevel        `json:"level"`
	Reason           string              `json:"reason"`
	Override         bool                `json:"override"`
	WindowID         string              `json:"window_id"`
	WindowTitle      string              `json:"window_title"`
	CloseTime        time.Time           `json:"close_time"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// TradeRecord is one journal row describing how a request ended.
type TradeRecord struct {
	ID               string
	WindowID         string
	State            TradeState
	Side             OrderSide
	Outcome          string
	Kind             OrderType
	Price            decimal.NullDecimal
	Size             decimal.Decimal
	AveragePrice     decimal.NullDecimal
	SlippagePct      decimal.NullDecimal
	SecondsRemaining float64
	Level            VerdictLevel
	Reason           string
	OrderID          string
	Error            string
	DryRun           bool
	CreatedAt        time.Time
}

// RecordFromSummary starts a journal row from a summary.
func RecordFromSummary(s OrderSummary, state TradeState, now time.Time) TradeRecord {
	return TradeRecord{
		ID:               s.RequestID,
		WindowID:         s.WindowID,
		State:            state,
		Side:             s.Side,
		Outcome:          s.Outcome,
		Kind:             s.Kind,
		Price:            s.LimitPrice,
		Size:             s.Size,
		AveragePrice:     s.AveragePrice,
		SlippagePct:      s.SlippagePct,
		SecondsRemaining: s.SecondsRemaining,
		Level:            s.Level,
		Reason:           s.Reason,
		CreatedAt:        now,
	}
}

// TradeEvent is published to subscribers whenever a request reaches a
// terminal or suspended state.
type TradeEvent struct {
	Type      string       `json:"type"`
	State     TradeState   `json:"state"`
	Summary   OrderSummary `json:"summary"`
	OrderID   string       `json:"order_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Event types used for publishing and notification filtering.
const (
	EventTradeQuoted    = "trade_quoted"
	EventTradeBlocked   = "trade_blocked"
	EventTradeSubmitted = "trade_submitted"
	EventTradeFailed    = "trade_failed"
)
