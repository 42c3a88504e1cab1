package domain

import "github.com/shopspring/decimal"

// VerdictLevel grades a trade guard decision.
type VerdictLevel string

const (
	LevelOK    VerdictLevel = "OK"
	LevelWarn  VerdictLevel = "WARN"
	LevelBlock VerdictLevel = "BLOCK"
)

// Severity orders levels so callers can tell whether a decision got worse.
func (l VerdictLevel) Severity() int {
	switch l {
	case LevelOK:
		return 0
	case LevelWarn:
		return 1
	}
	return 2
}

// Verdict is the trade guard's decision for one estimate.
type Verdict struct {
	Allowed          bool
	Level            VerdictLevel
	Reason           string
	SecondsRemaining float64
	SlippagePct      decimal.NullDecimal
}
