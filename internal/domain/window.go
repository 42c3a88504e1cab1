package domain

import (
	"fmt"
	"time"
)

// TokenRole identifies which outcome of a window a token represents.
type TokenRole string

const (
	RoleAffirmative TokenRole = "AFFIRMATIVE"
	RoleNegative    TokenRole = "NEGATIVE"
)

// Default outcome labels used when a listing does not carry its own.
const (
	DefaultAffirmativeLabel = "Up"
	DefaultNegativeLabel    = "Down"
)

// WindowListing is one candidate window as reported by the listing venue.
// OpenTime is zero when the venue did not report it.
type WindowListing struct {
	ID        string
	Title     string
	OpenTime  time.Time
	CloseTime time.Time
	TokenIDs  []string
	Outcomes  []string
	Liquidity float64
}

// Window is one rotating market instance. Its tokens are only valid while the
// window is active and must be re-resolved for every trade action.
type Window struct {
	ID               string
	Title            string
	OpenTime         time.Time
	CloseTime        time.Time
	AffirmativeToken string
	NegativeToken    string
	Outcomes         [2]string
	Liquidity        float64
}

// Active reports whether now falls inside [OpenTime, CloseTime).
func (w Window) Active(now time.Time) bool {
	return !now.Before(w.OpenTime) && now.Before(w.CloseTime)
}

// Remaining is the time left until the window stops accepting trades.
func (w Window) Remaining(now time.Time) time.Duration {
	return w.CloseTime.Sub(now)
}

// TokenFor returns the token backing role.
func (w Window) TokenFor(role TokenRole) string {
	if role == RoleNegative {
		return w.NegativeToken
	}
	return w.AffirmativeToken
}

// LabelFor returns the human-facing outcome label for role.
func (w Window) LabelFor(role TokenRole) string {
	idx := 0
	def := DefaultAffirmativeLabel
	if role == RoleNegative {
		idx, def = 1, DefaultNegativeLabel
	}
	if w.Outcomes[idx] != "" {
		return w.Outcomes[idx]
	}
	return def
}

// sideRoles is the only place an order side is translated into an outcome.
var sideRoles = map[OrderSide]TokenRole{
	OrderSideBuy:  RoleAffirmative,
	OrderSideSell: RoleNegative,
}

// RoleForSide translates an operator side into the outcome token it buys.
// SELL means buying the negative outcome.
func RoleForSide(side OrderSide) (TokenRole, error) {
	role, ok := sideRoles[side]
	if !ok {
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	return role, nil
}
