package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether the operator buys the affirmative or the
// negative outcome.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide accepts buy/sell in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, s)
}

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// ParseOrderType accepts GTC/FOK in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderTypeGTC:
		return OrderTypeGTC, nil
	case OrderTypeFOK:
		return OrderTypeFOK, nil
	}
	return "", fmt.Errorf("%w: order type must be GTC or FOK, got %q", ErrInvalidOrder, s)
}

// OrderRequest is one operator trade request. Role is derived from Side when
// left empty.
type OrderRequest struct {
	Side     OrderSide
	Role     TokenRole
	Kind     OrderType
	Price    decimal.NullDecimal
	Size     decimal.Decimal
	Override bool
}

// Normalize fills in the role and checks the request is internally consistent.
func (r OrderRequest) Normalize() (OrderRequest, error) {
	role, err := RoleForSide(r.Side)
	if err != nil {
		return r, err
	}
	if r.Role != "" && r.Role != role {
		return r, fmt.Errorf("%w: side %s buys the %s outcome, not %s", ErrInvalidOrder, r.Side, role, r.Role)
	}
	r.Role = role
	if _, err := ParseOrderType(string(r.Kind)); err != nil {
		return r, err
	}
	if !r.Size.IsPositive() {
		return r, fmt.Errorf("%w: size must be > 0, got %s", ErrInvalidOrder, r.Size)
	}
	if r.Size.RoundDown(SizePlaces).IsZero() {
		return r, fmt.Errorf("%w: size %s is below the venue's %d-decimal share precision", ErrInvalidOrder, r.Size, SizePlaces)
	}
	switch r.Kind {
	case OrderTypeGTC:
		if !r.Price.Valid {
			return r, fmt.Errorf("%w: GTC orders require a price", ErrInvalidOrder)
		}
		one := decimal.NewFromInt(1)
		if !r.Price.Decimal.IsPositive() || !r.Price.Decimal.LessThan(one) {
			return r, fmt.Errorf("%w: price must be in (0,1), got %s", ErrInvalidOrder, r.Price.Decimal)
		}
	case OrderTypeFOK:
		r.Price = decimal.NullDecimal{}
	}
	return r, nil
}

// SizePlaces is the share precision the venue accepts. Sizes are truncated to
// it when the order is built.
const SizePlaces = 2

// OrderPayload is what the execution capability signs and posts. The venue
// side is always a buy of Token.
type OrderPayload struct {
	Token string
	Kind  OrderType
	Price decimal.Decimal
	Size  decimal.Decimal
}

// SubmitResult is the venue's acknowledgement of an accepted order.
type SubmitResult struct {
	OrderID string
	Status  string
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	ID           string
	Market       string
	Outcome      string
	Side         string
	Price        decimal.Decimal
	OriginalSize decimal.Decimal
	SizeMatched  decimal.Decimal
	Status       string
	CreatedAt    time.Time
}
