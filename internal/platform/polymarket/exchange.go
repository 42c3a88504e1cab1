package polymarket

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"

	"github.com/alanyoungcy/btc5mtrader/internal/crypto"
	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Venue precision: shares are quoted to 2 decimals, notional to 4, and both
// travel on the wire as 6-decimal fixed point integers.
const (
	sizePlaces     = domain.SizePlaces
	notionalPlaces = 4
	fixedPoint     = 6
)

var zeroAddress = common.Address{}

// Exchange signs and posts orders for one wallet. It is the execution
// capability the trade service submits through.
type Exchange struct {
	clob    *ClobClient
	signer  *crypto.Signer
	maker   common.Address
	sigType int
	salt    func() int64
}

// NewExchange creates an Exchange. funder is the proxy or Safe wallet that
// holds the funds; it is ignored for EOA signatures.
func NewExchange(clob *ClobClient, signer *crypto.Signer, funder string, sigType int) *Exchange {
	maker := signer.Address()
	if sigType != crypto.SigTypeEOA && common.IsHexAddress(funder) {
		maker = common.HexToAddress(funder)
	}
	return &Exchange{
		clob:    clob,
		signer:  signer,
		maker:   maker,
		sigType: sigType,
		salt:    func() int64 { return rand.Int64N(1 << 53) },
	}
}

// Amounts returns the maker (USDC paid) and taker (shares received) amounts
// for buying size shares at price.
func Amounts(price, size decimal.Decimal) (maker, taker *big.Int) {
	shares := size.RoundDown(sizePlaces)
	notional := shares.Mul(price).RoundUp(notionalPlaces)
	return notional.Shift(fixedPoint).BigInt(), shares.Shift(fixedPoint).BigInt()
}

// BuildOrder assembles and signs the exchange order for p.
func (e *Exchange) BuildOrder(p domain.OrderPayload) (APIOrderRequest, error) {
	tokenID, ok := new(big.Int).SetString(p.Token, 10)
	if !ok {
		return APIOrderRequest{}, fmt.Errorf("%w: token is not a decimal integer", domain.ErrSigningFailed)
	}
	makerAmt, takerAmt := Amounts(p.Price, p.Size)
	if takerAmt.Sign() <= 0 || makerAmt.Sign() <= 0 {
		return APIOrderRequest{}, fmt.Errorf("%w: size %s at %s rounds to zero", domain.ErrRejected, p.Size, p.Price)
	}

	salt := e.salt()
	signed, err := e.signer.SignOrder(crypto.SignedOrder{
		Salt:          big.NewInt(salt),
		Maker:         e.maker,
		Signer:        e.signer.Address(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          crypto.SideBuy,
		SignatureType: uint8(e.sigType),
	})
	if err != nil {
		return APIOrderRequest{}, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}

	return APIOrderRequest{
		Order: APISignedOrder{
			Salt:          salt,
			Maker:         signed.Maker.Hex(),
			Signer:        signed.Signer.Hex(),
			Taker:         signed.Taker.Hex(),
			TokenID:       signed.TokenID.String(),
			MakerAmount:   signed.MakerAmount.String(),
			TakerAmount:   signed.TakerAmount.String(),
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			Side:          "BUY",
			SignatureType: e.sigType,
			Signature:     signed.Signature,
		},
		Owner:     e.clob.APIKey(),
		OrderType: string(p.Kind),
	}, nil
}

// Submit signs and posts p.
func (e *Exchange) Submit(ctx context.Context, p domain.OrderPayload) (domain.SubmitResult, error) {
	req, err := e.BuildOrder(p)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/exchange: %w", err)
	}
	res, err := e.clob.PostOrder(ctx, req)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/exchange: %w", err)
	}
	return domain.SubmitResult{OrderID: res.OrderID, Status: res.Status}, nil
}

// Cancel cancels a resting order.
func (e *Exchange) Cancel(ctx context.Context, orderID string) error {
	if err := e.clob.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("polymarket/exchange: %w", err)
	}
	return nil
}

// ListOpen returns the wallet's resting orders.
func (e *Exchange) ListOpen(ctx context.Context) ([]domain.OpenOrder, error) {
	orders, err := e.clob.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("polymarket/exchange: %w", err)
	}
	out := make([]domain.OpenOrder, 0, len(orders))
	for i := range orders {
		out = append(out, orders[i].ToOpenOrder())
	}
	return out, nil
}
