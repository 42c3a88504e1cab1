package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/shopspring/decimal"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// flexStrings accepts either a JSON array of strings or a string holding a
// JSON-encoded array, which is how Gamma sends outcomes and token IDs.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return fmt.Errorf("decode embedded list: %w", err)
	}
	*f = arr
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of a Gamma market needed to build a window.
type APIMarket struct {
	ID             string      `json:"id"`
	Question       string      `json:"question"`
	Title          string      `json:"title"`
	Slug           string      `json:"slug"`
	Active         flexBool    `json:"active"`
	Closed         bool        `json:"closed"`
	EndDate        string      `json:"endDate"`
	EndDateISO     string      `json:"end_date_iso"`
	EventStartTime string      `json:"eventStartTime"`
	Outcomes       flexStrings `json:"outcomes"`
	ClobTokenIDs   flexStrings `json:"clobTokenIds"`
	Tokens         []APIToken  `json:"tokens"`
	Liquidity      flexFloat   `json:"liquidity"`
	LiquidityClob  flexFloat   `json:"liquidityClob"`
}

// APIToken is a token entry in older Gamma market payloads.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// ToListing converts the market into a domain listing. Missing token IDs are
// left empty so the resolver can flag the window as malformed.
func (m *APIMarket) ToListing() domain.WindowListing {
	l := domain.WindowListing{
		ID:       m.ID,
		Title:    m.Question,
		TokenIDs: []string(m.ClobTokenIDs),
		Outcomes: []string(m.Outcomes),
	}
	if l.Title == "" {
		l.Title = m.Title
	}
	if len(l.TokenIDs) < 2 && len(m.Tokens) >= 2 {
		l.TokenIDs = []string{m.Tokens[0].TokenID, m.Tokens[1].TokenID}
		if len(l.Outcomes) < 2 {
			l.Outcomes = []string{m.Tokens[0].Outcome, m.Tokens[1].Outcome}
		}
	}

	end := m.EndDate
	if end == "" {
		end = m.EndDateISO
	}
	l.CloseTime = parseTime(end)
	l.OpenTime = parseTime(m.EventStartTime)

	l.Liquidity = float64(m.LiquidityClob)
	if l.Liquidity == 0 {
		l.Liquidity = float64(m.Liquidity)
	}
	return l
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIPriceLevel is a single bid/ask level as sent by the CLOB.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the CLOB order book for one token, from REST or the market
// websocket.
type APIBook struct {
	EventType string          `json:"event_type,omitempty"`
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// ToSnapshot converts the book into a normalised domain snapshot. Levels
// that fail to parse are dropped.
func (b *APIBook) ToSnapshot(token string, fetchedAt time.Time) domain.DepthSnapshot {
	return domain.NewDepthSnapshot(token, parseLevels(b.Bids), parseLevels(b.Asks), fetchedAt)
}

func parseLevels(in []APIPriceLevel) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.DepthLevel{Price: p, Size: s})
	}
	return out
}

// APIOrder represents an open order as returned by the CLOB API.
type APIOrder struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Market       string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Outcome      string    `json:"outcome"`
	Side         string    `json:"side"`
	OriginalSize string    `json:"original_size"`
	SizeMatched  string    `json:"size_matched"`
	Price        string    `json:"price"`
	OrderType    string    `json:"order_type"`
	CreatedAt    flexFloat `json:"created_at"`
}

// ToOpenOrder converts to the domain view. The asset ID is deliberately not
// carried over.
func (a *APIOrder) ToOpenOrder() domain.OpenOrder {
	o := domain.OpenOrder{
		ID:      a.ID,
		Market:  a.Market,
		Outcome: a.Outcome,
		Side:    a.Side,
		Status:  a.Status,
	}
	o.Price, _ = decimal.NewFromString(a.Price)
	o.OriginalSize, _ = decimal.NewFromString(a.OriginalSize)
	o.SizeMatched, _ = decimal.NewFromString(a.SizeMatched)
	if a.CreatedAt > 0 {
		o.CreatedAt = time.Unix(int64(a.CreatedAt), 0).UTC()
	}
	return o
}

// APIOrdersPage is the paginated /data/orders response.
type APIOrdersPage struct {
	Data       []APIOrder `json:"data"`
	NextCursor string     `json:"next_cursor"`
}

// APIOrderRequest is the body of POST /order.
type APIOrderRequest struct {
	Order     APISignedOrder `json:"order"`
	Owner     string         `json:"owner"`
	OrderType string         `json:"orderType"`
}

// APISignedOrder is the wire form of a signed exchange order.
type APISignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSSubscribe is the initial subscription message for the market channel.
type WSSubscribe struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}
