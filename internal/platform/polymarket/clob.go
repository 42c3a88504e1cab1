package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/crypto"
	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// endCursor marks the last page of a paginated CLOB listing.
const endCursor = "LTE="

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. Book reads are public; order calls need a signer and L2
// credentials.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	now        func() time.Time
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com". signer
// may be nil for a read-only client.
func NewClobClient(baseURL string, signer *crypto.Signer) *ClobClient {
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		now:    time.Now,
	}
}

// WithCredentials sets previously derived L2 credentials.
func (c *ClobClient) WithCredentials(h *crypto.HMACAuth) *ClobClient {
	c.hmacAuth = h
	return c
}

// APIKey returns the L2 API key, which the venue uses as the order owner.
func (c *ClobClient) APIKey() string {
	if c.hmacAuth == nil {
		return ""
	}
	return c.hmacAuth.Key
}

// FetchBook reads the current order book for token.
func (c *ClobClient) FetchBook(ctx context.Context, token string) (domain.DepthSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+params.Encode(), nil)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/clob: create book request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/clob: get book: %w", err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.ToSnapshot(token, c.now()), nil
}

// PostOrder submits a signed order and returns the venue's answer. A
// response with success=false is returned as ErrRejected.
func (c *ClobClient) PostOrder(ctx context.Context, order APIOrderRequest) (APIOrderResult, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", nil, order)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success || result.OrderID == "" {
		msg := result.ErrorMsg
		if msg == "" {
			msg = "no order id returned"
		}
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrRejected, msg)
	}
	return result, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", nil, body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	for _, id := range result.Canceled {
		if id == orderID {
			return nil
		}
	}
	reason := result.NotCanceled[orderID]
	if reason == "" {
		reason = "order not in canceled set"
	}
	return fmt.Errorf("polymarket/clob: cancel order %s: %w: %s", orderID, domain.ErrNotFound, reason)
}

// GetOpenOrders returns all open orders for the authenticated wallet,
// following pagination cursors.
func (c *ClobClient) GetOpenOrders(ctx context.Context) ([]APIOrder, error) {
	var all []APIOrder
	cursor := ""
	for {
		q := url.Values{}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/data/orders", q, nil)
		if err != nil {
			return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
		}

		var page APIOrdersPage
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
		}
		all = append(all, page.Data...)

		if page.NextCursor == "" || page.NextCursor == endCursor || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// DeriveAPIKey performs the L1 auth flow: it signs a ClobAuth message and
// asks the venue for the wallet's L2 credentials, creating them when none
// exist yet. On success the client keeps the credentials.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (*crypto.HMACAuth, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w: no signer", domain.ErrSigningFailed)
	}

	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrRejected) {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}
	if err != nil || creds.Key == "" {
		creds, err = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
		if err != nil {
			return nil, fmt.Errorf("polymarket/clob: create api key: %w", err)
		}
	}

	c.hmacAuth = creds
	return creds, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (*crypto.HMACAuth, error) {
	ts := c.now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(ts, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var creds crypto.HMACAuth
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	return &creds, nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. The query string is not part of the signed
// path.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return nil, fmt.Errorf("%w: missing L2 credentials", domain.ErrUnauthorized)
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	headers := c.hmacAuth.L2HeadersAt(c.signer.Address().Hex(), method, path, bodyStr, c.now().Unix())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrNetwork, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetwork, statusCode, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRejected, statusCode, bodyStr)
	}
}
