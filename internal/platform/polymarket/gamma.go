package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// listingSpan bounds the end dates requested around the lookup time.
const listingSpan = 30 * time.Minute

// GammaClient is the REST client for the Polymarket Gamma API, used here to
// discover the rotating 5-minute windows.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	tagID      int
	search     string
	limit      int
	logger     *slog.Logger
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// tagID narrows the listing to the series tag and search is matched
// case-insensitively against each market's question.
func NewGammaClient(baseURL string, tagID int, search string) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tagID:  tagID,
		search: strings.ToLower(strings.TrimSpace(search)),
		limit:  50,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used to report skipped market entries.
func (g *GammaClient) WithLogger(logger *slog.Logger) *GammaClient {
	g.logger = logger
	return g
}

// ListWindows returns open, unresolved markets matching the series whose end
// date falls near around.
func (g *GammaClient) ListWindows(ctx context.Context, around time.Time) ([]domain.WindowListing, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(g.limit))
	if g.tagID > 0 {
		params.Set("tag_id", strconv.Itoa(g.tagID))
	}
	params.Set("end_date_min", around.Add(-listingSpan).UTC().Format(time.RFC3339))
	params.Set("end_date_max", around.Add(listingSpan).UTC().Format(time.RFC3339))
	params.Set("order", "endDate")
	params.Set("ascending", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list windows: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: %w: decode markets: %w", domain.ErrMalformedWindow, err)
	}

	// Entries are decoded one by one so a broken market from another series
	// under the same tag cannot hide the active window.
	out := make([]domain.WindowListing, 0, len(raws))
	for i, raw := range raws {
		var m APIMarket
		if err := json.Unmarshal(raw, &m); err != nil {
			var head struct {
				ID       json.RawMessage `json:"id"`
				Question string          `json:"question"`
				Title    string          `json:"title"`
			}
			headErr := json.Unmarshal(raw, &head)
			if (headErr == nil || g.search == "") && g.matches(head.Question, head.Title) {
				return nil, fmt.Errorf("polymarket/gamma: %w: decode market %s: %w",
					domain.ErrMalformedWindow, string(head.ID), err)
			}
			g.logger.Warn("polymarket/gamma: skipping undecodable market",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.Closed || !g.matches(m.Question, m.Title) {
			continue
		}
		out = append(out, m.ToListing())
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// matches reports whether a market title belongs to the configured series.
func (g *GammaClient) matches(question, title string) bool {
	if g.search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(question+" "+title), g.search)
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrNetwork, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
