package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/server/handler"
	"github.com/alanyoungcy/btc5mtrader/internal/service"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeTrades struct {
	window    domain.Window
	windowErr error
	quote     service.Quote
	outcome   service.Outcome
	execErr   error
	records   []domain.TradeRecord

	gotReq  domain.OrderRequest
	gotConf service.Confirmation
}

func (f *fakeTrades) CurrentWindow(context.Context) (domain.Window, error) {
	return f.window, f.windowErr
}

func (f *fakeTrades) Books(context.Context) (service.BookView, error) {
	if f.windowErr != nil {
		return service.BookView{}, f.windowErr
	}
	return service.BookView{
		Window: f.window,
		Affirmative: domain.DepthSnapshot{
			TokenID: f.window.AffirmativeToken,
			Asks:    []domain.DepthLevel{{Price: decimal.RequireFromString("0.5"), Size: decimal.NewFromInt(100)}},
		},
		Negative: domain.DepthSnapshot{TokenID: f.window.NegativeToken},
	}, nil
}

func (f *fakeTrades) Prepare(_ context.Context, req domain.OrderRequest) (service.Quote, error) {
	f.gotReq = req
	return f.quote, nil
}

func (f *fakeTrades) Execute(_ context.Context, c service.Confirmation) (service.Outcome, error) {
	f.gotConf = c
	return f.outcome, f.execErr
}

func (f *fakeTrades) History(context.Context, domain.ListOpts) ([]domain.TradeRecord, error) {
	return f.records, nil
}

type fakeOrders struct {
	cancelled string
	open      []domain.OpenOrder
}

func (f *fakeOrders) Cancel(_ context.Context, id string) error {
	if id == "missing" {
		return fmt.Errorf("cancel: %w", domain.ErrNotFound)
	}
	f.cancelled = id
	return nil
}

func (f *fakeOrders) ListOpen(context.Context) ([]domain.OpenOrder, error) {
	return f.open, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func testWindow() domain.Window {
	return domain.Window{
		ID:               "501",
		Title:            "Bitcoin Up or Down - 5 min",
		OpenTime:         time.Now().Add(-time.Minute),
		CloseTime:        time.Now().Add(4 * time.Minute),
		AffirmativeToken: "tok-up-secret",
		NegativeToken:    "tok-down-secret",
		Outcomes:         [2]string{"Up", "Down"},
	}
}

func newTestHandler(t *testing.T, cfg Config, trades *fakeTrades, orders *fakeOrders, live bool) http.Handler {
	t.Helper()
	logger := discardLogger()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "# metrics\n")
	})
	return newHandler(cfg, Handlers{
		Health:  handler.NewHealthHandler("dry_run", logger),
		Window:  handler.NewWindowHandler(trades, logger),
		Trades:  handler.NewTradeHandler(trades, trades, live, logger),
		Orders:  handler.NewOrderHandler(orders, logger),
		Metrics: metrics,
	}, nil, nil, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_PublicAndProtectedRoutes(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, &fakeTrades{window: testWindow()}, &fakeOrders{}, false)

	tests := []struct {
		path    string
		headers map[string]string
		want    int
	}{
		{"/api/health", nil, http.StatusOK},
		{"/metrics", nil, http.StatusOK},
		{"/api/window", nil, http.StatusUnauthorized},
		{"/api/window", map[string]string{"X-API-Key": "wrong"}, http.StatusUnauthorized},
		{"/api/window", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, tt.path, "", tt.headers)
		if rec.Code != tt.want {
			t.Errorf("GET %s with %v = %d, want %d", tt.path, tt.headers, rec.Code, tt.want)
		}
	}
}

func TestGetWindow_NeverExposesTokens(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{window: testWindow()}, &fakeOrders{}, false)

	for _, path := range []string{"/api/window", "/api/window/books"} {
		rec := do(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d: %s", path, rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "secret") {
			t.Errorf("GET %s leaked a token: %s", path, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodGet, "/api/window", "", nil)
	var body struct {
		ID       string    `json:"id"`
		Outcomes [2]string `json:"outcomes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ID != "501" || body.Outcomes != [2]string{"Up", "Down"} {
		t.Errorf("unexpected window %+v", body)
	}
}

func TestGetWindow_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		kind domain.ErrorKind
	}{
		{fmt.Errorf("x: %w", domain.ErrNoActiveWindow), http.StatusServiceUnavailable, domain.KindNoActiveWindow},
		{fmt.Errorf("x: %w", domain.ErrMalformedWindow), http.StatusBadGateway, domain.KindMalformedWindow},
		{fmt.Errorf("x: %w", domain.ErrNetwork), http.StatusBadGateway, domain.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newTestHandler(t, Config{}, &fakeTrades{windowErr: tt.err}, &fakeOrders{}, false)
			rec := do(t, h, http.MethodGet, "/api/window", "", nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var body struct {
				Kind domain.ErrorKind `json:"kind"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", body.Kind, tt.kind)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	trades := &fakeTrades{quote: service.Quote{
		State:   domain.StateAwaitingConfirmation,
		Summary: domain.OrderSummary{RequestID: "r1", Outcome: "Up", Level: domain.LevelOK},
	}}
	h := newTestHandler(t, Config{}, trades, &fakeOrders{}, false)

	rec := do(t, h, http.MethodPost, "/api/trades/preview",
		`{"side":"buy","order_type":"GTC","price":"0.52","size":"10"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if trades.gotReq.Side != domain.OrderSideBuy || !trades.gotReq.Size.Equal(decimal.NewFromInt(10)) {
		t.Errorf("request = %+v", trades.gotReq)
	}
	if !trades.gotReq.Price.Valid || !trades.gotReq.Price.Decimal.Equal(decimal.RequireFromString("0.52")) {
		t.Errorf("price = %v", trades.gotReq.Price)
	}

	var body struct {
		State   domain.TradeState `json:"state"`
		Allowed bool              `json:"allowed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.State != domain.StateAwaitingConfirmation || !body.Allowed {
		t.Errorf("body = %+v", body)
	}
}

func TestPreview_BadInput(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, &fakeOrders{}, false)

	for _, body := range []string{
		`not json`,
		`{"side":"hold","size":"1"}`,
		`{"side":"buy","order_type":"IOC","size":"1"}`,
		`{"side":"buy","size":"1","extra":true}`,
	} {
		rec := do(t, h, http.MethodPost, "/api/trades/preview", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestExecute_DryRunRefused(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, &fakeOrders{}, false)
	rec := do(t, h, http.MethodPost, "/api/trades/execute",
		`{"side":"buy","price":"0.5","size":"1","window_id":"501"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestExecute_Outcomes(t *testing.T) {
	requote := &service.Quote{State: domain.StateAwaitingConfirmation, Summary: domain.OrderSummary{RequestID: "r1"}}
	tests := []struct {
		name    string
		outcome service.Outcome
		err     error
		want    int
	}{
		{"submitted", service.Outcome{State: domain.StateSubmitted, OrderID: "0xabc"}, nil, http.StatusOK},
		{"blocked", service.Outcome{State: domain.StateBlocked}, nil, http.StatusUnprocessableEntity},
		{"requote", service.Outcome{State: domain.StateAwaitingConfirmation, Requote: requote}, nil, http.StatusConflict},
		{"submit failed", service.Outcome{State: domain.StateSubmitFailed, Error: "rejected"},
			fmt.Errorf("submit: %w", domain.ErrRejected), http.StatusBadGateway},
		{"book gone", service.Outcome{}, fmt.Errorf("x: %w", domain.ErrBookUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades := &fakeTrades{outcome: tt.outcome, execErr: tt.err}
			h := newTestHandler(t, Config{}, trades, &fakeOrders{}, true)
			rec := do(t, h, http.MethodPost, "/api/trades/execute",
				`{"request_id":"r1","side":"sell","order_type":"fok","size":"5","window_id":"501","level":"WARN"}`, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			c := trades.gotConf
			if c.RequestID != "r1" || c.WindowID != "501" || c.Level != domain.LevelWarn {
				t.Errorf("confirmation = %+v", c)
			}
			if c.Request.Side != domain.OrderSideSell || c.Request.Kind != domain.OrderTypeFOK {
				t.Errorf("request = %+v", c.Request)
			}
		})
	}
}

func TestExecute_RequiresWindowID(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, &fakeOrders{}, true)
	rec := do(t, h, http.MethodPost, "/api/trades/execute", `{"side":"buy","price":"0.5","size":"1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTrades(t *testing.T) {
	trades := &fakeTrades{records: []domain.TradeRecord{{ID: "r1", State: domain.StateSubmitted, OrderID: "0xabc"}}}
	h := newTestHandler(t, Config{}, trades, &fakeOrders{}, false)

	rec := do(t, h, http.MethodGet, "/api/trades?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Trades []struct {
			ID      string `json:"id"`
			OrderID string `json:"order_id"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Trades) != 1 || body.Trades[0].OrderID != "0xabc" {
		t.Errorf("trades = %+v", body.Trades)
	}
}

func TestOrders(t *testing.T) {
	orders := &fakeOrders{open: []domain.OpenOrder{{ID: "0x1", Outcome: "Up", Price: decimal.RequireFromString("0.4")}}}
	h := newTestHandler(t, Config{}, &fakeTrades{}, orders, true)

	rec := do(t, h, http.MethodGet, "/api/orders", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"0x1"`) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/orders/0x1", "", nil)
	if rec.Code != http.StatusOK || orders.cancelled != "0x1" {
		t.Fatalf("cancel = %d, cancelled %q", rec.Code, orders.cancelled)
	}

	rec = do(t, h, http.MethodDelete, "/api/orders/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel missing = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	logger := discardLogger()
	trades := &fakeTrades{window: testWindow()}
	h := newHandler(Config{RateLimitRPM: 10}, Handlers{
		Health: handler.NewHealthHandler("live", logger),
		Window: handler.NewWindowHandler(trades, logger),
		Trades: handler.NewTradeHandler(trades, trades, false, logger),
		Orders: handler.NewOrderHandler(&fakeOrders{}, logger),
	}, denyLimiter{}, nil, logger)

	rec := do(t, h, http.MethodGet, "/api/window", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{CORSOrigins: []string{"https://ops.example"}}, &fakeTrades{}, &fakeOrders{}, false)
	rec := do(t, h, http.MethodOptions, "/api/trades/preview", "", map[string]string{"Origin": "https://ops.example"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeTrades{}, &fakeOrders{}, false)

	rec := do(t, h, http.MethodGet, "/api/health", "", map[string]string{"X-Request-ID": "req-42"})
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("echoed request id = %q", got)
	}
	rec = do(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated request id")
	}
}
