package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/guard"
	"github.com/shopspring/decimal"
)

const (
	upToken   = "90001111"
	downToken = "90002222"
)

var (
	windowOpen  = time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	windowClose = windowOpen.Add(5 * time.Minute)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeLister struct {
	listings []domain.WindowListing
	err      error
	calls    int
}

func (f *fakeLister) ListWindows(_ context.Context, _ time.Time) ([]domain.WindowListing, error) {
	f.calls++
	return f.listings, f.err
}

type fakeBooks struct {
	mu    sync.Mutex
	books map[string]domain.DepthSnapshot
	err   error
	calls int
}

func (f *fakeBooks) FetchBook(_ context.Context, token string) (domain.DepthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.DepthSnapshot{}, f.err
	}
	return f.books[token], nil
}

type fakeExec struct {
	submitted []domain.OrderPayload
	result    domain.SubmitResult
	err       error
	cancelled []string
	open      []domain.OpenOrder
}

func (f *fakeExec) Submit(_ context.Context, p domain.OrderPayload) (domain.SubmitResult, error) {
	f.submitted = append(f.submitted, p)
	return f.result, f.err
}

func (f *fakeExec) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}

func (f *fakeExec) ListOpen(_ context.Context) ([]domain.OpenOrder, error) {
	return f.open, f.err
}

type fakeJournal struct {
	records []domain.TradeRecord
}

func (f *fakeJournal) Record(_ context.Context, rec domain.TradeRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeJournal) Get(_ context.Context, id string) (domain.TradeRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].ID == id {
			return f.records[i], nil
		}
	}
	return domain.TradeRecord{}, domain.ErrNotFound
}

func (f *fakeJournal) List(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	if opts.Limit < len(f.records) {
		return f.records[:opts.Limit], nil
	}
	return f.records, nil
}

type fakeBus struct {
	published [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []domain.TradeEvent
}

func (f *fakeNotifier) NotifyTrade(_ context.Context, ev domain.TradeEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeArchiver struct {
	decisions []domain.Decision
}

func (f *fakeArchiver) ArchiveDecision(_ context.Context, dec domain.Decision) error {
	f.decisions = append(f.decisions, dec)
	return nil
}

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

type harness struct {
	lister   *fakeLister
	books    *fakeBooks
	exec     *fakeExec
	journal  *fakeJournal
	bus      *fakeBus
	notifier *fakeNotifier
	archiver *fakeArchiver
	now      time.Time
	svc      *TradeService
}

func activeListing(id string) domain.WindowListing {
	return domain.WindowListing{
		ID:        id,
		Title:     "Bitcoin Up or Down - 12:00PM-12:05PM ET",
		OpenTime:  windowOpen,
		CloseTime: windowClose,
		TokenIDs:  []string{upToken, downToken},
		Outcomes:  []string{"Up", "Down"},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		lister: &fakeLister{listings: []domain.WindowListing{activeListing("501")}},
		books: &fakeBooks{books: map[string]domain.DepthSnapshot{
			// Up: deep single level, zero slippage.
			upToken: domain.NewDepthSnapshot(upToken, nil, []domain.DepthLevel{
				{Price: d("0.50"), Size: d("100")},
			}, windowOpen),
			// Down: 10 shares average 0.43 against a 0.40 best, 7.5% slippage.
			downToken: domain.NewDepthSnapshot(downToken, nil, []domain.DepthLevel{
				{Price: d("0.40"), Size: d("5")},
				{Price: d("0.46"), Size: d("5")},
			}, windowOpen),
		}},
		exec:     &fakeExec{result: domain.SubmitResult{OrderID: "0xorder", Status: "live"}},
		journal:  &fakeJournal{},
		bus:      &fakeBus{},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{},
		now:      windowOpen.Add(2 * time.Minute),
	}
	logger := discardLogger()
	resolver := NewResolver(h.lister, 5*time.Minute, logger)
	th := guard.Thresholds{
		MinTimeRemaining: 30 * time.Second,
		SlippageWarn:     d("3"),
		SlippageBlock:    d("5"),
	}
	ids := 0
	h.svc = NewTradeService(resolver, NewDepthFetcher(h.books), h.exec, th, d("0.01"), logger).
		WithJournal(h.journal).
		WithSignalBus(h.bus, "trades").
		WithNotifier(h.notifier).
		WithArchiver(h.archiver).
		WithClock(func() time.Time { return h.now }).
		WithIDs(func() string {
			ids++
			return "req-" + string(rune('0'+ids))
		})
	return h
}

func gtcBuy(size, limit string) domain.OrderRequest {
	return domain.OrderRequest{Side: domain.OrderSideBuy, Kind: domain.OrderTypeGTC, Price: price(limit), Size: d(size)}
}

// --------------------------------------------------------------------------
// Resolver
// --------------------------------------------------------------------------

func TestResolver_Resolve(t *testing.T) {
	now := windowOpen.Add(2 * time.Minute)
	next := domain.WindowListing{
		ID:        "502",
		CloseTime: windowClose.Add(5 * time.Minute),
		TokenIDs:  []string{"3", "4"},
	}

	tests := []struct {
		name     string
		listings []domain.WindowListing
		now      time.Time
		wantID   string
		wantErr  error
	}{
		{"active window chosen", []domain.WindowListing{next, activeListing("501")}, now, "501", nil},
		{"open time derived from close", []domain.WindowListing{next}, windowClose.Add(time.Second), "502", nil},
		{"gap between windows", []domain.WindowListing{activeListing("501")}, windowClose, "", domain.ErrNoActiveWindow},
		{"before open", []domain.WindowListing{activeListing("501")}, windowOpen.Add(-time.Second), "", domain.ErrNoActiveWindow},
		{"no listings", nil, now, "", domain.ErrNoActiveWindow},
		{"missing token", []domain.WindowListing{{ID: "9", OpenTime: windowOpen, CloseTime: windowClose, TokenIDs: []string{upToken}}}, now, "", domain.ErrMalformedWindow},
		{"empty token", []domain.WindowListing{{ID: "9", OpenTime: windowOpen, CloseTime: windowClose, TokenIDs: []string{upToken, ""}}}, now, "", domain.ErrMalformedWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeLister{listings: tt.listings}, 5*time.Minute, discardLogger())
			w, err := r.Resolve(context.Background(), tt.now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if w.ID != tt.wantID {
				t.Fatalf("window = %s, want %s", w.ID, tt.wantID)
			}
			if !w.Active(tt.now) {
				t.Errorf("resolved window not active at %s", tt.now)
			}
		})
	}
}

func TestResolver_EarliestCloseWins(t *testing.T) {
	long := activeListing("long")
	long.CloseTime = windowClose.Add(time.Minute)
	r := NewResolver(&fakeLister{listings: []domain.WindowListing{long, activeListing("short")}}, 5*time.Minute, discardLogger())

	w, err := r.Resolve(context.Background(), windowOpen.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != "short" {
		t.Fatalf("window = %s, want short", w.ID)
	}
}

func TestResolver_Idempotent(t *testing.T) {
	lister := &fakeLister{listings: []domain.WindowListing{activeListing("501")}}
	r := NewResolver(lister, 5*time.Minute, discardLogger())
	now := windowOpen.Add(time.Minute)

	a, err := r.Resolve(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("resolve not idempotent: %+v vs %+v", a, b)
	}
	if lister.calls != 2 {
		t.Fatalf("lister called %d times, want 2 (no caching)", lister.calls)
	}
	if a.TokenFor(domain.RoleAffirmative) != upToken || a.LabelFor(domain.RoleNegative) != "Down" {
		t.Errorf("window = %+v", a)
	}
}

func TestResolver_ListingFailureIsNetwork(t *testing.T) {
	r := NewResolver(&fakeLister{err: errors.New("connection reset")}, 5*time.Minute, discardLogger())
	_, err := r.Resolve(context.Background(), windowOpen)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if domain.Kind(err) != domain.KindNetwork || domain.Retryable(err) {
		t.Errorf("kind = %s retryable = %v", domain.Kind(err), domain.Retryable(err))
	}
}

func TestResolver_MalformedListingKeepsKind(t *testing.T) {
	bad := fmt.Errorf("polymarket/gamma: %w: decode market 1: invalid character", domain.ErrMalformedWindow)
	r := NewResolver(&fakeLister{err: bad}, 5*time.Minute, discardLogger())
	_, err := r.Resolve(context.Background(), windowOpen)
	if domain.Kind(err) != domain.KindMalformedWindow {
		t.Fatalf("kind = %s (%v), want MalformedWindow", domain.Kind(err), err)
	}
	if errors.Is(err, domain.ErrNetwork) {
		t.Errorf("malformed listing also reported as network failure: %v", err)
	}
}

// --------------------------------------------------------------------------
// Depth
// --------------------------------------------------------------------------

func TestDepthFetcher(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.DepthSnapshot{}}
	f := NewDepthFetcher(books)

	snap, err := f.Fetch(context.Background(), upToken)
	if err != nil {
		t.Fatalf("empty book must not fail: %v", err)
	}
	if len(snap.Asks) != 0 {
		t.Fatalf("asks = %v", snap.Asks)
	}

	if _, err := f.Fetch(context.Background(), ""); !errors.Is(err, domain.ErrBookUnavailable) {
		t.Fatalf("empty token err = %v", err)
	}

	books.err = domain.ErrNetwork
	_, err = f.Fetch(context.Background(), upToken)
	if !errors.Is(err, domain.ErrBookUnavailable) || !domain.Retryable(err) {
		t.Fatalf("err = %v, want retryable ErrBookUnavailable", err)
	}
	if domain.Kind(err) != domain.KindBookUnavailable {
		t.Errorf("kind = %s", domain.Kind(err))
	}
}

func TestDepthFetcher_FetchBoth(t *testing.T) {
	h := newHarness(t)
	w, err := h.svc.CurrentWindow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	aff, neg, err := NewDepthFetcher(h.books).FetchBoth(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if aff.TokenID != upToken || neg.TokenID != downToken {
		t.Fatalf("books swapped: %s / %s", aff.TokenID, neg.TokenID)
	}
	if h.books.calls != 2 {
		t.Fatalf("calls = %d", h.books.calls)
	}
}

// --------------------------------------------------------------------------
// Trade lifecycle
// --------------------------------------------------------------------------

func TestPrepare_AwaitingConfirmation(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if q.State != domain.StateAwaitingConfirmation || !q.Allowed() {
		t.Fatalf("state = %s", q.State)
	}
	s := q.Summary
	if s.Outcome != "Up" || s.Level != domain.LevelOK || s.SecondsRemaining != 180 {
		t.Errorf("summary = %+v", s)
	}
	if !s.AveragePrice.Valid || !s.AveragePrice.Decimal.Equal(d("0.5")) {
		t.Errorf("avg = %v", s.AveragePrice)
	}
	if len(h.exec.submitted) != 0 {
		t.Fatal("Prepare must not submit")
	}

	raw, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), upToken) || strings.Contains(string(raw), downToken) {
		t.Errorf("quote leaks a token: %s", raw)
	}

	if len(h.journal.records) != 1 || h.journal.records[0].State != domain.StateAwaitingConfirmation {
		t.Fatalf("journal = %+v", h.journal.records)
	}
	if len(h.archiver.decisions) != 1 || h.archiver.decisions[0].Snapshot.TokenID != "" {
		t.Errorf("archived decision = %+v", h.archiver.decisions)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].Type != domain.EventTradeQuoted {
		t.Errorf("events = %+v", h.notifier.events)
	}
}

func TestPrepare_BlockedBySlippage(t *testing.T) {
	h := newHarness(t)
	req := domain.OrderRequest{Side: domain.OrderSideSell, Kind: domain.OrderTypeGTC, Price: price("0.45"), Size: d("10")}

	q, err := h.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if q.State != domain.StateBlocked || q.Allowed() {
		t.Fatalf("state = %s, want BLOCKED", q.State)
	}
	if q.Summary.Outcome != "Down" {
		t.Errorf("SELL should quote the negative outcome, got %s", q.Summary.Outcome)
	}
	if !strings.HasPrefix(q.Summary.Reason, guard.ReasonSlippageBlock) {
		t.Errorf("reason = %q", q.Summary.Reason)
	}
	if h.notifier.events[0].Type != domain.EventTradeBlocked {
		t.Errorf("event = %s", h.notifier.events[0].Type)
	}
	if len(h.bus.published) != 1 {
		t.Errorf("published %d events", len(h.bus.published))
	}
}

func TestPrepare_OverrideDowngradesSlippageBlock(t *testing.T) {
	h := newHarness(t)
	req := domain.OrderRequest{Side: domain.OrderSideSell, Kind: domain.OrderTypeFOK, Size: d("10"), Override: true}

	q, err := h.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if q.State != domain.StateAwaitingConfirmation || q.Summary.Level != domain.LevelWarn {
		t.Fatalf("state = %s level = %s", q.State, q.Summary.Level)
	}
	if !strings.Contains(q.Summary.Reason, "5") {
		t.Errorf("reason should name the block threshold: %q", q.Summary.Reason)
	}
}

func TestPrepare_ClosingWindowIgnoresOverride(t *testing.T) {
	h := newHarness(t)
	h.now = windowClose.Add(-15 * time.Second)
	req := gtcBuy("10", "0.52")
	req.Override = true

	q, err := h.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if q.State != domain.StateBlocked || !strings.HasPrefix(q.Summary.Reason, guard.ReasonClosingSoon) {
		t.Fatalf("quote = %+v", q)
	}
}

func TestPrepare_EmptyBookBlocks(t *testing.T) {
	h := newHarness(t)
	h.books.books[upToken] = domain.NewDepthSnapshot(upToken, nil, nil, windowOpen)
	req := gtcBuy("10", "0.52")
	req.Override = true

	q, err := h.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if q.State != domain.StateBlocked || !strings.HasPrefix(q.Summary.Reason, guard.ReasonNoLiquidity) {
		t.Fatalf("quote = %+v", q.Summary)
	}
	if q.Summary.AveragePrice.Valid {
		t.Errorf("average price should be absent")
	}
}

func TestPrepare_PartialFillWarns(t *testing.T) {
	h := newHarness(t)

	q, err := h.svc.Prepare(context.Background(), gtcBuy("150", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	if !q.Summary.Unfilled.Equal(d("50")) {
		t.Fatalf("unfilled = %s", q.Summary.Unfilled)
	}
	if len(q.Summary.Warnings) == 0 || !strings.HasPrefix(q.Summary.Warnings[0], "partial fill") {
		t.Fatalf("warnings = %v", q.Summary.Warnings)
	}
}

func TestPrepare_PipelineErrors(t *testing.T) {
	t.Run("no window", func(t *testing.T) {
		h := newHarness(t)
		h.now = windowClose.Add(time.Second)
		_, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.5"))
		if !errors.Is(err, domain.ErrNoActiveWindow) || !domain.Retryable(err) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("book unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.books.err = errors.New("timeout")
		_, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.5"))
		if !errors.Is(err, domain.ErrBookUnavailable) {
			t.Fatalf("err = %v", err)
		}
		if len(h.journal.records) != 0 {
			t.Errorf("nothing to journal without a verdict")
		}
	})
	t.Run("gtc without price", func(t *testing.T) {
		h := newHarness(t)
		req := domain.OrderRequest{Side: domain.OrderSideBuy, Kind: domain.OrderTypeGTC, Size: d("10")}
		_, err := h.svc.Prepare(context.Background(), req)
		if !errors.Is(err, domain.ErrInvalidOrder) {
			t.Fatalf("err = %v", err)
		}
		if h.lister.calls != 0 {
			t.Errorf("invalid request should not reach the resolver")
		}
	})
}

func TestExecute_Submitted(t *testing.T) {
	h := newHarness(t)
	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	h.now = h.now.Add(5 * time.Second)

	out, err := h.svc.Execute(context.Background(), q.Confirm())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != domain.StateSubmitted || out.OrderID != "0xorder" {
		t.Fatalf("outcome = %+v", out)
	}
	if h.lister.calls != 2 || h.books.calls != 2 {
		t.Errorf("execute must resolve and snapshot again: lister=%d books=%d", h.lister.calls, h.books.calls)
	}
	if len(h.exec.submitted) != 1 {
		t.Fatalf("submitted %d orders", len(h.exec.submitted))
	}
	p := h.exec.submitted[0]
	if p.Token != upToken || p.Kind != domain.OrderTypeGTC || !p.Price.Equal(d("0.52")) || !p.Size.Equal(d("10")) {
		t.Errorf("payload = %+v", p)
	}

	last := h.journal.records[len(h.journal.records)-1]
	if last.ID != q.Summary.RequestID || last.State != domain.StateSubmitted || last.OrderID != "0xorder" {
		t.Errorf("journal = %+v", last)
	}
}

func TestExecute_FOKUsesWorstLevel(t *testing.T) {
	h := newHarness(t)
	h.books.books[downToken] = domain.NewDepthSnapshot(downToken, nil, []domain.DepthLevel{
		{Price: d("0.40"), Size: d("5")},
		{Price: d("0.433"), Size: d("5")},
	}, windowOpen)
	req := domain.OrderRequest{Side: domain.OrderSideSell, Kind: domain.OrderTypeFOK, Price: price("0.10"), Size: d("10")}

	q, err := h.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if q.Summary.Level != domain.LevelWarn || q.Summary.LimitPrice.Valid {
		t.Fatalf("summary = %+v", q.Summary)
	}

	if _, err := h.svc.Execute(context.Background(), q.Confirm()); err != nil {
		t.Fatal(err)
	}
	p := h.exec.submitted[0]
	if p.Token != downToken || !p.Price.Equal(d("0.44")) || p.Kind != domain.OrderTypeFOK {
		t.Fatalf("payload = %+v, want down token at 0.44", p)
	}
}

func TestExecute_BlockedOnFreshEvaluation(t *testing.T) {
	h := newHarness(t)
	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	h.now = windowClose.Add(-10 * time.Second)

	out, err := h.svc.Execute(context.Background(), q.Confirm())
	if err != nil {
		t.Fatal(err)
	}
	if out.State != domain.StateBlocked || len(h.exec.submitted) != 0 {
		t.Fatalf("outcome = %+v submitted = %d", out, len(h.exec.submitted))
	}
}

func TestExecute_RequiresReconfirmation(t *testing.T) {
	t.Run("window rotated", func(t *testing.T) {
		h := newHarness(t)
		q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
		if err != nil {
			t.Fatal(err)
		}
		h.lister.listings = []domain.WindowListing{activeListing("777")}

		out, err := h.svc.Execute(context.Background(), q.Confirm())
		if err != nil {
			t.Fatal(err)
		}
		if out.State != domain.StateAwaitingConfirmation || out.Requote == nil {
			t.Fatalf("outcome = %+v", out)
		}
		if out.Requote.Summary.WindowID != "777" {
			t.Errorf("requote window = %s", out.Requote.Summary.WindowID)
		}
		if len(h.exec.submitted) != 0 {
			t.Fatal("must not submit without reconfirmation")
		}

		out, err = h.svc.Execute(context.Background(), out.Requote.Confirm())
		if err != nil || out.State != domain.StateSubmitted {
			t.Fatalf("reconfirmed outcome = %+v, %v", out, err)
		}
	})

	t.Run("verdict worsened", func(t *testing.T) {
		h := newHarness(t)
		q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
		if err != nil {
			t.Fatal(err)
		}
		h.books.books[upToken] = domain.NewDepthSnapshot(upToken, nil, []domain.DepthLevel{
			{Price: d("0.50"), Size: d("6")},
			{Price: d("0.54"), Size: d("4")},
		}, windowOpen)

		out, err := h.svc.Execute(context.Background(), q.Confirm())
		if err != nil {
			t.Fatal(err)
		}
		if out.State != domain.StateAwaitingConfirmation || out.Summary.Level != domain.LevelWarn {
			t.Fatalf("outcome = %+v", out)
		}
		if len(h.exec.submitted) != 0 {
			t.Fatal("must not submit on a worse verdict")
		}
	})
}

func TestExecute_SubmitFailedNotRetried(t *testing.T) {
	h := newHarness(t)
	h.exec.err = errors.New("polymarket/clob: order rejected by venue: not enough balance")
	h.exec.err = errors.Join(domain.ErrRejected, h.exec.err)

	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := h.svc.Execute(context.Background(), q.Confirm())
	if !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if out.State != domain.StateSubmitFailed || !strings.Contains(out.Error, "not enough balance") {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.exec.submitted) != 1 {
		t.Fatalf("submitted %d times, want exactly 1", len(h.exec.submitted))
	}
	last := h.notifier.events[len(h.notifier.events)-1]
	if last.Type != domain.EventTradeFailed || last.Error == "" {
		t.Errorf("event = %+v", last)
	}
}

func TestExecute_LogsSubmittingAndTerminalState(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	h.svc.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Execute(context.Background(), q.Confirm()); err != nil {
		t.Fatal(err)
	}

	var states []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry struct {
			Msg   string `json:"msg"`
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if entry.Msg == "trade_service: submitting order" || entry.Msg == "trade_service: request finished" {
			states = append(states, entry.State)
		}
	}
	want := []string{string(domain.StateSubmitting), string(domain.StateSubmitted)}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("logged states = %v, want %v", states, want)
	}
}

func TestExecute_RejectsBlockedConfirmation(t *testing.T) {
	h := newHarness(t)
	q, err := h.svc.Prepare(context.Background(), gtcBuy("10", "0.52"))
	if err != nil {
		t.Fatal(err)
	}
	c := q.Confirm()
	c.Level = domain.LevelBlock

	_, err = h.svc.Execute(context.Background(), c)
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
	if len(h.exec.submitted) != 0 {
		t.Errorf("submitted %d orders for a blocked confirmation", len(h.exec.submitted))
	}
	if h.lister.calls != 1 {
		t.Errorf("lister called %d times, want no fresh resolve", h.lister.calls)
	}
}

func TestTradeStateTerminal(t *testing.T) {
	for _, s := range []domain.TradeState{domain.StateBlocked, domain.StateSubmitted, domain.StateSubmitFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []domain.TradeState{domain.StateAwaitingConfirmation, domain.StateSubmitting, domain.StateGuarding} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMarketablePrice(t *testing.T) {
	tick := d("0.01")
	tests := []struct{ in, want string }{
		{"0.433", "0.44"},
		{"0.44", "0.44"},
		{"0.991", "0.99"},
		{"0.999", "0.99"},
		{"0.001", "0.01"},
	}
	for _, tt := range tests {
		if got := MarketablePrice(d(tt.in), tick); !got.Equal(d(tt.want)) {
			t.Errorf("MarketablePrice(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// --------------------------------------------------------------------------
// Orders
// --------------------------------------------------------------------------

func TestOrderService(t *testing.T) {
	exec := &fakeExec{open: []domain.OpenOrder{{ID: "a"}, {ID: "b"}}}
	journal := &fakeJournal{records: []domain.TradeRecord{{ID: "r1"}, {ID: "r2"}}}
	svc := NewOrderService(exec, discardLogger()).WithJournal(journal)

	if err := svc.Cancel(context.Background(), ""); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("empty id err = %v", err)
	}
	if err := svc.Cancel(context.Background(), "0xabc"); err != nil {
		t.Fatal(err)
	}
	if len(exec.cancelled) != 1 || exec.cancelled[0] != "0xabc" {
		t.Fatalf("cancelled = %v", exec.cancelled)
	}

	open, err := svc.ListOpen(context.Background())
	if err != nil || len(open) != 2 {
		t.Fatalf("open = %v, %v", open, err)
	}

	hist, err := svc.History(context.Background(), domain.ListOpts{Limit: 1})
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}

	exec.err = domain.ErrNotFound
	if err := svc.Cancel(context.Background(), "0xdead"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
