package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func submitted() domain.TradeEvent {
	return domain.TradeEvent{
		Type:    domain.EventTradeSubmitted,
		State:   domain.StateSubmitted,
		OrderID: "0xorder",
		Summary: domain.OrderSummary{
			Side:         domain.OrderSideBuy,
			Outcome:      "Up",
			Size:         decimal.RequireFromString("10"),
			AveragePrice: decimal.NewNullDecimal(decimal.RequireFromString("0.515")),
			SlippagePct:  decimal.NewNullDecimal(decimal.RequireFromString("3")),
			Level:        domain.LevelWarn,
			Reason:       "slippage above warn threshold",
			WindowTitle:  "Bitcoin Up or Down",
		},
	}
}

func TestNotifier_Filter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{domain.EventTradeSubmitted, " trade_failed "}, testLogger())

	if err := n.NotifyTrade(context.Background(), submitted()); err != nil {
		t.Fatal(err)
	}
	blocked := submitted()
	blocked.Type = domain.EventTradeBlocked
	if err := n.NotifyTrade(context.Background(), blocked); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), domain.EventTradeFailed, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 2 {
		t.Fatalf("sent %d notifications, want 2: %v", len(s.titles), s.titles)
	}
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("good sender skipped")
	}
}

func TestFormatTrade(t *testing.T) {
	title, msg := FormatTrade(submitted())
	if title != "SUBMITTED BUY Up x10" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Avg price: 0.5150", "Slippage: 3.00%", "Order: 0xorder", "WARN"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "title", "body"); err != nil {
		t.Fatal(err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "title" || got.Embeds[0].Description != "body" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["chat_id"] == "bad" {
			http.Error(w, `{"ok":false}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" || got["text"] != "title\n\nbody" {
		t.Fatalf("path = %s payload = %v", path, got)
	}

	s.chatID = "bad"
	if err := s.Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error on 400")
	}
}
