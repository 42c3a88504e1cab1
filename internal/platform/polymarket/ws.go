package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// snapshotWait bounds how long FetchBook waits for the first book event.
	snapshotWait = 10 * time.Second

	marketChannelPath = "/ws/market"
)

// WSBookSource reads one order book snapshot from the CLOB market channel.
// Each call opens its own connection, takes the first full book for the
// token and closes, so no state is shared between calls.
type WSBookSource struct {
	wsURL  string
	dialer websocket.Dialer
	wait   time.Duration
	now    func() time.Time
}

// NewWSBookSource creates a book source for the given WebSocket host, e.g.
// "wss://ws-subscriptions-clob.polymarket.com".
func NewWSBookSource(wsHost string) *WSBookSource {
	u := strings.TrimRight(wsHost, "/")
	if !strings.HasSuffix(u, marketChannelPath) {
		u += marketChannelPath
	}
	return &WSBookSource{
		wsURL: u,
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		wait: snapshotWait,
		now:  time.Now,
	}
}

// FetchBook subscribes to token and returns its first full book event.
func (w *WSBookSource) FetchBook(ctx context.Context, token string) (domain.DepthSnapshot, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/ws: connect: %w: %w", domain.ErrNetwork, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(w.wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	// Unblock the read if the caller gives up first.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sub, err := json.Marshal(WSSubscribe{Type: "market", AssetIDs: []string{token}})
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("polymarket/ws: subscribe: %w: %w", domain.ErrNetwork, err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return domain.DepthSnapshot{}, fmt.Errorf("polymarket/ws: %w", ctx.Err())
			}
			return domain.DepthSnapshot{}, fmt.Errorf("polymarket/ws: read: %w: %w", domain.ErrNetwork, err)
		}
		if book, ok := findBook(raw, token); ok {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return book.ToSnapshot(token, w.now()), nil
		}
	}
}

// findBook extracts the book event for token from a frame, which may hold a
// single event or an array of events.
func findBook(raw []byte, token string) (APIBook, bool) {
	var events []APIBook
	if err := json.Unmarshal(raw, &events); err != nil {
		var single APIBook
		if err := json.Unmarshal(raw, &single); err != nil {
			return APIBook{}, false
		}
		events = []APIBook{single}
	}
	for _, ev := range events {
		if ev.EventType == "book" && ev.AssetID == token {
			return ev, true
		}
	}
	return APIBook{}, false
}
