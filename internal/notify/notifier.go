// Package notify forwards trade events to operator chat channels (Discord,
// Telegram). Events are filtered by type so operators only hear about the
// outcomes they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a message with the given title and body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches to every Sender whose event filter admits the event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list admits every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyTrade formats ev and sends it through Notify.
func (n *Notifier) NotifyTrade(ctx context.Context, ev domain.TradeEvent) error {
	title, message := FormatTrade(ev)
	return n.Notify(ctx, ev.Type, title, message)
}

// FormatTrade renders a trade event as a title and a multi-line body. Only
// outcome labels appear, never tokens.
func FormatTrade(ev domain.TradeEvent) (title, message string) {
	s := ev.Summary
	title = fmt.Sprintf("%s %s %s x%s", ev.State, s.Side, s.Outcome, s.Size.String())

	var b strings.Builder
	fmt.Fprintf(&b, "Window: %s\n", s.WindowTitle)
	if s.AveragePrice.Valid {
		fmt.Fprintf(&b, "Avg price: %s\n", s.AveragePrice.Decimal.StringFixed(4))
	}
	if s.SlippagePct.Valid {
		fmt.Fprintf(&b, "Slippage: %s%%\n", s.SlippagePct.Decimal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Time left: %.0fs\n", s.SecondsRemaining)
	fmt.Fprintf(&b, "Verdict: %s (%s)", s.Level, s.Reason)
	if ev.OrderID != "" {
		fmt.Fprintf(&b, "\nOrder: %s", ev.OrderID)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", ev.Error)
	}
	return title, b.String()
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
