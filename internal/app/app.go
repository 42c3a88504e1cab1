// Package app wires the trade pipeline to its configured collaborators and
// runs one operator command: a dry run, a book view, a live trade, order
// management, the journal history or the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alanyoungcy/btc5mtrader/internal/config"
)

// ErrBlocked is returned when the trade guard refused the trade. The CLI
// exits non-zero on it.
var ErrBlocked = errors.New("trade blocked")

// Command is one parsed operator invocation.
type Command struct {
	Live    bool
	Yes     bool
	Book    bool
	Orders  bool
	Cancel  string
	History bool
	Serve   bool

	Side      string
	OrderType string
	Price     string
	Size      string
	Force     bool
}

// signing reports whether the command needs the wallet key.
func (c Command) signing() bool {
	switch {
	case c.Orders, c.Cancel != "":
		return true
	case c.Book, c.History:
		return false
	}
	return c.Live
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	closers []func()
}

// New creates a new App from the given configuration and logger. Operator
// output goes to stdout and prompts read stdin.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// WithIO replaces the operator's terminal.
func (a *App) WithIO(in io.Reader, out io.Writer) *App {
	a.in = in
	a.out = out
	return a
}

// Run wires the dependencies cmd needs, runs it and blocks until it finishes
// or ctx is cancelled.
func (a *App) Run(ctx context.Context, cmd Command) error {
	if cmd.signing() {
		if err := a.cfg.ValidateLive(); err != nil {
			return err
		}
	}

	a.logger.InfoContext(ctx, "starting command",
		slog.Bool("live", cmd.Live),
		slog.Bool("serve", cmd.Serve),
		slog.String("book_source", a.cfg.Polymarket.BookSource),
		slog.String("journal", a.cfg.Journal.Driver),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, cmd.signing())
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch {
	case cmd.Serve:
		return a.ServeMode(ctx, deps, cmd.Live)
	case cmd.Orders:
		return a.OrdersMode(ctx, deps)
	case cmd.Cancel != "":
		return a.CancelMode(ctx, deps, cmd.Cancel)
	case cmd.History:
		return a.HistoryMode(ctx, deps)
	}

	req, err := a.orderRequest(cmd)
	if err != nil {
		return err
	}
	trades := NewTradeService(a.cfg, deps, a.logger)

	switch {
	case cmd.Book:
		return a.BookMode(ctx, trades, req)
	case cmd.Live:
		return a.LiveMode(ctx, trades, req, cmd.Yes)
	default:
		return a.DryRunMode(ctx, trades, req)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Debug("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
