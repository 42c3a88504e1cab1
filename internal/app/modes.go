package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/btc5mtrader/internal/config"
	"github.com/alanyoungcy/btc5mtrader/internal/crypto"
	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/server"
	"github.com/alanyoungcy/btc5mtrader/internal/server/handler"
	"github.com/alanyoungcy/btc5mtrader/internal/server/ws"
	"github.com/alanyoungcy/btc5mtrader/internal/service"
)

// maxRequotes bounds how often a live trade is re-confirmed after the market
// moved under it.
const maxRequotes = 3

// bookDepth is how many levels per side the book view prints.
const bookDepth = 5

// orderRequest builds the operator's request from flags, falling back to the
// configured defaults.
func (a *App) orderRequest(cmd Command) (domain.OrderRequest, error) {
	sideStr := cmd.Side
	if sideStr == "" {
		sideStr = string(domain.OrderSideBuy)
	}
	side, err := domain.ParseOrderSide(sideStr)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	kindStr := cmd.OrderType
	if kindStr == "" {
		kindStr = a.cfg.Trading.OrderType
	}
	kind, err := domain.ParseOrderType(kindStr)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	size := decimal.NewFromFloat(a.cfg.Trading.DefaultSize)
	if cmd.Size != "" {
		if size, err = decimal.NewFromString(cmd.Size); err != nil {
			return domain.OrderRequest{}, fmt.Errorf("%w: size %q is not a number", domain.ErrInvalidOrder, cmd.Size)
		}
	}

	var price decimal.NullDecimal
	if cmd.Price != "" {
		p, err := decimal.NewFromString(cmd.Price)
		if err != nil {
			return domain.OrderRequest{}, fmt.Errorf("%w: price %q is not a number", domain.ErrInvalidOrder, cmd.Price)
		}
		price = decimal.NewNullDecimal(p)
	}

	return domain.OrderRequest{
		Side:     side,
		Kind:     kind,
		Price:    price,
		Size:     size,
		Override: cmd.Force,
	}, nil
}

// DryRunMode quotes the request and prints what would be submitted.
func (a *App) DryRunMode(ctx context.Context, trades *service.TradeService, req domain.OrderRequest) error {
	q, err := trades.Prepare(ctx, req)
	if err != nil {
		return err
	}
	printSummary(a.out, q.State, q.Summary)
	if !q.Allowed() {
		return blocked(q.Summary)
	}
	fmt.Fprintln(a.out, "\n[DRY RUN] No order placed. Use -live to execute.")
	return nil
}

// BookMode prints both outcome books of the active window and the simulated
// fill for the request. Nothing is submitted.
func (a *App) BookMode(ctx context.Context, trades *service.TradeService, req domain.OrderRequest) error {
	view, err := trades.Books(ctx)
	if err != nil {
		return err
	}

	w := view.Window
	fmt.Fprintf(a.out, "Window:     %s (id %s)\n", w.Title, w.ID)
	fmt.Fprintf(a.out, "Closes:     %s\n\n", w.CloseTime.UTC().Format(time.RFC3339))
	printBook(a.out, w.LabelFor(domain.RoleAffirmative), view.Affirmative)
	printBook(a.out, w.LabelFor(domain.RoleNegative), view.Negative)

	q, err := trades.Prepare(ctx, req)
	if err != nil {
		return err
	}
	printSummary(a.out, q.State, q.Summary)
	if !q.Allowed() {
		return blocked(q.Summary)
	}
	return nil
}

// LiveMode quotes the request, asks the operator to confirm unless yes is
// set, and submits. If the market moves between confirmation and submission
// the fresh quote is shown and must be confirmed again; with yes set a
// requote aborts instead.
func (a *App) LiveMode(ctx context.Context, trades *service.TradeService, req domain.OrderRequest, yes bool) error {
	q, err := trades.Prepare(ctx, req)
	if err != nil {
		return err
	}
	printSummary(a.out, q.State, q.Summary)
	if !q.Allowed() {
		return blocked(q.Summary)
	}

	reader := bufio.NewReader(a.in)
	for attempt := 0; ; attempt++ {
		if !yes && !a.confirm(reader) {
			fmt.Fprintln(a.out, "Cancelled. No order placed.")
			return nil
		}

		out, err := trades.Execute(ctx, q.Confirm())
		switch out.State {
		case domain.StateSubmitted:
			fmt.Fprintf(a.out, "\nSUBMITTED  order %s  status %s\n", out.OrderID, out.Status)
			return nil
		case domain.StateSubmitFailed:
			fmt.Fprintf(a.out, "\nSUBMIT_FAILED  %s\n", out.Error)
			return err
		case domain.StateBlocked:
			printSummary(a.out, out.State, out.Summary)
			return blocked(out.Summary)
		}
		if err != nil {
			return err
		}
		if out.Requote == nil {
			return fmt.Errorf("app: unexpected outcome state %s", out.State)
		}

		fmt.Fprintln(a.out, "\nThe market moved since you confirmed:")
		printSummary(a.out, out.Requote.State, out.Requote.Summary)
		if yes {
			return errors.New("app: market moved after confirmation; rerun to trade at the new quote")
		}
		if attempt+1 >= maxRequotes {
			return fmt.Errorf("app: market kept moving after %d confirmations", maxRequotes)
		}
		q = *out.Requote
	}
}

func (a *App) confirm(r *bufio.Reader) bool {
	fmt.Fprint(a.out, "\nProceed? [y/N] ")
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// OrdersMode lists the wallet's resting orders.
func (a *App) OrdersMode(ctx context.Context, deps *Dependencies) error {
	orders, err := NewOrderService(deps, a.logger).ListOpen(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Open orders (%d total)\n", len(orders))
	if len(orders) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOUTCOME\tSIDE\tMATCHED/SIZE\tPRICE\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
			o.ID, o.Outcome, o.Side, o.SizeMatched, o.OriginalSize, o.Price, o.Status)
	}
	return tw.Flush()
}

// CancelMode cancels one resting order.
func (a *App) CancelMode(ctx context.Context, deps *Dependencies, orderID string) error {
	if err := NewOrderService(deps, a.logger).Cancel(ctx, orderID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cancelled order %s\n", orderID)
	return nil
}

// HistoryMode prints the most recent journal rows.
func (a *App) HistoryMode(ctx context.Context, deps *Dependencies) error {
	if deps.Journal == nil {
		fmt.Fprintln(a.out, "Journal disabled (journal.driver is empty).")
		return nil
	}
	recs, err := NewOrderService(deps, a.logger).History(ctx, domain.ListOpts{})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATE\tSIDE\tOUTCOME\tTYPE\tSIZE\tAVG\tSLIPPAGE\tLEVEL\tORDER")
	for _, r := range recs {
		mode := ""
		if r.DryRun {
			mode = " (dry)"
		}
		fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.DateTime), r.State, mode, r.Side, r.Outcome, r.Kind,
			r.Size, fixed(r.AveragePrice, 4), pct(r.SlippagePct), r.Level, r.OrderID)
	}
	return tw.Flush()
}

// ServeMode runs the HTTP API until ctx is cancelled. Execute is only served
// when live is set.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies, live bool) error {
	g, ctx := errgroup.WithContext(ctx)

	mode := "dry_run"
	if live {
		mode = "live"
	}
	trades := NewTradeService(a.cfg, deps, a.logger)
	orders := NewOrderService(deps, a.logger)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channels:  []string{a.cfg.Redis.Channel},
			Mode:      mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPM: a.cfg.Server.RateLimitRPM,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(mode, a.logger),
		Window:  handler.NewWindowHandler(trades, a.logger),
		Trades:  handler.NewTradeHandler(trades, orders, live, a.logger),
		Orders:  handler.NewOrderHandler(orders, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "HTTP server listening",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("mode", mode),
		slog.Bool("ws", hub != nil),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ShowConfig prints the active configuration as TOML with secrets redacted.
func ShowConfig(w io.Writer, cfg *config.Config) error {
	return toml.NewEncoder(w).Encode(config.RedactedConfig(cfg))
}

// SetConfig applies KEY=VALUE updates to the config file at path.
func SetConfig(w io.Writer, path string, updates []string) error {
	if _, err := config.Set(path, updates); err != nil {
		return err
	}
	fmt.Fprintf(w, "Config updated (%s): %s\n", path, strings.Join(updates, ", "))
	return nil
}

// EncryptKey writes the wallet key to path as an encrypted key file. The key
// and password come from the configuration (and so the environment) or are
// read from in.
func EncryptKey(cfg *config.Config, path string, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	key := cfg.Wallet.PrivateKey
	if key == "" {
		fmt.Fprint(out, "Private key (hex): ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("app: read private key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	password := cfg.Wallet.KeyPassword
	if password == "" {
		fmt.Fprint(out, "Password: ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("app: read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	if password == "" {
		return errors.New("app: password must not be empty")
	}
	if err := crypto.WriteKeyFile(path, key, password); err != nil {
		return err
	}
	fmt.Fprintf(out, "Encrypted key written to %s. Set wallet.encrypted_key_path and POLY_KEY_PASSWORD to use it.\n", path)
	return nil
}

// --------------------------------------------------------------------------
// Output helpers
// --------------------------------------------------------------------------

func blocked(s domain.OrderSummary) error {
	return fmt.Errorf("%w: %s", ErrBlocked, s.Reason)
}

func fixed(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func pct(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2) + "%"
}

func printSummary(w io.Writer, state domain.TradeState, s domain.OrderSummary) {
	fmt.Fprintf(w, "\nWindow:     %s (id %s)\n", s.WindowTitle, s.WindowID)
	fmt.Fprintf(w, "Closes in:  %.0fs (%s)\n", s.SecondsRemaining, s.CloseTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Order:      %s %s %s\n", s.Side, s.Outcome, s.Kind)
	if s.LimitPrice.Valid {
		fmt.Fprintf(w, "Limit:      %s\n", s.LimitPrice.Decimal)
	}
	fmt.Fprintf(w, "Size:       %s shares\n", s.Size)
	fmt.Fprintf(w, "Best ask:   %s\n", fixed(s.BestPrice, 4))
	fmt.Fprintf(w, "Avg fill:   %s\n", fixed(s.AveragePrice, 4))
	fmt.Fprintf(w, "Fillable:   %s of %s\n", s.Filled, s.Size)
	fmt.Fprintf(w, "Slippage:   %s\n", pct(s.SlippagePct))
	if s.Override {
		fmt.Fprintln(w, "Override:   slippage block overridden")
	}
	verdict := string(s.Level)
	if s.Reason != "" {
		verdict += ": " + s.Reason
	}
	fmt.Fprintf(w, "Verdict:    %s\n", verdict)
	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warning)
	}
	fmt.Fprintf(w, "State:      %s\n", state)
}

func printBook(w io.Writer, label string, snap domain.DepthSnapshot) {
	fmt.Fprintf(w, "%s book\n", label)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BID SIZE\tBID\tASK\tASK SIZE\t")
	for i := 0; i < bookDepth; i++ {
		var bid, bidSize, ask, askSize string
		if i < len(snap.Bids) {
			bid, bidSize = snap.Bids[i].Price.String(), snap.Bids[i].Size.String()
		}
		if i < len(snap.Asks) {
			ask, askSize = snap.Asks[i].Price.String(), snap.Asks[i].Size.String()
		}
		if bid == "" && ask == "" {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", bidSize, bid, ask, askSize)
	}
	tw.Flush()
	fmt.Fprintf(w, "Ask depth:  %s shares\n\n", domain.Depth(snap.Asks))
}
