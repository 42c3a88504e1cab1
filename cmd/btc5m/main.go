// Command btc5m trades the rotating "Bitcoin Up or Down - 5 minute" market.
// By default it resolves the active window, simulates the fill against the
// live book and prints the guard's verdict without placing an order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/btc5mtrader/internal/app"
	"github.com/alanyoungcy/btc5mtrader/internal/config"
	"github.com/alanyoungcy/btc5mtrader/internal/logging"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cmd        app.Command
		sets       multiFlag
		configPath = flag.String("config", "config.toml", "path to configuration file")
		showConfig = flag.Bool("show-config", false, "print the active configuration (secrets redacted)")
		encryptKey = flag.String("encrypt-key", "", "write the wallet key to `FILE` as an encrypted key file")
	)
	flag.BoolVar(&cmd.Live, "live", false, "sign and submit the order (default: dry run)")
	flag.BoolVar(&cmd.Yes, "yes", false, "skip the confirmation prompt in live mode")
	flag.BoolVar(&cmd.Book, "book", false, "show both outcome books and the simulated fill, no order")
	flag.BoolVar(&cmd.Orders, "orders", false, "list open orders")
	flag.StringVar(&cmd.Cancel, "cancel", "", "cancel the order with this `ID`")
	flag.BoolVar(&cmd.History, "history", false, "show recent trade journal rows")
	flag.BoolVar(&cmd.Serve, "serve", false, "run the HTTP API")
	flag.StringVar(&cmd.Side, "side", "BUY", "BUY buys the Up outcome, SELL buys the Down outcome")
	flag.StringVar(&cmd.Price, "price", "", "limit price for GTC orders, e.g. 0.55")
	flag.StringVar(&cmd.Size, "size", "", "order size in shares (default from config)")
	flag.StringVar(&cmd.OrderType, "type", "", "GTC or FOK (default from config)")
	flag.BoolVar(&cmd.Force, "force", false, "override a slippage block")
	flag.Var(&sets, "set", "update a config `KEY=VALUE` (repeatable)")
	flag.Parse()

	if len(sets) > 0 {
		if err := app.SetConfig(os.Stdout, *configPath, sets); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger, closer := logging.New(cfg.Log, os.Stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	switch {
	case *showConfig:
		if err := app.ShowConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	case *encryptKey != "":
		if err := app.EncryptKey(cfg, *encryptKey, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx, cmd); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted")
			return 1
		}
		if errors.Is(err, app.ErrBlocked) {
			fmt.Fprintf(os.Stderr, "\nBLOCKED: %v\n", err)
			return 1
		}
		logger.Error("command failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
