package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/btc5mtrader/internal/blob/s3"
	"github.com/alanyoungcy/btc5mtrader/internal/cache/redis"
	"github.com/alanyoungcy/btc5mtrader/internal/config"
	"github.com/alanyoungcy/btc5mtrader/internal/crypto"
	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/guard"
	"github.com/alanyoungcy/btc5mtrader/internal/metrics"
	"github.com/alanyoungcy/btc5mtrader/internal/notify"
	"github.com/alanyoungcy/btc5mtrader/internal/platform/polymarket"
	"github.com/alanyoungcy/btc5mtrader/internal/service"
	"github.com/alanyoungcy/btc5mtrader/internal/store/postgres"
	"github.com/alanyoungcy/btc5mtrader/internal/store/sqlite"
)

// Dependencies bundles every concrete collaborator the commands need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional parts are nil when disabled in the configuration.
type Dependencies struct {
	// Venue
	Gamma    *polymarket.GammaClient
	Books    service.BookSource
	Exchange *polymarket.Exchange // nil unless wired for signing

	// Persistence
	Journal domain.TradeJournal

	// Redis
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	Archive domain.DecisionArchiver

	// Notifications and measurements
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that should be called on
// shutdown to release resources. When signing is true the wallet key is
// loaded and L2 credentials are derived from the venue.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, signing bool) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
	}

	// --- Polymarket ---
	pm := cfg.Polymarket
	deps.Gamma = polymarket.NewGammaClient(pm.GammaHost, pm.TagID, pm.Search).WithLogger(logger)

	var signer *crypto.Signer
	if signing {
		key, err := crypto.LoadKey(crypto.KeySource{
			Raw:      cfg.Wallet.PrivateKey,
			Path:     cfg.Wallet.EncryptedKeyPath,
			Password: cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		signer, err = crypto.NewSigner(key, pm.ChainID, pm.ExchangeAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
	}

	clob := polymarket.NewClobClient(pm.ClobHost, signer)
	if signer != nil {
		if _, err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		deps.Exchange = polymarket.NewExchange(clob, signer, cfg.Wallet.FunderAddress, pm.SignatureType)
		logger.InfoContext(ctx, "wire: signing enabled",
			slog.String("signer", signer.Address().Hex()),
			slog.Int("signature_type", pm.SignatureType),
		)
	}

	if pm.BookSource == "ws" {
		deps.Books = polymarket.NewWSBookSource(pm.WsHost)
	} else {
		deps.Books = clob
	}

	// --- Trade journal ---
	switch cfg.Journal.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Journal.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Journal = store

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			MaxConns: cfg.Journal.PoolMaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Journal.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 decision archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewDecisionArchive(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// Thresholds converts the trading config into guard limits.
func Thresholds(t config.TradingConfig) guard.Thresholds {
	return guard.Thresholds{
		MinTimeRemaining: t.MinRemaining(),
		SlippageWarn:     decimal.NewFromFloat(t.SlippageWarn),
		SlippageBlock:    decimal.NewFromFloat(t.SlippageBlock),
	}
}

// NewTradeService assembles the trade pipeline over deps. Without an
// exchange the service can quote but not execute.
func NewTradeService(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *service.TradeService {
	resolver := service.NewResolver(deps.Gamma, cfg.Polymarket.WindowLength.Duration, logger)
	depth := service.NewDepthFetcher(deps.Books)

	var exec service.Executor
	if deps.Exchange != nil {
		exec = deps.Exchange
	}

	svc := service.NewTradeService(
		resolver, depth, exec,
		Thresholds(cfg.Trading),
		decimal.NewFromFloat(cfg.Trading.TickSize),
		logger,
	).WithDryRun(deps.Exchange == nil)

	if deps.Journal != nil {
		svc.WithJournal(deps.Journal)
	}
	if deps.SignalBus != nil {
		svc.WithSignalBus(deps.SignalBus, cfg.Redis.Channel)
	}
	if deps.Archive != nil {
		svc.WithArchiver(deps.Archive)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		svc.WithNotifier(deps.Notifier)
	}
	if deps.Metrics != nil {
		svc.WithMetrics(deps.Metrics)
	}
	return svc
}

// NewOrderService assembles resting-order management and journal history.
func NewOrderService(deps *Dependencies, logger *slog.Logger) *service.OrderService {
	var exec service.Executor
	if deps.Exchange != nil {
		exec = deps.Exchange
	}
	svc := service.NewOrderService(exec, logger)
	if deps.Journal != nil {
		svc.WithJournal(deps.Journal)
	}
	return svc
}
