// Package config defines the top-level configuration for the 5-minute window
// trader and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Trading    TradingConfig    `toml:"trading"`
	Journal    JournalConfig    `toml:"journal"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Log        LogConfig        `toml:"log"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and the
// window discovery query.
type PolymarketConfig struct {
	ClobHost      string   `toml:"clob_host"`
	GammaHost     string   `toml:"gamma_host"`
	WsHost        string   `toml:"ws_host"`
	ChainID       int      `toml:"chain_id"`
	SignatureType int      `toml:"signature_type"`
	ExchangeAddr  string   `toml:"exchange_address"`
	TagID         int      `toml:"tag_id"`
	Search        string   `toml:"search"`
	WindowLength  duration `toml:"window_length"`
	BookSource    string   `toml:"book_source"`
}

// TradingConfig holds the trade guard limits and order defaults.
type TradingConfig struct {
	DefaultSize      float64 `toml:"default_size"`
	OrderType        string  `toml:"order_type"`
	SlippageWarn     float64 `toml:"slippage_warn"`
	SlippageBlock    float64 `toml:"slippage_block"`
	MinTimeRemaining int     `toml:"min_time_remaining"`
	TickSize         float64 `toml:"tick_size"`
}

// MinRemaining returns MinTimeRemaining as a duration.
func (t TradingConfig) MinRemaining() time.Duration {
	return time.Duration(t.MinTimeRemaining) * time.Second
}

// JournalConfig selects where trade outcomes are recorded. An empty driver
// disables the journal.
type JournalConfig struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"`
}

// S3Config holds S3-compatible object storage parameters for the decision
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimitRPM int      `toml:"rate_limit_rpm"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig controls log level and optional rotated file output.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 1,
			ExchangeAddr:  "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			TagID:         100381,
			Search:        "bitcoin up or down",
			WindowLength:  duration{5 * time.Minute},
			BookSource:    "rest",
		},
		Trading: TradingConfig{
			DefaultSize:      25.0,
			OrderType:        "GTC",
			SlippageWarn:     3.0,
			SlippageBlock:    5.0,
			MinTimeRemaining: 30,
			TickSize:         0.01,
		},
		Journal: JournalConfig{
			Driver:        "sqlite",
			SQLitePath:    "btc5m.db",
			PoolMaxConns:  4,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Channel:    "trades",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "btc5m-decisions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimitRPM: 60,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_submitted", "trade_failed"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Wallet credentials are only
// checked by ValidateLive since dry runs never sign.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	// Polymarket
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.WindowLength.Duration <= 0 {
		errs = append(errs, "polymarket: window_length must be positive")
	}
	switch c.Polymarket.BookSource {
	case "rest", "ws":
	default:
		errs = append(errs, fmt.Sprintf("polymarket: book_source must be rest or ws, got %q", c.Polymarket.BookSource))
	}

	// Trading
	t := c.Trading
	if t.DefaultSize <= 0 {
		errs = append(errs, "trading: default_size must be > 0")
	}
	switch strings.ToUpper(t.OrderType) {
	case "GTC", "FOK":
	default:
		errs = append(errs, fmt.Sprintf("trading: order_type must be GTC or FOK, got %q", t.OrderType))
	}
	if t.SlippageWarn < 0 {
		errs = append(errs, "trading: slippage_warn must be >= 0")
	}
	if t.SlippageBlock < t.SlippageWarn {
		errs = append(errs, fmt.Sprintf("trading: slippage_block (%.2f) must be >= slippage_warn (%.2f)", t.SlippageBlock, t.SlippageWarn))
	}
	if t.MinTimeRemaining < 0 {
		errs = append(errs, "trading: min_time_remaining must be >= 0")
	}
	if t.TickSize <= 0 || t.TickSize >= 1 {
		errs = append(errs, "trading: tick_size must be in (0,1)")
	}

	// Journal
	switch c.Journal.Driver {
	case "":
	case "sqlite":
		if c.Journal.SQLitePath == "" {
			errs = append(errs, "journal: sqlite_path must not be empty for driver sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Journal.DSN) == "" {
			errs = append(errs, "journal: dsn must be set for driver postgres")
		}
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal: unknown driver %q (valid: sqlite, postgres, or empty)", c.Journal.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateLive checks the extra settings needed to sign and post orders.
func (c *Config) ValidateLive() error {
	var errs []string
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key (POLY_PRIVATE_KEY) or encrypted_key_path must be set for live trading")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Polymarket.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		errs = append(errs, "wallet: funder_address (POLY_FUNDER) is required for proxy and Safe signature types")
	}
	if c.Polymarket.ExchangeAddr == "" {
		errs = append(errs, "polymarket: exchange_address must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
