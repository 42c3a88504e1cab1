package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLY_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults and
// environment are used as-is. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// readFile decodes path over the defaults without consulting the environment.
func readFile(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides reads well-known POLY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLY_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLY_FUNDER")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLY_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLY_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLY_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLY_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLY_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLY_SIG_TYPE")
	setStr(&cfg.Polymarket.ExchangeAddr, "POLY_EXCHANGE_ADDRESS")
	setInt(&cfg.Polymarket.TagID, "POLY_TAG_ID")
	setStr(&cfg.Polymarket.Search, "POLY_SEARCH")
	setDuration(&cfg.Polymarket.WindowLength, "POLY_WINDOW_LENGTH")
	setStr(&cfg.Polymarket.BookSource, "POLY_BOOK_SOURCE")

	// ── Trading ──
	setFloat64(&cfg.Trading.DefaultSize, "POLY_DEFAULT_SIZE")
	setStr(&cfg.Trading.OrderType, "POLY_ORDER_TYPE")
	setFloat64(&cfg.Trading.SlippageWarn, "POLY_SLIPPAGE_WARN")
	setFloat64(&cfg.Trading.SlippageBlock, "POLY_SLIPPAGE_BLOCK")
	setInt(&cfg.Trading.MinTimeRemaining, "POLY_MIN_TIME")
	setFloat64(&cfg.Trading.TickSize, "POLY_TICK_SIZE")

	// ── Journal ──
	setStr(&cfg.Journal.Driver, "POLY_JOURNAL_DRIVER")
	setStr(&cfg.Journal.SQLitePath, "POLY_JOURNAL_SQLITE_PATH")
	setStr(&cfg.Journal.DSN, "POLY_JOURNAL_DSN")
	setInt(&cfg.Journal.PoolMaxConns, "POLY_JOURNAL_POOL_MAX_CONNS")
	setBool(&cfg.Journal.RunMigrations, "POLY_JOURNAL_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLY_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "POLY_REDIS_CHANNEL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLY_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLY_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLY_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitRPM, "POLY_SERVER_RATE_LIMIT_RPM")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLY_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Level, "POLY_LOG_LEVEL")
	setStr(&cfg.Log.File, "POLY_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
