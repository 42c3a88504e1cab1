package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// setter parses a raw value into one Config field.
type setter func(cfg *Config, raw string) error

func floatField(get func(*Config) *float64) setter {
	return func(cfg *Config, raw string) error {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("expected a number: %w", err)
		}
		*get(cfg) = f
		return nil
	}
}

func intField(get func(*Config) *int) setter {
	return func(cfg *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected an integer: %w", err)
		}
		*get(cfg) = n
		return nil
	}
}

func stringField(get func(*Config) *string) setter {
	return func(cfg *Config, raw string) error {
		*get(cfg) = raw
		return nil
	}
}

// settable lists the keys Set accepts. The short names match the POLY_*
// environment variables without their prefix.
var settable = map[string]setter{
	"trading.default_size":       floatField(func(c *Config) *float64 { return &c.Trading.DefaultSize }),
	"trading.order_type":         stringField(func(c *Config) *string { return &c.Trading.OrderType }),
	"trading.slippage_warn":      floatField(func(c *Config) *float64 { return &c.Trading.SlippageWarn }),
	"trading.slippage_block":     floatField(func(c *Config) *float64 { return &c.Trading.SlippageBlock }),
	"trading.min_time_remaining": intField(func(c *Config) *int { return &c.Trading.MinTimeRemaining }),
	"trading.tick_size":          floatField(func(c *Config) *float64 { return &c.Trading.TickSize }),
	"polymarket.signature_type":  intField(func(c *Config) *int { return &c.Polymarket.SignatureType }),
	"polymarket.tag_id":          intField(func(c *Config) *int { return &c.Polymarket.TagID }),
	"polymarket.search":          stringField(func(c *Config) *string { return &c.Polymarket.Search }),
	"polymarket.book_source":     stringField(func(c *Config) *string { return &c.Polymarket.BookSource }),
	"polymarket.window_length": func(c *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("expected a duration: %w", err)
		}
		c.Polymarket.WindowLength = duration{d}
		return nil
	},
	"wallet.funder_address": stringField(func(c *Config) *string { return &c.Wallet.FunderAddress }),
	"journal.driver":        stringField(func(c *Config) *string { return &c.Journal.Driver }),
	"journal.sqlite_path":   stringField(func(c *Config) *string { return &c.Journal.SQLitePath }),
	"log.level":             stringField(func(c *Config) *string { return &c.Log.Level }),
	"log.file":              stringField(func(c *Config) *string { return &c.Log.File }),
}

var aliases = map[string]string{
	"default_size":       "trading.default_size",
	"order_type":         "trading.order_type",
	"slippage_warn":      "trading.slippage_warn",
	"slippage_block":     "trading.slippage_block",
	"min_time_remaining": "trading.min_time_remaining",
	"min_time":           "trading.min_time_remaining",
	"sig_type":           "polymarket.signature_type",
	"funder":             "wallet.funder_address",
}

// SettableKeys returns the accepted keys in sorted order.
func SettableKeys() []string {
	keys := make([]string, 0, len(settable))
	for k := range settable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set applies KEY=VALUE updates to the file at path and writes it back. Only
// the file and the defaults are consulted, so environment secrets are never
// written to disk. The file is left untouched if any update or the resulting
// config is invalid.
func Set(path string, updates []string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		key, raw, ok := strings.Cut(u, "=")
		if !ok {
			return nil, fmt.Errorf("config: set %q: expected KEY=VALUE", u)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if full, ok := aliases[key]; ok {
			key = full
		}
		apply, ok := settable[key]
		if !ok {
			return nil, fmt.Errorf("config: set: unknown key %q (valid: %s)", key, strings.Join(SettableKeys(), ", "))
		}
		if err := apply(&cfg, strings.TrimSpace(raw)); err != nil {
			return nil, fmt.Errorf("config: set %s: %w", key, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("config: write %s: %w", path, err)
	}
	return &cfg, nil
}
