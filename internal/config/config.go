// Package config defines the top-level configuration for the margin trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARGINBOT_* environment
// variables.
type Config struct {
	Exchange    ExchangeConfig              `toml:"exchange"`
	Postgres    PostgresConfig              `toml:"postgres"`
	Redis       RedisConfig                 `toml:"redis"`
	S3          S3Config                    `toml:"s3"`
	Engine      EngineConfig                `toml:"engine"`
	Journal     JournalConfig               `toml:"journal"`
	Instruments map[string]InstrumentConfig `toml:"instruments"`
	Mode        string                      `toml:"mode"`
	LogLevel    string                      `toml:"log_level"`
}

// ExchangeConfig holds venue endpoints and API credentials.
type ExchangeConfig struct {
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	QuoteAsset          string `toml:"quote_asset"`
	TimeoutSec          int    `toml:"timeout_sec"`
}

// PostgresConfig holds PostgreSQL connection parameters for the position
// ledger.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the mark-price cache.
type RedisConfig struct {
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	PoolSize    int    `toml:"pool_size"`
	MaxRetries  int    `toml:"max_retries"`
	TLSEnabled  bool   `toml:"tls_enabled"`
	PriceTTLSec int    `toml:"price_ttl_sec"`
}

// S3Config holds S3-compatible object storage parameters for the
// closed-position journal.
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

// EngineConfig holds order-engine parameters.
type EngineConfig struct {
	// Strategy is the strategy identifier written to ledger records.
	Strategy string `toml:"strategy"`
	// Symbols is the set of instruments the reconciliation loop covers.
	Symbols []string `toml:"symbols"`
	// SettleDelayMs is the initial wait before the first verification poll;
	// the venue accepts orders asynchronously and an immediate status query
	// can spuriously report "not found".
	SettleDelayMs int `toml:"settle_delay_ms"`
	// VerifyDelayMs is the fixed delay between verification polls.
	VerifyDelayMs int `toml:"verify_delay_ms"`
	// VerifyMaxAttempts bounds the number of verification polls per order.
	VerifyMaxAttempts int `toml:"verify_max_attempts"`
	// ReconcileIntervalSec is the period of the background reconcile loop.
	ReconcileIntervalSec int `toml:"reconcile_interval_sec"`
}

// JournalConfig controls the closed-position journal uploads.
type JournalConfig struct {
	Enabled         bool   `toml:"enabled"`
	Prefix          string `toml:"prefix"`
	IntervalMinutes int    `toml:"interval_minutes"`
	LookbackHours   int    `toml:"lookback_hours"`
}

// InstrumentConfig holds per-instrument precision and safety limits. These
// are static lookup tables maintained by operators, not computed.
type InstrumentConfig struct {
	// WsPair is the pair name used by the public WebSocket feed (for example
	// "ETH/USD" for the REST symbol "XETHZUSD"). Leave empty to exclude the
	// instrument from the ticker feed.
	WsPair         string  `toml:"ws_pair"`
	PricePrecision int     `toml:"price_precision"`
	SizePrecision  int     `toml:"size_precision"`
	MinSize        float64 `toml:"min_size"`
	MaxSize        float64 `toml:"max_size"`
	RiskPct        float64 `toml:"risk_pct"`
	StopPct        float64 `toml:"stop_pct"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:    "https://api.kraken.com",
			WsURL:      "wss://ws.kraken.com",
			QuoteAsset: "ZUSD",
			TimeoutSec: 30,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "marginbot",
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    8,
			PriceTTLSec: 30,
		},
		Engine: EngineConfig{
			Strategy:             "default",
			SettleDelayMs:        1500,
			VerifyDelayMs:        1000,
			VerifyMaxAttempts:    5,
			ReconcileIntervalSec: 60,
		},
		Journal: JournalConfig{
			Prefix:          "journal",
			IntervalMinutes: 60,
			LookbackHours:   24,
		},
		Instruments: map[string]InstrumentConfig{},
		Mode:        "run",
		LogLevel:    "info",
	}
}

// defaultInstrument is used for symbols with no explicit table entry.
var defaultInstrument = InstrumentConfig{
	PricePrecision: 2,
	SizePrecision:  2,
	RiskPct:        1,
	StopPct:        2,
}

// Instrument returns the lookup-table entry for symbol, falling back to the
// defaults for any field left unset.
func (c *Config) Instrument(symbol string) InstrumentConfig {
	ic, ok := c.Instruments[symbol]
	if !ok {
		return defaultInstrument
	}
	if ic.PricePrecision == 0 {
		ic.PricePrecision = defaultInstrument.PricePrecision
	}
	if ic.SizePrecision == 0 {
		ic.SizePrecision = defaultInstrument.SizePrecision
	}
	if ic.RiskPct == 0 {
		ic.RiskPct = defaultInstrument.RiskPct
	}
	if ic.StopPct == 0 {
		ic.StopPct = defaultInstrument.StopPct
	}
	return ic
}

// Validate checks the configuration for fatal problems. Missing exchange
// credentials are a startup error: every private endpoint needs them.
func (c *Config) Validate() error {
	var problems []string

	if c.Exchange.ApiKey == "" {
		problems = append(problems, "exchange.api_key is required")
	}
	if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
		problems = append(problems, "exchange.api_secret or exchange.encrypted_secret_path is required")
	}
	if c.Exchange.BaseURL == "" {
		problems = append(problems, "exchange.base_url is required")
	}
	if c.Engine.Strategy == "" {
		problems = append(problems, "engine.strategy is required")
	}
	if c.Engine.VerifyMaxAttempts < 1 {
		problems = append(problems, "engine.verify_max_attempts must be at least 1")
	}
	if c.Mode == "run" && len(c.Engine.Symbols) == 0 {
		problems = append(problems, "engine.symbols must not be empty in run mode")
	}
	if c.Journal.Enabled && !c.S3.Enabled {
		problems = append(problems, "journal.enabled requires s3.enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "s3.bucket is required when s3 is enabled")
	}

	for sym, ic := range c.Instruments {
		if ic.MinSize < 0 || ic.MaxSize < 0 {
			problems = append(problems, fmt.Sprintf("instruments.%s: sizes must not be negative", sym))
		}
		if ic.MaxSize > 0 && ic.MinSize > ic.MaxSize {
			problems = append(problems, fmt.Sprintf("instruments.%s: min_size exceeds max_size", sym))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
