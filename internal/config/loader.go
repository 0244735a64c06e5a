package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARGINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARGINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Exchange.BaseURL, "MARGINBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "MARGINBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "MARGINBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "MARGINBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "MARGINBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "MARGINBOT_EXCHANGE_SECRET_PASSWORD")
	setStr(&cfg.Exchange.QuoteAsset, "MARGINBOT_EXCHANGE_QUOTE_ASSET")
	setInt(&cfg.Exchange.TimeoutSec, "MARGINBOT_EXCHANGE_TIMEOUT_SEC")

	setStr(&cfg.Postgres.DSN, "MARGINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARGINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARGINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARGINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARGINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARGINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARGINBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARGINBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARGINBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARGINBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MARGINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGINBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.PriceTTLSec, "MARGINBOT_REDIS_PRICE_TTL_SEC")

	setBool(&cfg.S3.Enabled, "MARGINBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARGINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGINBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGINBOT_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Engine.Strategy, "MARGINBOT_ENGINE_STRATEGY")
	setStrSlice(&cfg.Engine.Symbols, "MARGINBOT_ENGINE_SYMBOLS")
	setInt(&cfg.Engine.SettleDelayMs, "MARGINBOT_ENGINE_SETTLE_DELAY_MS")
	setInt(&cfg.Engine.VerifyDelayMs, "MARGINBOT_ENGINE_VERIFY_DELAY_MS")
	setInt(&cfg.Engine.VerifyMaxAttempts, "MARGINBOT_ENGINE_VERIFY_MAX_ATTEMPTS")
	setInt(&cfg.Engine.ReconcileIntervalSec, "MARGINBOT_ENGINE_RECONCILE_INTERVAL_SEC")

	setBool(&cfg.Journal.Enabled, "MARGINBOT_JOURNAL_ENABLED")
	setStr(&cfg.Journal.Prefix, "MARGINBOT_JOURNAL_PREFIX")
	setInt(&cfg.Journal.IntervalMinutes, "MARGINBOT_JOURNAL_INTERVAL_MINUTES")
	setInt(&cfg.Journal.LookbackHours, "MARGINBOT_JOURNAL_LOOKBACK_HOURS")

	setStr(&cfg.Mode, "MARGINBOT_MODE")
	setStr(&cfg.LogLevel, "MARGINBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
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
