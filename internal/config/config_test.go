package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "run"
log_level = "debug"

[exchange]
api_key = "k"
api_secret = "czNjcjN0"

[engine]
strategy = "ema_cross"
symbols = ["XETHZUSD"]

[instruments.XETHZUSD]
size_precision = 3
max_size = 5.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ema_cross", cfg.Engine.Strategy)
	// Defaults survive where the file is silent.
	assert.Equal(t, "https://api.kraken.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 5, cfg.Engine.VerifyMaxAttempts)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[exchange]
api_key = "from-file"
api_secret = "czNjcjN0"

[engine]
symbols = ["XETHZUSD"]
`)

	t.Setenv("MARGINBOT_EXCHANGE_API_KEY", "from-env")
	t.Setenv("MARGINBOT_ENGINE_VERIFY_MAX_ATTEMPTS", "9")
	t.Setenv("MARGINBOT_ENGINE_SYMBOLS", "XXBTZUSD, XETHZUSD")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Exchange.ApiKey)
	assert.Equal(t, 9, cfg.Engine.VerifyMaxAttempts)
	assert.Equal(t, []string{"XXBTZUSD", "XETHZUSD"}, cfg.Engine.Symbols)
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Symbols = []string{"XETHZUSD"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidateJournalRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.ApiKey = "k"
	cfg.Exchange.ApiSecret = "s"
	cfg.Engine.Symbols = []string{"XETHZUSD"}
	cfg.Journal.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")
}

func TestInstrumentLookupFallsBackToDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Instruments["XETHZUSD"] = InstrumentConfig{SizePrecision: 4, MaxSize: 10}

	known := cfg.Instrument("XETHZUSD")
	assert.Equal(t, 4, known.SizePrecision)
	assert.Equal(t, 10.0, known.MaxSize)
	// Unset fields are backfilled.
	assert.Equal(t, 2, known.PricePrecision)

	unknown := cfg.Instrument("XXBTZUSD")
	assert.Equal(t, 2, unknown.SizePrecision)
	assert.Zero(t, unknown.MaxSize)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.ApiKey = "key"
	cfg.Exchange.ApiSecret = "secret"
	cfg.Postgres.Password = "pw"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Exchange.ApiKey)
	assert.Equal(t, "***", red.Exchange.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	// The original is untouched.
	assert.Equal(t, "key", cfg.Exchange.ApiKey)
}
