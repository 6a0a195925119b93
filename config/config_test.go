package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/p2pquotes/storage/types"
)

func TestConfig_ValidateConfig(t *testing.T) {
	t.Parallel()

	t.Run("invalid listen address", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Server.ListenAddress = "rando-address" // doesn't follow the format

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidListenAddress)
	})

	t.Run("invalid interval", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Pipeline.IntervalSec = 0

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidInterval)
	})

	t.Run("unknown side", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Pipeline.Side = "HOLD"

		assert.ErrorIs(t, ValidateConfig(cfg), types.ErrUnknownSide)
	})

	t.Run("unknown ladder source", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Pipeline.LowSource = "KRAKEN"

		assert.ErrorIs(t, ValidateConfig(cfg), types.ErrUnknownSource)
	})

	t.Run("markup at -100%", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Pipeline.Markups = []float64{1, -100}

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidMarkup)
	})

	t.Run("unordered markups", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Pipeline.Markups = []float64{3, 1}

		assert.ErrorIs(t, ValidateConfig(cfg), ErrUnorderedMarkups)

		cfg.Pipeline.Markups = []float64{1, 2, 2}

		assert.ErrorIs(t, ValidateConfig(cfg), ErrUnorderedMarkups)
	})

	t.Run("redis history below one", func(t *testing.T) {
		t.Parallel()

		for _, history := range []int{0, -5} {
			cfg := DefaultConfig()
			cfg.Redis.History = history

			assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidHistory)
		}
	})

	t.Run("no sources enabled", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Bybit.Enabled = false
		cfg.Binance.Enabled = false

		assert.ErrorIs(t, ValidateConfig(cfg), ErrNoSourcesEnabled)
	})

	t.Run("bybit without a renderer", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Bybit.RenderEndpoint = ""

		assert.ErrorIs(t, ValidateConfig(cfg), ErrMissingRenderer)

		// Not needed once bybit is off
		cfg.Bybit.Enabled = false

		assert.NoError(t, ValidateConfig(cfg))
	})

	t.Run("zero attempts", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Binance.Retry.MaxAttempts = 0

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidRetry)
	})

	t.Run("invalid paging", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.Binance.Pages = 0

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidPaging)
	})

	t.Run("missing rate pair", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.ExchangeRate.To = ""

		assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidRatePair)
	})

	t.Run("valid configuration", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, ValidateConfig(DefaultConfig()))
	})
}

func TestConfig_Read(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := Read(filepath.Join(t.TempDir(), "missing.toml"))

		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("partial file keeps section defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.toml")

		content := `
[pipeline]
name = "ngn-xaf"
token = "USDT"
side = "SELL"
high_source = "BINANCE"
low_source = "BYBIT"
markups = [1.0, 2.0]
interval_sec = 600
run_timeout_sec = 120
max_quote_age_sec = 900

[binance]
enabled = true
fiat = "EUR"
rows = 20
pages = 1

[binance.retry]
max_attempts = 2
backoff_ms = 100
attempt_timeout_sec = 10
`

		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Read(path)
		require.NoError(t, err)

		assert.Equal(t, "ngn-xaf", cfg.Pipeline.Name)
		assert.Equal(t, "SELL", cfg.Pipeline.Side)
		assert.Equal(t, []float64{1, 2}, cfg.Pipeline.Markups)
		assert.Equal(t, 600, cfg.Pipeline.IntervalSec)

		assert.Equal(t, 20, cfg.Binance.Rows)
		assert.Equal(t, 2, cfg.Binance.Retry.MaxAttempts)

		// Sections that were left out
		assert.Equal(t, DefaultServerConfig(), cfg.Server)
		assert.Equal(t, DefaultBybitConfig(), cfg.Bybit)
		assert.Equal(t, DefaultExchangeRateConfig(), cfg.ExchangeRate)
		assert.Equal(t, DefaultRedisConfig(), cfg.Redis)

		assert.NoError(t, ValidateConfig(cfg))
	})

	t.Run("malformed file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.toml")

		require.NoError(t, os.WriteFile(path, []byte("[pipeline\nname = "), 0o600))

		_, err := Read(path)

		assert.Error(t, err)
	})
}
