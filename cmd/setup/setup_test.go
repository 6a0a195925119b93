package setup

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/p2pquotes/config"
	"github.com/sig-0/p2pquotes/ingest"
	"github.com/sig-0/p2pquotes/provider/binance"
	"github.com/sig-0/p2pquotes/provider/currencies"
	"github.com/sig-0/p2pquotes/provider/fx"
	"github.com/sig-0/p2pquotes/storage/memory"
	"github.com/sig-0/p2pquotes/storage/types"
)

func TestSetup_Sources(t *testing.T) {
	t.Parallel()

	t.Run("default sources", func(t *testing.T) {
		t.Parallel()

		sources, err := Sources(config.DefaultConfig())
		require.NoError(t, err)
		require.Len(t, sources, 2)

		assert.Equal(t, types.SourceBybit, sources[0].Adapter.Source())
		assert.Equal(t, types.Query{
			Asset: currencies.USDT,
			Fiat:  currencies.NGN,
			Side:  types.SideBUY,
		}, sources[0].Query)
		assert.Equal(t, ingest.BybitRetryPolicy, sources[0].Policy)

		assert.Equal(t, types.SourceBinance, sources[1].Adapter.Source())
		assert.Equal(t, currencies.EUR, sources[1].Query.Fiat)
		assert.Equal(t, ingest.BinanceRetryPolicy, sources[1].Policy)
	})

	t.Run("disabled source", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		cfg.Bybit.Enabled = false
		cfg.Pipeline.Side = "sell"
		cfg.Pipeline.Token = "usdc"

		sources, err := Sources(cfg)
		require.NoError(t, err)
		require.Len(t, sources, 1)

		assert.Equal(t, types.SourceBinance, sources[0].Adapter.Source())
		assert.Equal(t, types.SideSELL, sources[0].Query.Side)
		assert.Equal(t, currencies.USDC, sources[0].Query.Asset)
	})

	t.Run("binance requests carry the origin", func(t *testing.T) {
		t.Parallel()

		origins := make(chan string, 1)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origins <- r.Header.Get("Origin")

			_, _ = w.Write([]byte(`{"code":"000000","data":[]}`))
		}))
		defer srv.Close()

		cfg := config.DefaultConfig()
		cfg.Bybit.Enabled = false
		cfg.Binance.URL = srv.URL

		sources, err := Sources(cfg)
		require.NoError(t, err)
		require.Len(t, sources, 1)

		res, err := sources[0].Adapter.Fetch(context.Background(), sources[0].Query)
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, binance.Origin, <-origins)
	})

	t.Run("invalid side", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		cfg.Pipeline.Side = "HOLD"

		_, err := Sources(cfg)

		assert.ErrorIs(t, err, types.ErrUnknownSide)
	})
}

func TestSetup_RateSource(t *testing.T) {
	t.Parallel()

	t.Run("fixed peg", func(t *testing.T) {
		t.Parallel()

		rate, err := RateSource(config.DefaultExchangeRateConfig()).GetRate(
			context.Background(),
			currencies.EUR,
			currencies.XAF,
		)
		require.NoError(t, err)

		assert.Equal(t, fx.EURXAF, rate)
	})

	t.Run("uncached without a TTL", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultExchangeRateConfig()
		cfg.CacheTTLSec = 0

		_, ok := RateSource(cfg).(fx.Chain)

		assert.True(t, ok)
	})

	t.Run("unknown pair without a scraper", func(t *testing.T) {
		t.Parallel()

		_, err := RateSource(config.DefaultExchangeRateConfig()).GetRate(
			context.Background(),
			currencies.USD,
			currencies.NGN,
		)

		assert.ErrorIs(t, err, fx.ErrUnavailable)
	})
}

func TestSetup_Pipeline(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Name = "ngn-xaf"
	cfg.Pipeline.IntervalSec = 60

	p, err := Pipeline(memory.NewStorage(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Equal(t, "ngn-xaf", p.Name())
	assert.Equal(t, time.Minute, p.Interval())
}

func TestSetup_LoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults without a path", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, config.DefaultConfig(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfig(t.TempDir() + "/missing.toml")

		assert.Error(t, err)
	})
}
