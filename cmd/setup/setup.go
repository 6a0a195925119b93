// Package setup wires the pipeline, its sources and its exporters from the config
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sig-0/p2pquotes/cmd/env"
	"github.com/sig-0/p2pquotes/config"
	"github.com/sig-0/p2pquotes/export"
	"github.com/sig-0/p2pquotes/ingest"
	"github.com/sig-0/p2pquotes/provider/binance"
	"github.com/sig-0/p2pquotes/provider/bybit"
	"github.com/sig-0/p2pquotes/provider/fx"
	"github.com/sig-0/p2pquotes/provider/httpx"
	"github.com/sig-0/p2pquotes/provider/render"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/sql"
	"github.com/sig-0/p2pquotes/storage/types"
)

const (
	pingTimeout = 5 * time.Second
	rateTimeout = 15 * time.Second
)

// LoadConfig reads the TOML configuration at path, if any, and validates it
func LoadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if path != "" {
		read, err := config.Read(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config, %w", err)
		}

		cfg = read
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration, %w", err)
	}

	return cfg, nil
}

// Sources creates the enabled source adapters and their queries
func Sources(cfg *config.Config) ([]ingest.SourceConfig, error) {
	side, err := types.ParseSide(cfg.Pipeline.Side)
	if err != nil {
		return nil, err
	}

	token := types.Currency(strings.ToUpper(cfg.Pipeline.Token))

	sources := make([]ingest.SourceConfig, 0, 2)

	if b := cfg.Bybit; b.Enabled {
		// The renderer does its own waiting, so the client must outlast the selector timeout
		client := httpx.New(config.Seconds(b.RenderTimeoutSec))

		adapter := bybit.NewAdapter(
			render.NewRemote(client, b.RenderEndpoint),
			bybit.WithURL(b.URL),
			bybit.WithWaitTimeout(config.Seconds(b.WaitTimeoutSec)),
			bybit.WithSettleDelay(config.Millis(b.SettleDelayMs)),
		)

		sources = append(sources, ingest.SourceConfig{
			Adapter: adapter,
			Query: types.Query{
				Asset: token,
				Fiat:  types.Currency(strings.ToUpper(b.Fiat)),
				Side:  side,
			},
			Policy: policy(b.Retry),
		})
	}

	if b := cfg.Binance; b.Enabled {
		client := httpx.New(
			config.Seconds(b.RequestTimeoutSec),
			httpx.WithHeaders(map[string]string{"Origin": binance.Origin}),
		)

		adapter := binance.NewAdapter(
			client,
			binance.WithURL(b.URL),
			binance.WithPaging(b.Rows, b.Pages),
			binance.WithMerchantCheck(b.MerchantCheck),
			binance.WithPayTypes(b.PayTypes),
		)

		sources = append(sources, ingest.SourceConfig{
			Adapter: adapter,
			Query: types.Query{
				Asset: token,
				Fiat:  types.Currency(strings.ToUpper(b.Fiat)),
				Side:  side,
			},
			Policy: policy(b.Retry),
		})
	}

	return sources, nil
}

func policy(r config.Retry) ingest.RetryPolicy {
	return ingest.RetryPolicy{
		MaxAttempts:    r.MaxAttempts,
		Backoff:        config.Millis(r.BackoffMs),
		AttemptTimeout: config.Seconds(r.AttemptTimeoutSec),
	}
}

// RateSource creates the base exchange rate source.
// Fixed pegs are tried first, then the converter page, if configured
func RateSource(cfg *config.ExchangeRate) fx.RateSource {
	chain := fx.Chain{fx.DefaultFixed()}

	if cfg.ScraperURL != "" {
		chain = append(chain, fx.NewScraper(
			httpx.New(rateTimeout),
			cfg.ScraperURL,
			cfg.ScraperSelector,
		))
	}

	if cfg.CacheTTLSec <= 0 {
		return chain
	}

	return fx.NewCached(chain, config.Seconds(cfg.CacheTTLSec), nil)
}

// Pipeline creates the pipeline job over the configured sources
func Pipeline(
	store storage.Storage,
	cfg *config.Config,
	logger *slog.Logger,
	exporters ...ingest.Exporter,
) (*ingest.Pipeline, error) {
	sources, err := Sources(cfg)
	if err != nil {
		return nil, err
	}

	p := cfg.Pipeline

	// Validated beforehand
	high, _ := types.ParseSource(p.HighSource)
	low, _ := types.ParseSource(p.LowSource)

	return ingest.NewPipeline(
		store,
		sources,
		ingest.WithPipelineLogger(logger),
		ingest.WithRateSource(RateSource(cfg.ExchangeRate)),
		ingest.WithBasePair(
			types.Currency(strings.ToUpper(cfg.ExchangeRate.From)),
			types.Currency(strings.ToUpper(cfg.ExchangeRate.To)),
		),
		ingest.WithLadder(high, low, p.Markups),
		ingest.WithSchedule(p.Name, config.Seconds(p.IntervalSec)),
		ingest.WithRunTimeout(config.Seconds(p.RunTimeoutSec)),
		ingest.WithMaxQuoteAge(config.Seconds(p.MaxQuoteAgeSec)),
		ingest.WithExporters(exporters...),
	)
}

// SQLStore opens a pool to the DB in the DSN env var, and checks it is reachable
func SQLStore(ctx context.Context, logger *slog.Logger) (*sql.Storage, func(), error) {
	dsn := os.Getenv(env.DBURL())
	if dsn == "" {
		return nil, nil, fmt.Errorf("missing %s", env.DBURL())
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open DB connection: %w", err)
	}

	// Check DB reachability
	pingCtx, cancelPing := context.WithTimeout(ctx, pingTimeout)
	defer cancelPing()

	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()

		return nil, nil, fmt.Errorf("unable to reach DB (ping): %w", err)
	}

	logger.Info("DB ping success")

	return sql.NewStorage(pool), pool.Close, nil
}

// Redis creates the Redis exporter, if the Redis URL env var is set.
// A nil exporter is returned otherwise
func Redis(ctx context.Context, cfg *config.Redis, logger *slog.Logger) (*export.Redis, func(), error) {
	url := os.Getenv(env.RedisURL())
	if url == "" {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", env.RedisURL(), err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancelPing := context.WithTimeout(ctx, pingTimeout)
	defer cancelPing()

	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("unable to reach redis (ping): %w", err)
	}

	logger.Info("redis ping success")

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error(
				"unable to gracefully close redis client",
				"err", err,
			)
		}
	}

	exporter := export.NewRedis(
		client,
		export.WithPrefix(cfg.Prefix),
		export.WithTTL(config.Seconds(cfg.TTLSec)),
		export.WithHistory(int64(cfg.History)),
	)

	return exporter, closeFn, nil
}
