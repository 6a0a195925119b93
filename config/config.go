// Package config defines the p2pquotes TOML configuration
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/sig-0/p2pquotes/storage/types"
)

const DefaultListenAddress = "0.0.0.0:8545"

var (
	ErrInvalidListenAddress = errors.New("invalid listen address")
	ErrInvalidInterval      = errors.New("invalid pipeline interval")
	ErrInvalidToken         = errors.New("invalid token")
	ErrNoSourcesEnabled     = errors.New("no sources enabled")
	ErrInvalidMarkup        = errors.New("invalid markup")
	ErrInvalidRetry         = errors.New("invalid retry policy")
	ErrInvalidPaging        = errors.New("invalid paging")
	ErrMissingRenderer      = errors.New("missing render endpoint")
	ErrInvalidRatePair      = errors.New("invalid exchange rate pair")
	ErrUnorderedMarkups     = errors.New("markups must be strictly ascending")
	ErrInvalidHistory       = errors.New("invalid redis history")
)

var listenAddressRegex = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}:\d+$`)

// Config defines the p2pquotes configuration
type Config struct {
	Server       *Server       `toml:"server"`
	Pipeline     *Pipeline     `toml:"pipeline"`
	Bybit        *Bybit        `toml:"bybit"`
	Binance      *Binance      `toml:"binance"`
	ExchangeRate *ExchangeRate `toml:"exchange_rate"`
	Redis        *Redis        `toml:"redis"`
}

// Server defines the read API configuration
type Server struct {
	// The associated CORS config, if any
	CORSConfig *CORS `toml:"cors_config"`

	// The address at which the server will be served.
	// Format should be: <IP>:<PORT>
	ListenAddress string `toml:"listen_address"`
}

// Pipeline defines the run schedule and the rate derivation
type Pipeline struct {
	Name string `toml:"name"`

	// The traded asset and side, shared by every source
	Token string `toml:"token"`
	Side  string `toml:"side"`

	// The ladder takes its high quote from HighSource, its low quote from LowSource
	HighSource string    `toml:"high_source"`
	LowSource  string    `toml:"low_source"`
	Markups    []float64 `toml:"markups"`

	IntervalSec    int `toml:"interval_sec"`
	RunTimeoutSec  int `toml:"run_timeout_sec"`
	MaxQuoteAgeSec int `toml:"max_quote_age_sec"`
}

// Retry defines a source retry policy
type Retry struct {
	MaxAttempts       int `toml:"max_attempts"`
	BackoffMs         int `toml:"backoff_ms"`
	AttemptTimeoutSec int `toml:"attempt_timeout_sec"`
}

// Bybit defines the rendered marketplace source
type Bybit struct {
	URL  string `toml:"url"`
	Fiat string `toml:"fiat"`

	// Browserless-compatible /content endpoint
	RenderEndpoint string `toml:"render_endpoint"`

	Retry Retry `toml:"retry"`

	WaitTimeoutSec   int  `toml:"wait_timeout_sec"`
	SettleDelayMs    int  `toml:"settle_delay_ms"`
	RenderTimeoutSec int  `toml:"render_timeout_sec"`
	Enabled          bool `toml:"enabled"`
}

// Binance defines the REST API source
type Binance struct {
	URL      string   `toml:"url"`
	Fiat     string   `toml:"fiat"`
	PayTypes []string `toml:"pay_types"`

	Retry Retry `toml:"retry"`

	Rows              int  `toml:"rows"`
	Pages             int  `toml:"pages"`
	RequestTimeoutSec int  `toml:"request_timeout_sec"`
	MerchantCheck     bool `toml:"merchant_check"`
	Enabled           bool `toml:"enabled"`
}

// ExchangeRate defines the base exchange rate source.
// Fixed pegs are used first, the converter page (if any) second
type ExchangeRate struct {
	From string `toml:"from"`
	To   string `toml:"to"`

	ScraperURL      string `toml:"scraper_url"` // may reference {from} and {to}
	ScraperSelector string `toml:"scraper_selector"`

	CacheTTLSec int `toml:"cache_ttl_sec"`
}

// Redis defines the run summary publishing
type Redis struct {
	Prefix  string `toml:"prefix"`
	TTLSec  int    `toml:"ttl_sec"`
	History int    `toml:"history"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Pipeline:     DefaultPipelineConfig(),
		Bybit:        DefaultBybitConfig(),
		Binance:      DefaultBinanceConfig(),
		ExchangeRate: DefaultExchangeRateConfig(),
		Redis:        DefaultRedisConfig(),
	}
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *Server {
	return &Server{
		ListenAddress: DefaultListenAddress,
		CORSConfig:    DefaultCORSConfig(),
	}
}

func DefaultPipelineConfig() *Pipeline {
	return &Pipeline{
		Name:           "p2pquotes",
		Token:          "USDT",
		Side:           types.SideBUY.String(),
		HighSource:     types.SourceBinance.String(),
		LowSource:      types.SourceBybit.String(),
		Markups:        []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		IntervalSec:    15 * 60,
		RunTimeoutSec:  5 * 60,
		MaxQuoteAgeSec: 30 * 60,
	}
}

func DefaultBybitConfig() *Bybit {
	return &Bybit{
		Enabled:          true,
		URL:              "https://www.bybit.com/fiat/trade/otc",
		Fiat:             "NGN",
		RenderEndpoint:   "http://127.0.0.1:3000/content",
		WaitTimeoutSec:   30,
		SettleDelayMs:    5000,
		RenderTimeoutSec: 60,
		Retry: Retry{
			MaxAttempts:       10,
			BackoffMs:         5000,
			AttemptTimeoutSec: 60,
		},
	}
}

func DefaultBinanceConfig() *Binance {
	return &Binance{
		Enabled:           true,
		URL:               "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search",
		Fiat:              "EUR",
		PayTypes:          []string{},
		Rows:              10,
		Pages:             3,
		MerchantCheck:     true,
		RequestTimeoutSec: 15,
		Retry: Retry{
			MaxAttempts:       3,
			BackoffMs:         2000,
			AttemptTimeoutSec: 30,
		},
	}
}

func DefaultExchangeRateConfig() *ExchangeRate {
	return &ExchangeRate{
		From:        "EUR",
		To:          "XAF",
		CacheTTLSec: 60 * 60,
	}
}

func DefaultRedisConfig() *Redis {
	return &Redis{
		Prefix:  "p2pquotes",
		TTLSec:  24 * 60 * 60,
		History: 100,
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if err := ValidateServerConfig(config.Server); err != nil {
		return err
	}

	p := config.Pipeline

	if p.IntervalSec <= 0 || p.RunTimeoutSec <= 0 || p.MaxQuoteAgeSec <= 0 {
		return ErrInvalidInterval
	}

	if p.Token == "" {
		return ErrInvalidToken
	}

	if _, err := types.ParseSide(p.Side); err != nil {
		return err
	}

	if _, err := types.ParseSource(p.HighSource); err != nil {
		return fmt.Errorf("high source: %w", err)
	}

	if _, err := types.ParseSource(p.LowSource); err != nil {
		return fmt.Errorf("low source: %w", err)
	}

	for i, m := range p.Markups {
		if math.IsNaN(m) || math.IsInf(m, 0) || m <= -100 {
			return fmt.Errorf("%w: %v", ErrInvalidMarkup, m)
		}

		if i > 0 && m <= p.Markups[i-1] {
			return fmt.Errorf("%w: %v after %v", ErrUnorderedMarkups, m, p.Markups[i-1])
		}
	}

	if !config.Bybit.Enabled && !config.Binance.Enabled {
		return ErrNoSourcesEnabled
	}

	if config.Bybit.Enabled {
		if config.Bybit.RenderEndpoint == "" {
			return ErrMissingRenderer
		}

		if err := config.Bybit.Retry.validate(); err != nil {
			return fmt.Errorf("bybit: %w", err)
		}
	}

	if config.Binance.Enabled {
		if config.Binance.Rows <= 0 || config.Binance.Pages <= 0 {
			return ErrInvalidPaging
		}

		if err := config.Binance.Retry.validate(); err != nil {
			return fmt.Errorf("binance: %w", err)
		}
	}

	if config.ExchangeRate.From == "" || config.ExchangeRate.To == "" {
		return ErrInvalidRatePair
	}

	// LTRIM keeps the whole list for a zero history
	if config.Redis.History < 1 || config.Redis.TTLSec < 0 {
		return ErrInvalidHistory
	}

	return nil
}

// ValidateServerConfig validates the read API configuration
func ValidateServerConfig(config *Server) error {
	// Validate the listen address
	if !listenAddressRegex.MatchString(config.ListenAddress) {
		return ErrInvalidListenAddress
	}

	return nil
}

func (r Retry) validate() error {
	if r.MaxAttempts < 1 || r.BackoffMs < 0 || r.AttemptTimeoutSec < 0 {
		return ErrInvalidRetry
	}

	return nil
}

// Read reads the configuration from the given path.
// Sections missing from the file keep their defaults
func Read(path string) (*Config, error) {
	// Read the config file
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Parse it
	var cfg Config

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()

	if cfg.Server == nil {
		cfg.Server = defaults.Server
	}

	if cfg.Pipeline == nil {
		cfg.Pipeline = defaults.Pipeline
	}

	if cfg.Bybit == nil {
		cfg.Bybit = defaults.Bybit
	}

	if cfg.Binance == nil {
		cfg.Binance = defaults.Binance
	}

	if cfg.ExchangeRate == nil {
		cfg.ExchangeRate = defaults.ExchangeRate
	}

	if cfg.Redis == nil {
		cfg.Redis = defaults.Redis
	}

	return &cfg, nil
}

// Seconds converts a config value to a duration
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// Millis converts a config value to a duration
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
