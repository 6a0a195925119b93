package types

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UnknownMerchant is used when a source does not expose the merchant name
const UnknownMerchant = "Unknown"

// Prices and rates are stored as NUMERIC(28, 8)
const (
	PricePrecision = 8

	MinPrice = 1e-8 // smallest value that survives rounding to PricePrecision
	MaxPrice = 1e20 // exclusive, 20 integer digits
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownSide   = errors.New("unknown side")
)

type Currency string

func (c Currency) String() string {
	return string(c)
}

type Side string

const (
	SideBUY  Side = "BUY"
	SideSELL Side = "SELL"
)

func (s Side) String() string {
	return string(s)
}

// ParseSide parses the trade side. Bybit action codes (1 = buy, 0 = sell)
// are accepted as well
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "1":
		return SideBUY, nil
	case "SELL", "0":
		return SideSELL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, v)
	}
}

type Source string

const (
	SourceBybit   Source = "BYBIT"   // https://www.bybit.com/fiat/trade/otc
	SourceBinance Source = "BINANCE" // https://p2p.binance.com
)

// Sources lists the known sources, in reporting order
var Sources = []Source{SourceBybit, SourceBinance}

func (s Source) String() string {
	return string(s)
}

// ParseSource parses the source name, case-insensitive
func ParseSource(v string) (Source, error) {
	switch Source(strings.ToUpper(strings.TrimSpace(v))) {
	case SourceBybit:
		return SourceBybit, nil
	case SourceBinance:
		return SourceBinance, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, v)
	}
}

// Query is the asset / fiat / side triple requested from a single source
type Query struct {
	Asset Currency `json:"asset"`
	Fiat  Currency `json:"fiat"`
	Side  Side     `json:"side"`
}

// Listing is a single normalized P2P quote
type Listing struct {
	CapturedAt      time.Time `json:"captured_at"`
	Source          Source    `json:"source"`
	AvailableAmount string    `json:"available_amount"`
	PaymentMethods  string    `json:"payment_methods"`
	MerchantName    string    `json:"merchant_name"`
	Price           float64   `json:"price"`
}

// Valid reports whether the listing price is finite and positive
func (l *Listing) Valid() bool {
	return ValidPrice(l.Price)
}

// ValidPrice reports whether the price is finite, positive and storable
func ValidPrice(p float64) bool {
	if math.IsInf(p, 0) || math.IsNaN(p) {
		return false
	}

	return p >= MinPrice && p < MaxPrice
}

// StoredListing is a listing owned by the store
type StoredListing struct {
	Listing

	ID int64 `json:"id"`
}

// FetchMeta describes a single source fetch
type FetchMeta struct {
	Source    Source `json:"source"`
	Query     Query  `json:"query"`
	RowsSeen  int    `json:"rows_seen"`
	RowsValid int    `json:"rows_valid"`
	Attempts  int    `json:"attempts"`
}

// FetchResult is the outcome of a single source fetch.
// Listings are sorted ascending by price (stable)
type FetchResult struct {
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Listings     []*Listing `json:"listings"`
	Meta         FetchMeta  `json:"meta"`
	Success      bool       `json:"success"`
}

// SaveResult is the outcome of a single listing batch write
type SaveResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

type ExchangeRate struct {
	FetchedAt time.Time `json:"fetched_at"`
	From      Currency  `json:"from"`
	To        Currency  `json:"to"`
	Rate      float64   `json:"rate"`
}

type RateQuery struct {
	From  *Currency `json:"from"`
	To    *Currency `json:"to"`
	Limit int       `json:"limit"`
}

// RunMetadata is the audit record of a single pipeline run
type RunMetadata struct {
	CreatedAt time.Time      `json:"created_at"`
	Counts    map[Source]int `json:"counts"`
	RunID     string         `json:"run_id"`
	Token     Currency       `json:"token"`
	Fiat      string         `json:"fiat"`
	Side      Side           `json:"side"`
}

// LadderEntry is a single derived cross-rate step
type LadderEntry struct {
	Label            string  `json:"label"`
	Markup           float64 `json:"markup"`
	IntermediateRate float64 `json:"intermediate_rate"`
	DerivedRate      float64 `json:"derived_rate"`
}
