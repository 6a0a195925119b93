package storage

import (
	"context"
	"errors"

	"github.com/sig-0/p2pquotes/storage/types"
)

// ErrPersistence wraps every failed write. A failed batch leaves the store untouched
var ErrPersistence = errors.New("persistence error")

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Storage is an abstraction over the listing, exchange rate and run audit data
type Storage interface {
	// SaveListings saves the listing batch atomically, skipping duplicates
	// of (price, captured at, merchant name) within the same source
	SaveListings(context.Context, types.Source, []*types.Listing) (*types.SaveResult, error)

	// SaveExchangeRate appends the given exchange rate data point
	SaveExchangeRate(context.Context, *types.ExchangeRate) error

	// SaveRunMetadata appends the audit record of a pipeline run
	SaveRunMetadata(context.Context, *types.RunMetadata) error

	// QueryLatest fetches the most recently inserted listings first
	QueryLatest(context.Context, types.Source, int) ([]*types.StoredListing, error)

	// QueryByPrice fetches the listings ordered by price
	QueryByPrice(context.Context, types.Source, int, bool) ([]*types.StoredListing, error)

	// ListExchangeRates fetches the saved exchange rates, newest first
	ListExchangeRates(context.Context, *types.RateQuery) ([]*types.ExchangeRate, error)

	// ListRuns fetches the run audit records, newest first
	ListRuns(context.Context, int) ([]*types.RunMetadata, error)

	// Ping checks the store is reachable
	Ping(context.Context) error
}

// ClampLimit applies the default and max query limits
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}

	if limit > MaxLimit {
		return MaxLimit
	}

	return limit
}
