package mock

import (
	"context"

	"github.com/sig-0/p2pquotes/storage/types"
)

type (
	SaveListingsDelegate      func(context.Context, types.Source, []*types.Listing) (*types.SaveResult, error)
	SaveExchangeRateDelegate  func(context.Context, *types.ExchangeRate) error
	SaveRunMetadataDelegate   func(context.Context, *types.RunMetadata) error
	QueryLatestDelegate       func(context.Context, types.Source, int) ([]*types.StoredListing, error)
	QueryByPriceDelegate      func(context.Context, types.Source, int, bool) ([]*types.StoredListing, error)
	ListExchangeRatesDelegate func(context.Context, *types.RateQuery) ([]*types.ExchangeRate, error)
	ListRunsDelegate          func(context.Context, int) ([]*types.RunMetadata, error)
	PingDelegate              func(context.Context) error
)

type Storage struct {
	SaveListingsFn      SaveListingsDelegate
	SaveExchangeRateFn  SaveExchangeRateDelegate
	SaveRunMetadataFn   SaveRunMetadataDelegate
	QueryLatestFn       QueryLatestDelegate
	QueryByPriceFn      QueryByPriceDelegate
	ListExchangeRatesFn ListExchangeRatesDelegate
	ListRunsFn          ListRunsDelegate
	PingFn              PingDelegate
}

func (m *Storage) SaveListings(
	ctx context.Context,
	source types.Source,
	listings []*types.Listing,
) (*types.SaveResult, error) {
	if m.SaveListingsFn != nil {
		return m.SaveListingsFn(ctx, source, listings)
	}

	return &types.SaveResult{Written: len(listings)}, nil
}

func (m *Storage) SaveExchangeRate(ctx context.Context, rate *types.ExchangeRate) error {
	if m.SaveExchangeRateFn != nil {
		return m.SaveExchangeRateFn(ctx, rate)
	}

	return nil
}

func (m *Storage) SaveRunMetadata(ctx context.Context, meta *types.RunMetadata) error {
	if m.SaveRunMetadataFn != nil {
		return m.SaveRunMetadataFn(ctx, meta)
	}

	return nil
}

func (m *Storage) QueryLatest(
	ctx context.Context,
	source types.Source,
	limit int,
) ([]*types.StoredListing, error) {
	if m.QueryLatestFn != nil {
		return m.QueryLatestFn(ctx, source, limit)
	}

	return nil, nil
}

func (m *Storage) QueryByPrice(
	ctx context.Context,
	source types.Source,
	limit int,
	ascending bool,
) ([]*types.StoredListing, error) {
	if m.QueryByPriceFn != nil {
		return m.QueryByPriceFn(ctx, source, limit, ascending)
	}

	return nil, nil
}

func (m *Storage) ListExchangeRates(
	ctx context.Context,
	query *types.RateQuery,
) ([]*types.ExchangeRate, error) {
	if m.ListExchangeRatesFn != nil {
		return m.ListExchangeRatesFn(ctx, query)
	}

	return nil, nil
}

func (m *Storage) ListRuns(ctx context.Context, limit int) ([]*types.RunMetadata, error) {
	if m.ListRunsFn != nil {
		return m.ListRunsFn(ctx, limit)
	}

	return nil, nil
}

func (m *Storage) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}

	return nil
}
