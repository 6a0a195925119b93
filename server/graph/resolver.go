package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

// Runs exposes the run summaries held by the server
type Runs interface {
	// LatestSummary returns the most recent run summary, or nil
	LatestSummary(ctx context.Context) (*types.RunSummary, error)

	// LatestLadder returns the last derived ladder for the token and side, or nil
	LatestLadder(ctx context.Context, token types.Currency, side types.Side) ([]types.LadderEntry, error)
}

// Resolver resolves the root query fields
type Resolver struct {
	Storage      storage.Storage
	RunSummaries Runs
}

func NewResolver(s storage.Storage, runs Runs) *Resolver {
	return &Resolver{
		Storage:      s,
		RunSummaries: runs,
	}
}

func (r *Resolver) Listings(ctx context.Context, args map[string]any) ([]object, error) {
	source, err := types.ParseSource(stringArg(args, "source"))
	if err != nil {
		return nil, err
	}

	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	var items []*types.StoredListing

	switch order := strings.ToUpper(stringArg(args, "order")); order {
	case "", orderLatest:
		items, err = r.Storage.QueryLatest(ctx, source, limit)
	case orderAsc, orderDesc:
		items, err = r.Storage.QueryByPrice(ctx, source, limit, order == orderAsc)
	default:
		return nil, errInvalidOrder
	}

	if err != nil {
		return nil, fmt.Errorf("unable to fetch listings: %w", err)
	}

	out := make([]object, 0, len(items))
	for _, item := range items {
		out = append(out, toListing(item))
	}

	return out, nil
}

func (r *Resolver) Rates(ctx context.Context, args map[string]any) ([]object, error) {
	from, err := parseOptionalCurrency(stringArg(args, "from"))
	if err != nil {
		return nil, err
	}

	to, err := parseOptionalCurrency(stringArg(args, "to"))
	if err != nil {
		return nil, err
	}

	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	items, err := r.Storage.ListExchangeRates(ctx, &types.RateQuery{
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to fetch rates: %w", err)
	}

	out := make([]object, 0, len(items))
	for _, item := range items {
		out = append(out, toExchangeRate(item))
	}

	return out, nil
}

func (r *Resolver) Runs(ctx context.Context, args map[string]any) ([]object, error) {
	limit, err := parseLimit(args)
	if err != nil {
		return nil, err
	}

	items, err := r.Storage.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch runs: %w", err)
	}

	out := make([]object, 0, len(items))
	for _, item := range items {
		out = append(out, toRun(item))
	}

	return out, nil
}

func (r *Resolver) LatestRun(ctx context.Context) (object, error) {
	if r.RunSummaries == nil {
		return nil, nil
	}

	summary, err := r.RunSummaries.LatestSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch run summary: %w", err)
	}

	if summary == nil {
		return nil, nil
	}

	return toRunSummary(summary), nil
}

func (r *Resolver) Ladder(ctx context.Context, args map[string]any) ([]object, error) {
	token, err := parseCurrencySymbol(stringArg(args, "token"))
	if err != nil {
		return nil, err
	}

	side, err := types.ParseSide(stringArg(args, "side"))
	if err != nil {
		return nil, err
	}

	if r.RunSummaries == nil {
		return []object{}, nil
	}

	ladder, err := r.RunSummaries.LatestLadder(ctx, token, side)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch ladder: %w", err)
	}

	return toLadder(ladder), nil
}
