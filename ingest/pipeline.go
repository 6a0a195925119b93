package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/provider/currencies"
	"github.com/sig-0/p2pquotes/provider/fx"
	"github.com/sig-0/p2pquotes/rates"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

// ErrStoreUnavailable is returned when no store write of the run succeeded
var ErrStoreUnavailable = errors.New("listing store unavailable")

var (
	errNoSources       = errors.New("no sources configured")
	errInvalidSource   = errors.New("invalid source")
	errDuplicateSource = errors.New("duplicate source")
)

// Reasons for a skipped derivation
const (
	skipNoFreshListings = "no fresh listings in this run"
	skipNoBaseRate      = "base exchange rate unavailable"
	skipNoRecentQuotes  = "no recent %s quotes"
)

// SourceConfig binds an adapter to the query it runs, and its retry policy
type SourceConfig struct {
	Adapter Adapter
	Query   types.Query
	Policy  RetryPolicy
}

// Pipeline runs the fetch, persist and derive cycle over all sources
type Pipeline struct {
	store     storage.Storage
	rates     fx.RateSource
	clock     provider.Clock
	logger    *slog.Logger
	retrier   *Retrier
	name      string
	sources   []SourceConfig
	exporters []Exporter
	markups   []float64

	baseFrom   types.Currency
	baseTo     types.Currency
	highSource types.Source
	lowSource  types.Source

	interval     time.Duration
	runTimeout   time.Duration
	rateTimeout  time.Duration
	maxQuoteAge  time.Duration
	storeTimeout time.Duration
}

// NewPipeline creates a new pipeline over the given sources
func NewPipeline(
	store storage.Storage,
	sources []SourceConfig,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if len(sources) == 0 {
		return nil, errNoSources
	}

	seen := make(map[types.Source]struct{}, len(sources))

	for _, s := range sources {
		if s.Adapter == nil {
			return nil, errInvalidSource
		}

		if _, ok := seen[s.Adapter.Source()]; ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateSource, s.Adapter.Source())
		}

		seen[s.Adapter.Source()] = struct{}{}
	}

	p := &Pipeline{
		store:        store,
		rates:        fx.DefaultFixed(),
		clock:        provider.SystemClock{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		name:         "p2pquotes",
		sources:      sources,
		markups:      rates.DefaultMarkups,
		baseFrom:     currencies.EUR,
		baseTo:       currencies.XAF,
		highSource:   types.SourceBinance,
		lowSource:    types.SourceBybit,
		interval:     15 * time.Minute,
		runTimeout:   5 * time.Minute,
		rateTimeout:  30 * time.Second,
		maxQuoteAge:  30 * time.Minute,
		storeTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.retrier == nil {
		p.retrier = NewRetrier(p.clock, p.logger)
	}

	return p, nil
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) Interval() time.Duration {
	return p.interval
}

// Run executes a single pipeline run.
// The summary is returned for every run, failed ones included
func (p *Pipeline) Run(ctx context.Context) (*types.RunSummary, error) {
	var (
		runID   = xid.New().String()
		first   = p.sources[0].Query
		logger  = p.logger.With("run_id", runID)
		summary = &types.RunSummary{
			RunID:     runID,
			State:     types.RunStateFetching,
			StartedAt: p.clock.Now(),
			Token:     first.Asset,
			Side:      first.Side,
			Sources:   make([]*types.SourceReport, 0, len(p.sources)),
			Ladder:    []types.LadderEntry{},
		}
	)

	logger.Info(
		"run started",
		"sources", len(p.sources),
		"token", first.Asset,
		"side", first.Side,
	)

	// Fetch from every source concurrently
	results := p.fetchAll(ctx, logger)

	// Normalize the fetched listings
	summary.State = types.RunStateNormalizing

	capturedAt := p.clock.Now()

	for i, res := range results {
		report := &types.SourceReport{
			Source: p.sources[i].Adapter.Source(),
			Fetch:  res,
		}

		if res.Success {
			res.Listings, report.Dropped = normalize(report.Source, res.Listings, capturedAt)
			res.Meta.RowsValid = len(res.Listings)
		}

		summary.Sources = append(summary.Sources, report)
	}

	// Persist the listings, base rate and run audit record
	summary.State = types.RunStatePersisting

	if err := p.persist(ctx, logger, summary, capturedAt); err != nil {
		summary.State = types.RunStateFailed
		summary.Error = err.Error()

		logger.Error("run failed", "err", err)

		p.finish(ctx, logger, summary)

		return summary, err
	}

	// Derive the rate ladder
	summary.State = types.RunStateDeriving

	p.derive(ctx, logger, summary)

	summary.State = types.RunStateDone

	p.finish(ctx, logger, summary)

	return summary, nil
}

// fetchAll fetches every source under the run timeout.
// Results are in source order
func (p *Pipeline) fetchAll(ctx context.Context, logger *slog.Logger) []*types.FetchResult {
	fetchCtx, cancelFn := context.WithTimeout(ctx, p.runTimeout)
	defer cancelFn()

	var (
		g       errgroup.Group
		results = make([]*types.FetchResult, len(p.sources))
	)

	for i, src := range p.sources {
		g.Go(func() error {
			res := p.retrier.Fetch(fetchCtx, src.Adapter, src.Query, src.Policy)

			if res.Success {
				logger.Info(
					"fetched listings",
					"source", res.Meta.Source,
					"rows_seen", res.Meta.RowsSeen,
					"rows_valid", res.Meta.RowsValid,
					"attempts", res.Meta.Attempts,
				)
			} else {
				logger.Warn(
					"source fetch failed",
					"source", res.Meta.Source,
					"code", res.ErrorCode,
					"err", res.ErrorMessage,
				)
			}

			results[i] = res

			return nil
		})
	}

	_ = g.Wait() // fetches never fail the group

	return results
}

// persist writes the run data. An error is returned only
// if every attempted write failed
func (p *Pipeline) persist(
	ctx context.Context,
	logger *slog.Logger,
	summary *types.RunSummary,
	capturedAt time.Time,
) error {
	var (
		attempted int
		storeErrs []error
	)

	for _, report := range summary.Sources {
		if !report.Fetch.Success || len(report.Fetch.Listings) == 0 {
			continue
		}

		attempted++

		res, err := p.saveListings(ctx, report.Source, report.Fetch.Listings)
		if err != nil {
			report.PersistError = err.Error()
			storeErrs = append(storeErrs, err)

			logger.Error(
				"unable to save listings",
				"source", report.Source,
				"listings", len(report.Fetch.Listings),
				"err", err,
			)

			continue
		}

		report.Written = res.Written
		report.Skipped = res.Skipped

		logger.Info(
			"saved listings",
			"source", report.Source,
			"written", res.Written,
			"skipped", res.Skipped,
		)
	}

	// Base exchange rate
	if base := p.baseRate(ctx, logger); base != nil {
		summary.BaseRate = base
		attempted++

		if err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
			return p.store.SaveExchangeRate(ctx, base)
		}); err != nil {
			storeErrs = append(storeErrs, err)

			logger.Error(
				"unable to save exchange rate",
				"from", base.From,
				"to", base.To,
				"err", err,
			)
		}
	}

	// Run audit record
	attempted++

	meta := p.runMetadata(summary, capturedAt)

	if err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
		return p.store.SaveRunMetadata(ctx, meta)
	}); err != nil {
		storeErrs = append(storeErrs, err)

		logger.Error("unable to save run metadata", "err", err)
	}

	if len(storeErrs) == attempted {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, errors.Join(storeErrs...))
	}

	return nil
}

func (p *Pipeline) saveListings(
	ctx context.Context,
	source types.Source,
	listings []*types.Listing,
) (*types.SaveResult, error) {
	var res *types.SaveResult

	err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
		var err error

		res, err = p.store.SaveListings(ctx, source, listings)

		return err
	})
	if err != nil {
		return nil, err
	}

	if res == nil {
		res = &types.SaveResult{}
	}

	return res, nil
}

func (p *Pipeline) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	storeCtx, cancelFn := context.WithTimeout(ctx, p.storeTimeout)
	defer cancelFn()

	return fn(storeCtx)
}

// baseRate fetches the base exchange rate, if available
func (p *Pipeline) baseRate(ctx context.Context, logger *slog.Logger) *types.ExchangeRate {
	if p.rates == nil {
		return nil
	}

	rateCtx, cancelFn := context.WithTimeout(ctx, p.rateTimeout)
	defer cancelFn()

	rate, err := p.rates.GetRate(rateCtx, p.baseFrom, p.baseTo)
	if err != nil {
		logger.Warn(
			"unable to fetch base exchange rate",
			"from", p.baseFrom,
			"to", p.baseTo,
			"err", err,
		)

		return nil
	}

	if !types.ValidPrice(rate) {
		logger.Warn(
			"invalid base exchange rate",
			"from", p.baseFrom,
			"to", p.baseTo,
			"rate", rate,
		)

		return nil
	}

	return &types.ExchangeRate{
		From:      p.baseFrom,
		To:        p.baseTo,
		Rate:      rate,
		FetchedAt: p.clock.Now(),
	}
}

// runMetadata builds the audit record of the run
func (p *Pipeline) runMetadata(summary *types.RunSummary, capturedAt time.Time) *types.RunMetadata {
	var (
		counts = make(map[types.Source]int, len(summary.Sources))
		fiats  = make([]string, 0, len(p.sources))
	)

	for i, report := range summary.Sources {
		counts[report.Source] = len(report.Fetch.Listings)

		if fiat := p.sources[i].Query.Fiat.String(); !slices.Contains(fiats, fiat) {
			fiats = append(fiats, fiat)
		}
	}

	return &types.RunMetadata{
		RunID:     summary.RunID,
		Token:     summary.Token,
		Fiat:      strings.Join(fiats, ","),
		Side:      summary.Side,
		Counts:    counts,
		CreatedAt: capturedAt,
	}
}

// derive computes the rate ladder, falling back to recently stored
// quotes for a series missing from this run
func (p *Pipeline) derive(ctx context.Context, logger *slog.Logger, summary *types.RunSummary) {
	fresh := make(map[types.Source][]*types.Listing, len(summary.Sources))

	for _, report := range summary.Sources {
		if report.Fetch.Success && len(report.Fetch.Listings) > 0 {
			fresh[report.Source] = report.Fetch.Listings
		}
	}

	skip := func(reason string) {
		summary.DerivationSkipped = reason

		logger.Warn("rate derivation skipped", "reason", reason)
	}

	if len(fresh) == 0 {
		skip(skipNoFreshListings)

		return
	}

	if summary.BaseRate == nil {
		skip(skipNoBaseRate)

		return
	}

	highSeries, highFromStore := p.series(ctx, logger, fresh, p.highSource)
	if len(highSeries) == 0 {
		skip(fmt.Sprintf(skipNoRecentQuotes, p.highSource))

		return
	}

	lowSeries, lowFromStore := p.series(ctx, logger, fresh, p.lowSource)
	if len(lowSeries) == 0 {
		skip(fmt.Sprintf(skipNoRecentQuotes, p.lowSource))

		return
	}

	_, high, _ := rates.Extremes(highSeries)
	low, _, _ := rates.Extremes(lowSeries)

	summary.LadderInputs = &types.LadderInputs{
		HighSource:    p.highSource,
		HighPrice:     high,
		HighFromStore: highFromStore,
		LowSource:     p.lowSource,
		LowPrice:      low,
		LowFromStore:  lowFromStore,
	}

	summary.Ladder = rates.DeriveLadder(summary.BaseRate.Rate, high, low, p.markups)

	logger.Info(
		"derived rate ladder",
		"base", summary.BaseRate.Rate,
		"high", high,
		"low", low,
		"steps", len(summary.Ladder),
	)
}

// series returns the source quotes of this run, or the recently stored ones
func (p *Pipeline) series(
	ctx context.Context,
	logger *slog.Logger,
	fresh map[types.Source][]*types.Listing,
	source types.Source,
) ([]*types.Listing, bool) {
	if listings, ok := fresh[source]; ok {
		return listings, false
	}

	var stored []*types.StoredListing

	if err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
		var err error

		stored, err = p.store.QueryLatest(ctx, source, storage.DefaultLimit)

		return err
	}); err != nil {
		logger.Warn(
			"unable to load stored quotes",
			"source", source,
			"err", err,
		)

		return nil, true
	}

	var (
		cutoff   = p.clock.Now().Add(-p.maxQuoteAge)
		listings = make([]*types.Listing, 0, len(stored))
	)

	for _, s := range stored {
		if s.CapturedAt.Before(cutoff) {
			continue
		}

		listing := s.Listing
		listings = append(listings, &listing)
	}

	return listings, true
}

// finish stamps the run end and hands the summary to the exporters
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, summary *types.RunSummary) {
	summary.FinishedAt = p.clock.Now()

	for _, exporter := range p.exporters {
		if err := exporter.Export(ctx, summary); err != nil {
			logger.Error("unable to export run summary", "err", err)
		}
	}

	logger.Info(
		"run finished",
		"state", summary.State,
		"ladder_steps", len(summary.Ladder),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)
}
