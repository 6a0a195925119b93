package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

var errInvalidListing = errors.New("invalid listing")

type key struct {
	merchant   string
	price      string // rounded to the stored precision
	capturedAt int64  // unix nanos
}

type table struct {
	keys map[key]struct{}
	rows []types.StoredListing
}

type Storage struct {
	tables map[types.Source]*table
	rates  []types.ExchangeRate
	runs   []types.RunMetadata

	nextID int64

	mu sync.RWMutex
}

func NewStorage() *Storage {
	return &Storage{
		tables: map[types.Source]*table{
			types.SourceBybit:   newTable(),
			types.SourceBinance: newTable(),
		},
	}
}

func newTable() *table {
	return &table{
		keys: make(map[key]struct{}),
	}
}

func keyOf(l *types.Listing) key {
	return key{
		price:      decimal.NewFromFloat(l.Price).Round(types.PricePrecision).String(),
		capturedAt: l.CapturedAt.UTC().UnixNano(),
		merchant:   l.MerchantName,
	}
}

func (s *Storage) SaveListings(
	_ context.Context,
	source types.Source,
	listings []*types.Listing,
) (*types.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[source]
	if !ok {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, types.ErrUnknownSource)
	}

	var (
		result = &types.SaveResult{}
		staged = make([]types.StoredListing, 0, len(listings))
		seen   = make(map[key]struct{}, len(listings))
		nextID = s.nextID
	)

	// Stage the whole batch first, nothing is committed on failure
	for i, l := range listings {
		if l == nil || !l.Valid() {
			return nil, fmt.Errorf("%w: %w at index %d", storage.ErrPersistence, errInvalidListing, i)
		}

		k := keyOf(l)

		if _, exists := t.keys[k]; exists {
			result.Skipped++

			continue
		}

		if _, exists := seen[k]; exists {
			result.Skipped++

			continue
		}

		seen[k] = struct{}{}
		nextID++

		elem := *l
		elem.Source = source
		elem.CapturedAt = elem.CapturedAt.UTC()

		staged = append(staged, types.StoredListing{
			Listing: elem,
			ID:      nextID,
		})
	}

	// Commit
	maps.Copy(t.keys, seen)
	t.rows = append(t.rows, staged...)
	s.nextID = nextID

	result.Written = len(staged)

	return result, nil
}

func (s *Storage) SaveExchangeRate(_ context.Context, r *types.ExchangeRate) error {
	if r == nil || !types.ValidPrice(r.Rate) {
		return fmt.Errorf("%w: invalid exchange rate", storage.ErrPersistence)
	}

	elem := *r
	elem.FetchedAt = elem.FetchedAt.UTC()

	s.mu.Lock()
	s.rates = append(s.rates, elem)
	s.mu.Unlock()

	return nil
}

func (s *Storage) SaveRunMetadata(_ context.Context, m *types.RunMetadata) error {
	if m == nil {
		return fmt.Errorf("%w: missing run metadata", storage.ErrPersistence)
	}

	elem := *m
	elem.CreatedAt = elem.CreatedAt.UTC()
	elem.Counts = maps.Clone(m.Counts)

	s.mu.Lock()
	s.runs = append(s.runs, elem)
	s.mu.Unlock()

	return nil
}

func (s *Storage) QueryLatest(
	_ context.Context,
	source types.Source,
	limit int,
) ([]*types.StoredListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[source]
	if !ok {
		return nil, types.ErrUnknownSource
	}

	limit = storage.ClampLimit(limit)
	out := make([]*types.StoredListing, 0, min(limit, len(t.rows)))

	// Rows are kept in insertion order
	for i := len(t.rows) - 1; i >= 0 && len(out) < limit; i-- {
		cp := t.rows[i]
		out = append(out, &cp)
	}

	return out, nil
}

func (s *Storage) QueryByPrice(
	_ context.Context,
	source types.Source,
	limit int,
	ascending bool,
) ([]*types.StoredListing, error) {
	s.mu.RLock()

	t, ok := s.tables[source]
	if !ok {
		s.mu.RUnlock()

		return nil, types.ErrUnknownSource
	}

	out := make([]*types.StoredListing, 0, len(t.rows))
	for i := range t.rows {
		cp := t.rows[i]
		out = append(out, &cp)
	}

	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}

		return out[i].Price > out[j].Price
	})

	if limit = storage.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *Storage) ListExchangeRates(
	_ context.Context,
	query *types.RateQuery,
) ([]*types.ExchangeRate, error) {
	if query == nil {
		query = &types.RateQuery{}
	}

	limit := storage.ClampLimit(query.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.ExchangeRate, 0, min(limit, len(s.rates)))

	for i := len(s.rates) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.rates[i]

		if query.From != nil && r.From != *query.From {
			continue
		}

		if query.To != nil && r.To != *query.To {
			continue
		}

		out = append(out, &r)
	}

	return out, nil
}

func (s *Storage) Ping(_ context.Context) error {
	return nil
}

func (s *Storage) ListRuns(_ context.Context, limit int) ([]*types.RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = storage.ClampLimit(limit)
	out := make([]*types.RunMetadata, 0, min(limit, len(s.runs)))

	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		elem := s.runs[i]
		elem.Counts = maps.Clone(elem.Counts)

		out = append(out, &elem)
	}

	return out, nil
}
