package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

var errInvalidListing = errors.New("invalid listing")

// listingTables maps each source to its listing table.
// Table names are never taken from user input
var listingTables = map[types.Source]string{
	types.SourceBybit:   "bybit_listings",
	types.SourceBinance: "binance_listings",
}

const (
	insertListingSQL = `
		INSERT INTO %[1]s (price, captured_at, available_amount, payment_methods, merchant_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT %[1]s_dedup DO NOTHING`

	selectListingsSQL = `
		SELECT id, price, captured_at, available_amount, payment_methods, merchant_name
		FROM %s
		ORDER BY %s
		LIMIT $1`

	insertExchangeRateSQL = `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, fetched_at)
		VALUES ($1, $2, $3, $4)`

	selectExchangeRatesSQL = `
		SELECT from_currency, to_currency, rate, fetched_at
		FROM exchange_rates
		WHERE ($1::text IS NULL OR from_currency = $1)
		  AND ($2::text IS NULL OR to_currency = $2)
		ORDER BY id DESC
		LIMIT $3`

	insertRunMetadataSQL = `
		INSERT INTO run_metadata
			(run_id, token, fiat, side, total_bybit_listings, total_binance_listings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectRunsSQL = `
		SELECT run_id, token, fiat, side, total_bybit_listings, total_binance_listings, created_at
		FROM run_metadata
		ORDER BY id DESC
		LIMIT $1`
)

// DB is the subset of the pgx API used by the store.
// Both *pgx.Conn and *pgxpool.Pool satisfy it
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

type Storage struct {
	db DB

	mu sync.Mutex // serializes listing batches
}

func NewStorage(db DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) SaveListings(
	ctx context.Context,
	source types.Source,
	listings []*types.Listing,
) (*types.SaveResult, error) {
	table, ok := listingTables[source]
	if !ok {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, types.ErrUnknownSource)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to begin transaction: %w", storage.ErrPersistence, err)
	}

	// No-op once committed
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // Fine to ignore
	}()

	var (
		query  = fmt.Sprintf(insertListingSQL, table)
		result = &types.SaveResult{}
	)

	for i, l := range listings {
		if l == nil || !l.Valid() {
			return nil, fmt.Errorf("%w: %w at index %d", storage.ErrPersistence, errInvalidListing, i)
		}

		tag, err := tx.Exec(
			ctx,
			query,
			floatToNumeric(l.Price),
			timeToTimestamptz(l.CapturedAt),
			l.AvailableAmount,
			l.PaymentMethods,
			l.MerchantName,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: unable to insert listing %d: %w", storage.ErrPersistence, i, err)
		}

		if tag.RowsAffected() == 0 {
			result.Skipped++

			continue
		}

		result.Written++
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: unable to commit listings: %w", storage.ErrPersistence, err)
	}

	return result, nil
}

func (s *Storage) SaveExchangeRate(ctx context.Context, rate *types.ExchangeRate) error {
	if rate == nil {
		return fmt.Errorf("%w: missing exchange rate", storage.ErrPersistence)
	}

	_, err := s.db.Exec(
		ctx,
		insertExchangeRateSQL,
		rate.From.String(),
		rate.To.String(),
		floatToNumeric(rate.Rate),
		timeToTimestamptz(rate.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: unable to save exchange rate: %w", storage.ErrPersistence, err)
	}

	return nil
}

func (s *Storage) SaveRunMetadata(ctx context.Context, meta *types.RunMetadata) error {
	if meta == nil {
		return fmt.Errorf("%w: missing run metadata", storage.ErrPersistence)
	}

	_, err := s.db.Exec(
		ctx,
		insertRunMetadataSQL,
		meta.RunID,
		meta.Token.String(),
		meta.Fiat,
		meta.Side.String(),
		meta.Counts[types.SourceBybit],
		meta.Counts[types.SourceBinance],
		timeToTimestamptz(meta.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: unable to save run metadata: %w", storage.ErrPersistence, err)
	}

	return nil
}

func (s *Storage) QueryLatest(
	ctx context.Context,
	source types.Source,
	limit int,
) ([]*types.StoredListing, error) {
	return s.queryListings(ctx, source, "id DESC", limit)
}

func (s *Storage) QueryByPrice(
	ctx context.Context,
	source types.Source,
	limit int,
	ascending bool,
) ([]*types.StoredListing, error) {
	order := "price DESC, id ASC"
	if ascending {
		order = "price ASC, id ASC"
	}

	return s.queryListings(ctx, source, order, limit)
}

func (s *Storage) queryListings(
	ctx context.Context,
	source types.Source,
	order string,
	limit int,
) ([]*types.StoredListing, error) {
	table, ok := listingTables[source]
	if !ok {
		return nil, types.ErrUnknownSource
	}

	rows, err := s.db.Query(
		ctx,
		fmt.Sprintf(selectListingsSQL, table, order),
		storage.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch listings: %w", err)
	}
	defer rows.Close()

	out := make([]*types.StoredListing, 0)

	for rows.Next() {
		var (
			row        types.StoredListing
			price      pgtype.Numeric
			capturedAt pgtype.Timestamptz
		)

		if err = rows.Scan(
			&row.ID,
			&price,
			&capturedAt,
			&row.AvailableAmount,
			&row.PaymentMethods,
			&row.MerchantName,
		); err != nil {
			return nil, fmt.Errorf("unable to scan listing: %w", err)
		}

		row.Source = source
		row.Price = numericToFloat(price)
		row.CapturedAt = timestamptzToTime(capturedAt)

		out = append(out, &row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to fetch listings: %w", err)
	}

	return out, nil
}

func (s *Storage) ListExchangeRates(
	ctx context.Context,
	query *types.RateQuery,
) ([]*types.ExchangeRate, error) {
	if query == nil {
		query = &types.RateQuery{}
	}

	var from, to *string

	if query.From != nil {
		v := query.From.String()
		from = &v
	}

	if query.To != nil {
		v := query.To.String()
		to = &v
	}

	rows, err := s.db.Query(
		ctx,
		selectExchangeRatesSQL,
		from,
		to,
		storage.ClampLimit(query.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch exchange rates: %w", err)
	}
	defer rows.Close()

	out := make([]*types.ExchangeRate, 0)

	for rows.Next() {
		var (
			fromCcy, toCcy string
			rate           pgtype.Numeric
			fetchedAt      pgtype.Timestamptz
		)

		if err = rows.Scan(&fromCcy, &toCcy, &rate, &fetchedAt); err != nil {
			return nil, fmt.Errorf("unable to scan exchange rate: %w", err)
		}

		out = append(out, &types.ExchangeRate{
			From:      types.Currency(fromCcy),
			To:        types.Currency(toCcy),
			Rate:      numericToFloat(rate),
			FetchedAt: timestamptzToTime(fetchedAt),
		})
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to fetch exchange rates: %w", err)
	}

	return out, nil
}

func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*types.RunMetadata, error) {
	rows, err := s.db.Query(ctx, selectRunsSQL, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("unable to fetch runs: %w", err)
	}
	defer rows.Close()

	out := make([]*types.RunMetadata, 0)

	for rows.Next() {
		var (
			meta          types.RunMetadata
			token, side   string
			bybit, binance int
			createdAt     pgtype.Timestamptz
		)

		if err = rows.Scan(
			&meta.RunID,
			&token,
			&meta.Fiat,
			&side,
			&bybit,
			&binance,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("unable to scan run: %w", err)
		}

		meta.Token = types.Currency(token)
		meta.Side = types.Side(side)
		meta.CreatedAt = timestamptzToTime(createdAt)
		meta.Counts = map[types.Source]int{
			types.SourceBybit:   bybit,
			types.SourceBinance: binance,
		}

		out = append(out, &meta)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to fetch runs: %w", err)
	}

	return out, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// floatToNumeric converts the float value to postgres numeric,
// rounded to the column scale
func floatToNumeric(value float64) pgtype.Numeric {
	d := decimal.NewFromFloat(value).Round(types.PricePrecision)

	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   d.Exponent(),
		Valid: true,
	}
}

// numericToFloat converts the postgres value to float
func numericToFloat(value pgtype.Numeric) float64 {
	if !value.Valid || value.Int == nil {
		return 0
	}

	return decimal.NewFromBigInt(value.Int, value.Exp).InexactFloat64()
}

// timeToTimestamptz converts the time value to postgres timestamp
func timeToTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{
		Time:  t.UTC(),
		Valid: true,
	}
}

// timestamptzToTime converts the postgres timestamp value to time
func timestamptzToTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}

	return ts.Time.UTC()
}
