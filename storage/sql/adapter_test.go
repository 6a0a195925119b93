package sql

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sig-0/p2pquotes/provider/currencies"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}

	container, err := startContainer(func() (testcontainers.Container, error) {
		return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	})
	if err != nil {
		log.Printf("postgres container unavailable, skipping SQL tests: %s", err)

		return m.Run()
	}

	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("unable to stop postgres container: %s", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Printf("unable to get container host: %s", err)

		return 1
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Printf("unable to get mapped port: %s", err)

		return 1
	}

	dsn := fmt.Sprintf("postgres://testuser:testpassword@%s:%s/testdb", host, port.Port())

	pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		log.Printf("unable to connect to database: %s", err)

		return 1
	}
	defer pool.Close()

	schema, err := SchemaFS.ReadFile("schema/001_init.sql")
	if err != nil {
		log.Printf("unable to read schema: %s", err)

		return 1
	}

	if _, err = pool.Exec(ctx, string(schema)); err != nil {
		log.Printf("unable to apply schema: %s", err)

		return 1
	}

	return m.Run()
}

// startContainer runs start, reporting a missing container provider
// (testcontainers panics without Docker) as an error
func startContainer(
	start func() (testcontainers.Container, error),
) (container testcontainers.Container, err error) {
	defer func() {
		if r := recover(); r != nil {
			container = nil
			err = fmt.Errorf("container provider unavailable: %v", r)
		}
	}()

	return start()
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	if pool == nil {
		t.Skip("postgres is not available")
	}

	ctx := context.Background()

	_, err := pool.Exec(
		ctx,
		"TRUNCATE bybit_listings, binance_listings, exchange_rates, run_metadata RESTART IDENTITY",
	)
	require.NoError(t, err)

	return NewStorage(pool)
}

func testListings(base time.Time, prices ...float64) []*types.Listing {
	out := make([]*types.Listing, 0, len(prices))

	for i, p := range prices {
		out = append(out, &types.Listing{
			Price:           p,
			CapturedAt:      base.Add(time.Duration(i) * time.Microsecond),
			AvailableAmount: "1,000 USDT",
			PaymentMethods:  "Bank Transfer, Opay",
			MerchantName:    "merchant",
		})
	}

	return out
}

// The tests share one database, so they run sequentially
func TestStorage_SaveListings(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("idempotent batch", func(t *testing.T) {
		var (
			s     = newTestStorage(t)
			ctx   = context.Background()
			batch = testListings(base, 1500.25, 1510, 1520)
		)

		first, err := s.SaveListings(ctx, types.SourceBybit, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, first.Written)

		second, err := s.SaveListings(ctx, types.SourceBybit, batch)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Written)
		assert.Equal(t, 3, second.Skipped)

		rows, err := s.QueryLatest(ctx, types.SourceBybit, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)

		assert.Equal(t, 1520.0, rows[0].Price)
		assert.True(t, base.Add(2*time.Microsecond).Equal(rows[0].CapturedAt))
		assert.Equal(t, "Bank Transfer, Opay", rows[0].PaymentMethods)
	})

	t.Run("rollback mid-batch", func(t *testing.T) {
		var (
			s   = newTestStorage(t)
			ctx = context.Background()
		)

		batch := testListings(base, 1500, 1510, -1, 1530)

		_, err := s.SaveListings(ctx, types.SourceBinance, batch)
		require.ErrorIs(t, err, storage.ErrPersistence)

		rows, err := s.QueryLatest(ctx, types.SourceBinance, 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("price ordering", func(t *testing.T) {
		var (
			s   = newTestStorage(t)
			ctx = context.Background()
		)

		_, err := s.SaveListings(ctx, types.SourceBinance, testListings(base, 0.95, 0.91, 0.93))
		require.NoError(t, err)

		asc, err := s.QueryByPrice(ctx, types.SourceBinance, 10, true)
		require.NoError(t, err)
		require.Len(t, asc, 3)
		assert.Equal(t, 0.91, asc[0].Price)

		desc, err := s.QueryByPrice(ctx, types.SourceBinance, 1, false)
		require.NoError(t, err)
		require.Len(t, desc, 1)
		assert.Equal(t, 0.95, desc[0].Price)
	})

	t.Run("large prices keep their value", func(t *testing.T) {
		var (
			s   = newTestStorage(t)
			ctx = context.Background()
		)

		res, err := s.SaveListings(ctx, types.SourceBybit, testListings(base, 1e11, 9.5e15))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Written)

		rows, err := s.QueryByPrice(ctx, types.SourceBybit, 10, true)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, 1e11, rows[0].Price)
		assert.Equal(t, 9.5e15, rows[1].Price)
	})
}

func TestStorage_ExchangeRatesAndRuns(t *testing.T) {
	var (
		s   = newTestStorage(t)
		ctx = context.Background()
	)

	for _, rate := range []float64{655.957, 656.5} {
		require.NoError(t, s.SaveExchangeRate(ctx, &types.ExchangeRate{
			From:      currencies.EUR,
			To:        currencies.XAF,
			Rate:      rate,
			FetchedAt: time.Now(),
		}))
	}

	to := currencies.XAF

	rates, err := s.ListExchangeRates(ctx, &types.RateQuery{To: &to, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, 656.5, rates[0].Rate)

	require.NoError(t, s.SaveRunMetadata(ctx, &types.RunMetadata{
		RunID: "run-1",
		Token: currencies.USDT,
		Fiat:  "NGN,EUR",
		Side:  types.SideBUY,
		Counts: map[types.Source]int{
			types.SourceBybit:   10,
			types.SourceBinance: 4,
		},
		CreatedAt: time.Now(),
	}))

	var total int

	require.NoError(t, pool.QueryRow(
		ctx,
		"SELECT total_bybit_listings + total_binance_listings FROM run_metadata WHERE run_id = $1",
		"run-1",
	).Scan(&total))

	assert.Equal(t, 14, total)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, types.SideBUY, runs[0].Side)
	assert.Equal(t, 10, runs[0].Counts[types.SourceBybit])
	assert.Equal(t, 4, runs[0].Counts[types.SourceBinance])

	assert.NoError(t, s.Ping(ctx))
}
