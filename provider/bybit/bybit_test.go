package bybit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/provider/currencies"
	"github.com/sig-0/p2pquotes/provider/render"
	"github.com/sig-0/p2pquotes/storage/types"
)

type (
	loadPageDelegate        func(context.Context, string) error
	waitForSelectorDelegate func(context.Context, string, time.Duration) error
	readRowsDelegate        func(context.Context, string) ([][]string, error)
)

type mockBrowser struct {
	loadPageFn        loadPageDelegate
	waitForSelectorFn waitForSelectorDelegate
	readRowsFn        readRowsDelegate
}

func (m *mockBrowser) LoadPage(ctx context.Context, url string) error {
	if m.loadPageFn != nil {
		return m.loadPageFn(ctx, url)
	}

	return nil
}

func (m *mockBrowser) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if m.waitForSelectorFn != nil {
		return m.waitForSelectorFn(ctx, selector, timeout)
	}

	return nil
}

func (m *mockBrowser) ReadRows(ctx context.Context, selector string) ([][]string, error) {
	if m.readRowsFn != nil {
		return m.readRowsFn(ctx, selector)
	}

	return nil, nil
}

// fakeClock records sleeps without blocking
type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)

	return ctx.Err()
}

var testQuery = types.Query{
	Asset: currencies.USDT,
	Fiat:  currencies.NGN,
	Side:  types.SideBUY,
}

func TestAdapter_PageURL(t *testing.T) {
	t.Parallel()

	a := NewAdapter(&mockBrowser{})

	assert.Equal(
		t,
		"https://www.bybit.com/fiat/trade/otc?actionType=1&fiat=NGN&token=USDT",
		a.PageURL(testQuery),
	)

	sell := testQuery
	sell.Side = types.SideSELL

	assert.Contains(t, a.PageURL(sell), "actionType=0")
}

func TestAdapter_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("rows are mapped and sorted", func(t *testing.T) {
		t.Parallel()

		var (
			clock = &fakeClock{}
			calls []string

			browser = &mockBrowser{
				loadPageFn: func(_ context.Context, url string) error {
					calls = append(calls, "load")

					assert.Contains(t, url, "token=USDT")

					return nil
				},
				waitForSelectorFn: func(_ context.Context, selector string, timeout time.Duration) error {
					calls = append(calls, "wait")

					assert.Equal(t, "tbody", selector)
					assert.Equal(t, time.Second*10, timeout)

					return nil
				},
				readRowsFn: func(_ context.Context, selector string) ([][]string, error) {
					calls = append(calls, "read")

					assert.Equal(t, "tbody tr", selector)

					return [][]string{
						{"alice", "₦1,580.00\nNGN", "120 USDT", "Bank Transfer\nOPay", "alice"},
						{"bob", "1,575.10", "50 USDT", "Palmpay", ""},
						{"header", "Price"},
						{"carol", "1,575.10"},
						{"dave"},
					}, nil
				},
			}

			a = NewAdapter(
				browser,
				WithClock(clock),
				WithWaitTimeout(time.Second*10),
			)
		)

		res, err := a.Fetch(context.Background(), testQuery)
		require.NoError(t, err)

		assert.Equal(t, []string{"load", "wait", "read"}, calls)
		assert.Equal(t, []time.Duration{DefaultSettleDelay}, clock.sleeps)

		assert.True(t, res.Success)
		assert.Equal(t, 5, res.Meta.RowsSeen)
		assert.Equal(t, 3, res.Meta.RowsValid)
		assert.Equal(t, testQuery, res.Meta.Query)

		require.Len(t, res.Listings, 3)

		// Equal prices keep their page order
		assert.Equal(t, 1575.1, res.Listings[0].Price)
		assert.Equal(t, types.UnknownMerchant, res.Listings[0].MerchantName)
		assert.Equal(t, "Palmpay", res.Listings[0].PaymentMethods)

		assert.Equal(t, 1575.1, res.Listings[1].Price)
		assert.Empty(t, res.Listings[1].AvailableAmount)
		assert.Empty(t, res.Listings[1].PaymentMethods)
		assert.Equal(t, types.UnknownMerchant, res.Listings[1].MerchantName)

		assert.Equal(t, 1580.0, res.Listings[2].Price)
		assert.Equal(t, "120 USDT", res.Listings[2].AvailableAmount)
		assert.Equal(t, "Bank Transfer\nOPay", res.Listings[2].PaymentMethods)
		assert.Equal(t, "alice", res.Listings[2].MerchantName)
		assert.Equal(t, types.SourceBybit, res.Listings[2].Source)
	})

	t.Run("empty table", func(t *testing.T) {
		t.Parallel()

		a := NewAdapter(&mockBrowser{}, WithClock(&fakeClock{}))

		res, err := a.Fetch(context.Background(), testQuery)
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Empty(t, res.Listings)
	})

	t.Run("selector timeout is transient", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{}

		a := NewAdapter(&mockBrowser{
			waitForSelectorFn: func(_ context.Context, _ string, _ time.Duration) error {
				return render.ErrSelectorTimeout
			},
		}, WithClock(clock))

		res, err := a.Fetch(context.Background(), testQuery)

		assert.Nil(t, res)
		assert.True(t, provider.IsTransient(err))
		assert.Equal(t, provider.CodeTimeout, provider.Code(err))
		assert.Empty(t, clock.sleeps)
	})

	t.Run("attempt deadline during settle is transient", func(t *testing.T) {
		t.Parallel()

		ctx, cancelFn := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancelFn()

		a := NewAdapter(&mockBrowser{}, WithClock(&fakeClock{}))

		_, err := a.Fetch(ctx, testQuery)

		assert.True(t, provider.IsTransient(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		ctx, cancelFn := context.WithCancel(context.Background())
		cancelFn()

		a := NewAdapter(&mockBrowser{}, WithClock(&fakeClock{}))

		_, err := a.Fetch(ctx, testQuery)

		assert.False(t, provider.IsTransient(err))
		assert.Equal(t, provider.CodeCancelled, provider.Code(err))
	})

	t.Run("render failure", func(t *testing.T) {
		t.Parallel()

		a := NewAdapter(&mockBrowser{
			loadPageFn: func(_ context.Context, _ string) error {
				return errors.New("browser crashed")
			},
		})

		_, err := a.Fetch(context.Background(), testQuery)

		assert.False(t, provider.IsTransient(err))
		assert.Equal(t, provider.CodeRenderFailed, provider.Code(err))
	})
}
