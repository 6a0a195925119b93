package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/provider/price"
	"github.com/sig-0/p2pquotes/provider/render"
	"github.com/sig-0/p2pquotes/storage/types"
)

// DefaultURL is the Bybit OTC marketplace page
const DefaultURL = "https://www.bybit.com/fiat/trade/otc"

const (
	DefaultWaitTimeout = 30 * time.Second
	DefaultSettleDelay = 5 * time.Second

	tableSelector = "tbody"
	rowSelector   = "tbody tr"
)

// Cell positions in a marketplace row
const (
	cellPrice = iota + 1
	cellAvailable
	cellPaymentMethods
	cellMerchant
)

// Adapter scrapes the rendered Bybit OTC marketplace
type Adapter struct {
	browser render.Browser
	clock   provider.Clock
	url     string

	waitTimeout time.Duration
	settleDelay time.Duration
}

type Option func(a *Adapter)

// WithURL overrides the marketplace page URL
func WithURL(url string) Option {
	return func(a *Adapter) {
		a.url = url
	}
}

// WithWaitTimeout sets how long the table is awaited
func WithWaitTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.waitTimeout = d
	}
}

// WithSettleDelay sets the pause after the table shows up,
// giving the dynamic rows time to fill in
func WithSettleDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.settleDelay = d
	}
}

// WithClock overrides the clock used for the settle delay
func WithClock(c provider.Clock) Option {
	return func(a *Adapter) {
		a.clock = c
	}
}

// NewAdapter creates a new instance of the Bybit marketplace adapter
func NewAdapter(browser render.Browser, opts ...Option) *Adapter {
	a := &Adapter{
		browser:     browser,
		clock:       provider.SystemClock{},
		url:         DefaultURL,
		waitTimeout: DefaultWaitTimeout,
		settleDelay: DefaultSettleDelay,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *Adapter) Source() types.Source {
	return types.SourceBybit
}

// PageURL builds the marketplace URL for the query
func (a *Adapter) PageURL(q types.Query) string {
	actionType := "0"
	if q.Side == types.SideBUY {
		actionType = "1"
	}

	values := url.Values{}
	values.Set("actionType", actionType)
	values.Set("token", q.Asset.String())
	values.Set("fiat", q.Fiat.String())

	return a.url + "?" + values.Encode()
}

func (a *Adapter) Fetch(ctx context.Context, q types.Query) (*types.FetchResult, error) {
	if err := a.browser.LoadPage(ctx, a.PageURL(q)); err != nil {
		return nil, classify(err)
	}

	if err := a.browser.WaitForSelector(ctx, tableSelector, a.waitTimeout); err != nil {
		return nil, classify(err)
	}

	if err := a.clock.Sleep(ctx, a.settleDelay); err != nil {
		return nil, classify(err)
	}

	rows, err := a.browser.ReadRows(ctx, rowSelector)
	if err != nil {
		return nil, classify(err)
	}

	listings := make([]*types.Listing, 0, len(rows))

	for _, row := range rows {
		p, ok := price.Clean(cell(row, cellPrice))
		if !ok {
			continue
		}

		listings = append(listings, &types.Listing{
			Source:          types.SourceBybit,
			Price:           p,
			AvailableAmount: cell(row, cellAvailable),
			PaymentMethods:  cell(row, cellPaymentMethods),
			MerchantName:    provider.MerchantOrUnknown(cell(row, cellMerchant)),
		})
	}

	provider.SortByPrice(listings)

	return &types.FetchResult{
		Success:  true,
		Listings: listings,
		Meta: types.FetchMeta{
			Source:    types.SourceBybit,
			Query:     q,
			RowsSeen:  len(rows),
			RowsValid: len(listings),
		},
	}, nil
}

// cell returns the trimmed cell text, or empty if the row is short
func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}

// classify maps rendering failures onto fetch errors
func classify(err error) error {
	switch {
	case errors.Is(err, render.ErrSelectorTimeout), provider.IsTimeout(err):
		return provider.NewTimeoutError(err)
	case errors.Is(err, context.Canceled):
		return provider.NewCancelledError(err)
	default:
		return provider.NewRenderError(fmt.Errorf("unable to render page: %w", err))
	}
}
