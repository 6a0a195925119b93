//nolint:tagliatelle // Binance API uses camel case
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/provider/price"
	"github.com/sig-0/p2pquotes/storage/types"
)

// DefaultURL is the Binance P2P advertisement search endpoint
const DefaultURL = "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"

// Origin is the Origin header the search endpoint expects
const Origin = "https://p2p.binance.com"

const paymentMethodSeparator = ", "

var errMissingData = errors.New("response is missing the data field")

// Poster posts a JSON body and returns the raw response
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

// searchRequest is the request body for the Binance P2P API
type searchRequest struct {
	PublisherType *string        `json:"publisherType"`
	Asset         types.Currency `json:"asset"`
	Fiat          types.Currency `json:"fiat"`
	TradeType     types.Side     `json:"tradeType"`
	PayTypes      []string       `json:"payTypes"`
	Page          int            `json:"page"`
	Rows          int            `json:"rows"`
	MerchantCheck bool           `json:"merchantCheck"`
}

// searchResponse is the response from the Binance P2P API
type searchResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Data    []offer `json:"data"`
}

type offer struct {
	Adv        adv        `json:"adv"`
	Advertiser advertiser `json:"advertiser"`
}

type adv struct {
	Price            string        `json:"price"`
	SurplusAmount    string        `json:"surplusAmount"`
	TradableQuantity string        `json:"tradableQuantity"`
	TradeMethods     []tradeMethod `json:"tradeMethods"`
}

type tradeMethod struct {
	Identifier string `json:"identifier"`
}

type advertiser struct {
	NickName string `json:"nickName"`
}

// Adapter fetches P2P advertisements from the Binance REST API
type Adapter struct {
	client Poster
	url    string

	payTypes      []string
	rows          int
	pages         int
	merchantCheck bool
}

type Option func(a *Adapter)

// WithURL overrides the search endpoint
func WithURL(url string) Option {
	return func(a *Adapter) {
		a.url = url
	}
}

// WithPaging sets the rows per page and the max number of pages
func WithPaging(rows, pages int) Option {
	return func(a *Adapter) {
		a.rows = rows
		a.pages = pages
	}
}

// WithMerchantCheck restricts the search to verified merchants
func WithMerchantCheck(check bool) Option {
	return func(a *Adapter) {
		a.merchantCheck = check
	}
}

// WithPayTypes restricts the search to the given payment methods
func WithPayTypes(payTypes []string) Option {
	return func(a *Adapter) {
		a.payTypes = payTypes
	}
}

// NewAdapter creates a new instance of the Binance P2P adapter
func NewAdapter(client Poster, opts ...Option) *Adapter {
	a := &Adapter{
		client:        client,
		url:           DefaultURL,
		rows:          10,
		pages:         3,
		merchantCheck: true,
		payTypes:      []string{},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *Adapter) Source() types.Source {
	return types.SourceBinance
}

func (a *Adapter) Fetch(ctx context.Context, q types.Query) (*types.FetchResult, error) {
	var (
		listings = make([]*types.Listing, 0, a.rows*a.pages)
		seen     int
	)

	for page := 1; page <= a.pages; page++ {
		offers, err := a.fetchPage(ctx, q, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		if len(offers) == 0 {
			break
		}

		seen += len(offers)

		for _, o := range offers {
			p, ok := price.Clean(o.Adv.Price)
			if !ok {
				continue
			}

			available := strings.TrimSpace(o.Adv.SurplusAmount)
			if available == "" {
				available = strings.TrimSpace(o.Adv.TradableQuantity)
			}

			listings = append(listings, &types.Listing{
				Source:          types.SourceBinance,
				Price:           p,
				AvailableAmount: available,
				PaymentMethods:  joinPaymentMethods(o.Adv.TradeMethods),
				MerchantName:    provider.MerchantOrUnknown(o.Advertiser.NickName),
			})
		}

		if len(offers) < a.rows {
			break // last page
		}
	}

	provider.SortByPrice(listings)

	return &types.FetchResult{
		Success:  true,
		Listings: listings,
		Meta: types.FetchMeta{
			Source:    types.SourceBinance,
			Query:     q,
			RowsSeen:  seen,
			RowsValid: len(listings),
		},
	}, nil
}

// fetchPage queries a single page of advertisements
func (a *Adapter) fetchPage(ctx context.Context, q types.Query, page int) ([]offer, error) {
	req := searchRequest{
		Asset:         q.Asset,
		Fiat:          q.Fiat,
		TradeType:     q.Side,
		MerchantCheck: a.merchantCheck,
		PayTypes:      a.payTypes,
		Page:          page,
		Rows:          a.rows,
	}

	body, err := a.client.PostJSON(ctx, a.url, req)
	if err != nil {
		if provider.IsTimeout(err) {
			return nil, provider.NewTimeoutError(err)
		}

		return nil, provider.NewRequestError(err)
	}

	var resp searchResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, provider.NewStructuralError(fmt.Errorf("unable to decode response: %w", err))
	}

	if resp.Data == nil {
		err = errMissingData
		if resp.Message != "" {
			err = fmt.Errorf("%w (code %s: %s)", errMissingData, resp.Code, resp.Message)
		}

		return nil, provider.NewStructuralError(err)
	}

	return resp.Data, nil
}

func joinPaymentMethods(methods []tradeMethod) string {
	ids := make([]string, 0, len(methods))

	for _, m := range methods {
		if id := strings.TrimSpace(m.Identifier); id != "" {
			ids = append(ids, id)
		}
	}

	return strings.Join(ids, paymentMethodSeparator)
}
