package server

import "github.com/sig-0/p2pquotes/storage/types"

type ListingsResponse struct {
	Source  types.Source           `json:"source"`
	Order   string                 `json:"order"`
	Results []*types.StoredListing `json:"results"`
}

type RatesResponse struct {
	Results []*types.ExchangeRate `json:"results"`
}

type RunsResponse struct {
	Results []*types.RunMetadata `json:"results"`
}

type LadderResponse struct {
	Token   types.Currency      `json:"token"`
	Side    types.Side          `json:"side"`
	Results []types.LadderEntry `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
