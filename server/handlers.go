package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sig-0/p2pquotes/export"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

const (
	orderLatest = "latest"
	orderAsc    = "asc"
	orderDesc   = "desc"
)

var (
	errUnableToFetchListings = errors.New("unable to fetch listings")
	errUnableToFetchRates    = errors.New("unable to fetch rates")
	errStoreUnreachable      = errors.New("store unreachable")
	errUnableToFetchRuns     = errors.New("unable to fetch runs")
	errUnableToFetchSummary  = errors.New("unable to fetch run summary")
	errUnableToFetchLadder   = errors.New("unable to fetch ladder")
	errNoRuns                = errors.New("no completed runs yet")
	errNoLadder              = errors.New("no ladder derived yet")

	errInvalidLimit = errors.New("invalid limit")
	errInvalidOrder = errors.New("invalid order (must be latest, asc or desc)")
)

// Health reports whether the store is reachable
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		s.logger.Debug(
			"store ping failed",
			"err", err,
		)

		writeError(w, http.StatusServiceUnavailable, errStoreUnreachable)

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) Listings(w http.ResponseWriter, r *http.Request) {
	var (
		sourceParam = chi.URLParam(r, "source")

		orderParam = r.URL.Query().Get("order")
		limitParam = r.URL.Query().Get("limit")
	)

	source, err := types.ParseSource(sourceParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	order, err := parseOrder(orderParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	limit, err := parseLimit(limitParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	var items []*types.StoredListing

	switch order {
	case orderLatest:
		items, err = s.storage.QueryLatest(r.Context(), source, limit)
	default:
		items, err = s.storage.QueryByPrice(r.Context(), source, limit, order == orderAsc)
	}

	if err != nil {
		s.logger.Debug(
			"unable to fetch listings",
			"source", source,
			"err", err,
		)

		writeError(
			w,
			http.StatusInternalServerError,
			errUnableToFetchListings,
		)

		return
	}

	if items == nil {
		items = []*types.StoredListing{}
	}

	resp := &ListingsResponse{
		Source:  source,
		Order:   order,
		Results: items,
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) Rates(w http.ResponseWriter, r *http.Request) {
	var (
		fromParam  = r.URL.Query().Get("from")
		toParam    = r.URL.Query().Get("to")
		limitParam = r.URL.Query().Get("limit")
	)

	from, err := parseOptionalCurrency(fromParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	to, err := parseOptionalCurrency(toParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	limit, err := parseLimit(limitParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	q := &types.RateQuery{
		From:  from,
		To:    to,
		Limit: limit,
	}

	items, err := s.storage.ListExchangeRates(r.Context(), q)
	if err != nil {
		s.logger.Debug(
			"unable to fetch rates",
			"err", err,
		)

		writeError(
			w,
			http.StatusInternalServerError,
			errUnableToFetchRates,
		)

		return
	}

	if items == nil {
		items = []*types.ExchangeRate{}
	}

	writeJSON(w, http.StatusOK, &RatesResponse{Results: items})
}

// Runs serves the persisted run metadata, newest first
func (s *Server) Runs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	items, err := s.storage.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Debug(
			"unable to fetch runs",
			"err", err,
		)

		writeError(
			w,
			http.StatusInternalServerError,
			errUnableToFetchRuns,
		)

		return
	}

	if items == nil {
		items = []*types.RunMetadata{}
	}

	writeJSON(w, http.StatusOK, &RunsResponse{Results: items})
}

// LatestRun serves the most recent run summary
func (s *Server) LatestRun(w http.ResponseWriter, r *http.Request) {
	latest, err := s.LatestSummary(r.Context())
	if err != nil {
		s.logger.Debug(
			"unable to fetch run summary",
			"err", err,
		)

		writeError(w, http.StatusInternalServerError, errUnableToFetchSummary)

		return
	}

	if latest == nil {
		writeError(w, http.StatusNotFound, errNoRuns)

		return
	}

	writeJSON(w, http.StatusOK, latest)
}

// Ladder serves the last derived ladder for the token and side
func (s *Server) Ladder(w http.ResponseWriter, r *http.Request) {
	token, err := parseCurrencySymbol(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	side, err := types.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	ladder, err := s.LatestLadder(r.Context(), token, side)
	if err != nil {
		s.logger.Debug(
			"unable to fetch ladder",
			"token", token,
			"side", side,
			"err", err,
		)

		writeError(w, http.StatusInternalServerError, errUnableToFetchLadder)

		return
	}

	if len(ladder) == 0 {
		writeError(w, http.StatusNotFound, errNoLadder)

		return
	}

	writeJSON(w, http.StatusOK, &LadderResponse{
		Token:   token,
		Side:    side,
		Results: ladder,
	})
}

// LatestSummary returns the most recent run summary exported by this process,
// falling back to the shared summary store after a restart.
// Nil is returned if no run completed yet
func (s *Server) LatestSummary(ctx context.Context) (*types.RunSummary, error) {
	if latest := s.latestSummary(); latest != nil {
		return latest, nil
	}

	if s.summaries == nil {
		return nil, nil
	}

	shared, err := s.summaries.Latest(ctx)
	if errors.Is(err, export.ErrNoSummary) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return shared, nil
}

// LatestLadder returns the last derived ladder for the token and side,
// or nil if none was derived yet
func (s *Server) LatestLadder(
	ctx context.Context,
	token types.Currency,
	side types.Side,
) ([]types.LadderEntry, error) {
	if ladder := s.localLadder(token, side); len(ladder) > 0 {
		return ladder, nil
	}

	if s.summaries == nil {
		return nil, nil
	}

	ladder, err := s.summaries.Ladder(ctx, token, side)
	if errors.Is(err, export.ErrNoSummary) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return ladder, nil
}

func (s *Server) latestSummary() *types.RunSummary {
	s.latestMux.RLock()
	defer s.latestMux.RUnlock()

	return s.latest
}

// localLadder returns the ladder of the latest exported summary,
// if it was derived for the token and side
func (s *Server) localLadder(token types.Currency, side types.Side) []types.LadderEntry {
	latest := s.latestSummary()
	if latest == nil || latest.Token != token || latest.Side != side {
		return nil
	}

	return latest.Ladder
}

func parseOrder(v string) (string, error) {
	switch o := strings.ToLower(strings.TrimSpace(v)); o {
	case "":
		return orderLatest, nil
	case orderLatest, orderAsc, orderDesc:
		return o, nil
	default:
		return "", errInvalidOrder
	}
}

func parseLimit(limitRaw string) (int, error) {
	v := strings.TrimSpace(limitRaw)
	if v == "" {
		return storage.DefaultLimit, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errInvalidLimit
	}

	return storage.ClampLimit(n), nil
}

func parseOptionalCurrency(v string) (*types.Currency, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}

	c, err := parseCurrencySymbol(v)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func parseCurrencySymbol(v string) (types.Currency, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	if len(s) < 3 || len(s) > 5 {
		return "", errors.New("invalid currency (must be 3 to 5 letters)")
	}

	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return "", errors.New("invalid currency (must be A-Z)")
		}
	}

	return types.Currency(s), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Fine to ignore
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := &ErrorResponse{
		Error: err.Error(),
	}

	writeJSON(w, status, resp)
}
