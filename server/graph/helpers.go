package graph

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

const (
	orderLatest = "LATEST"
	orderAsc    = "ASC"
	orderDesc   = "DESC"
)

var (
	errInvalidLimit = errors.New("invalid limit")
	errInvalidOrder = errors.New("invalid order")
	errInvalidCcy   = errors.New("invalid currency (must be 3 to 5 letters A-Z)")
)

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)

	return v
}

// parseLimit reads the optional limit argument, applying the store bounds
func parseLimit(args map[string]any) (int, error) {
	raw, ok := args["limit"]
	if !ok || raw == nil {
		return storage.DefaultLimit, nil
	}

	n, ok := toInt(raw)
	if !ok || n < 0 {
		return 0, errInvalidLimit
	}

	return storage.ClampLimit(n), nil
}

// toInt converts literal and variable integer arguments
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := n.Int64()

		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)

		return i, err == nil
	default:
		return 0, false
	}
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
		return "", errInvalidCcy
	}

	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return "", errInvalidCcy
		}
	}

	return types.Currency(s), nil
}

func toListing(in *types.StoredListing) object {
	return object{
		"id":              strconv.FormatInt(in.ID, 10),
		"source":          in.Source.String(),
		"price":           in.Price,
		"availableAmount": in.AvailableAmount,
		"paymentMethods":  in.PaymentMethods,
		"merchantName":    in.MerchantName,
		"capturedAt":      in.CapturedAt,
	}
}

func toExchangeRate(in *types.ExchangeRate) object {
	if in == nil {
		return nil
	}

	return object{
		"from":      in.From.String(),
		"to":        in.To.String(),
		"rate":      in.Rate,
		"fetchedAt": in.FetchedAt,
	}
}

func toRun(in *types.RunMetadata) object {
	counts := make([]object, 0, len(types.Sources))
	for _, source := range types.Sources {
		counts = append(counts, object{
			"source":   source.String(),
			"listings": in.Counts[source],
		})
	}

	return object{
		"runId":     in.RunID,
		"token":     in.Token.String(),
		"fiat":      in.Fiat,
		"side":      in.Side.String(),
		"counts":    counts,
		"createdAt": in.CreatedAt,
	}
}

func toLadder(in []types.LadderEntry) []object {
	out := make([]object, 0, len(in))

	for _, entry := range in {
		out = append(out, object{
			"label":            entry.Label,
			"markup":           entry.Markup,
			"intermediateRate": entry.IntermediateRate,
			"derivedRate":      entry.DerivedRate,
		})
	}

	return out
}

func toSourceReport(in *types.SourceReport) object {
	out := object{
		"source":       in.Source.String(),
		"written":      in.Written,
		"skipped":      in.Skipped,
		"dropped":      in.Dropped,
		"persistError": optionalString(in.PersistError),
	}

	if fetch := in.Fetch; fetch != nil {
		out["success"] = fetch.Success
		out["errorCode"] = optionalString(fetch.ErrorCode)
		out["errorMessage"] = optionalString(fetch.ErrorMessage)
		out["rowsSeen"] = fetch.Meta.RowsSeen
		out["rowsValid"] = fetch.Meta.RowsValid
		out["attempts"] = fetch.Meta.Attempts
	} else {
		out["success"] = false
		out["rowsSeen"] = 0
		out["rowsValid"] = 0
		out["attempts"] = 0
	}

	return out
}

func toRunSummary(in *types.RunSummary) object {
	sources := make([]object, 0, len(in.Sources))
	for _, report := range in.Sources {
		sources = append(sources, toSourceReport(report))
	}

	return object{
		"runId":             in.RunID,
		"state":             in.State.String(),
		"token":             in.Token.String(),
		"side":              in.Side.String(),
		"startedAt":         in.StartedAt,
		"finishedAt":        in.FinishedAt,
		"baseRate":          toExchangeRate(in.BaseRate),
		"derivationSkipped": optionalString(in.DerivationSkipped),
		"error":             optionalString(in.Error),
		"sources":           sources,
		"ladder":            toLadder(in.Ladder),
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}

	return &v
}
