// Package fx provides the base exchange rates the quote ladders are derived from
package fx

import (
	"context"
	"errors"
	"fmt"

	"github.com/sig-0/p2pquotes/provider/currencies"
	"github.com/sig-0/p2pquotes/storage/types"
)

// ErrUnavailable is returned when no rate can be provided for the pair
var ErrUnavailable = errors.New("exchange rate unavailable")

// EURXAF is the fixed CFA franc peg
const EURXAF = 655.957

// RateSource provides the exchange rate for a currency pair
type RateSource interface {
	// GetRate returns how many units of to one unit of from buys
	GetRate(ctx context.Context, from, to types.Currency) (float64, error)
}

// Pair is a directed currency pair
type Pair struct {
	From types.Currency
	To   types.Currency
}

func (p Pair) String() string {
	return p.From.String() + "/" + p.To.String()
}

// Fixed serves static (pegged) rates.
// The inverse of a known pair is served as well
type Fixed map[Pair]float64

// DefaultFixed returns the known currency pegs
func DefaultFixed() Fixed {
	return Fixed{
		{From: currencies.EUR, To: currencies.XAF}: EURXAF,
	}
}

func (f Fixed) GetRate(_ context.Context, from, to types.Currency) (float64, error) {
	if from == to {
		return 1, nil
	}

	if rate, ok := f[Pair{From: from, To: to}]; ok && types.ValidPrice(rate) {
		return rate, nil
	}

	if rate, ok := f[Pair{From: to, To: from}]; ok && types.ValidPrice(rate) {
		return 1 / rate, nil
	}

	return 0, fmt.Errorf("%w: no fixed rate for %s/%s", ErrUnavailable, from, to)
}

// Chain asks each source in order, returning the first rate found
type Chain []RateSource

func (c Chain) GetRate(ctx context.Context, from, to types.Currency) (float64, error) {
	errs := make([]error, 0, len(c))

	for _, source := range c {
		rate, err := source.GetRate(ctx, from, to)
		if err == nil {
			return rate, nil
		}

		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return 0, fmt.Errorf("%w: no rate sources", ErrUnavailable)
	}

	return 0, errors.Join(errs...)
}
