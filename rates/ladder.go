// Package rates derives cross-currency rate ladders from P2P quotes
package rates

import (
	"math"
	"strconv"

	"github.com/sig-0/p2pquotes/storage/types"
)

// DefaultMarkups are the ladder steps, in percent
var DefaultMarkups = []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5}

// notional is the amount of the target fiat the ladder is quoted for
const notional = 1000

// DeriveLadder derives a rate per markup step.
// For markup m (percent):
//
//	intermediate = (base/100*m + base) * high
//	derived      = (notional / intermediate) * low
//
// high is the highest quote of the high source and low the lowest quote of
// the low source. Steps yielding a non-finite or non-positive rate are
// omitted, so the ladder may be shorter than the markup list, or empty
func DeriveLadder(base, high, low float64, markups []float64) []types.LadderEntry {
	ladder := make([]types.LadderEntry, 0, len(markups))

	if !types.ValidPrice(base) || !types.ValidPrice(high) || !types.ValidPrice(low) {
		return ladder
	}

	for _, m := range markups {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			continue
		}

		intermediate := (base/100*m + base) * high
		if !types.ValidPrice(intermediate) {
			continue
		}

		derived := (notional / intermediate) * low
		if !types.ValidPrice(derived) {
			continue
		}

		ladder = append(ladder, types.LadderEntry{
			Label:            Label(m),
			Markup:           m,
			IntermediateRate: intermediate,
			DerivedRate:      derived,
		})
	}

	return ladder
}

// Label formats the markup as a percentage (ex. 2.5%)
func Label(markup float64) string {
	return strconv.FormatFloat(markup, 'f', -1, 64) + "%"
}

// Extremes returns the lowest and highest price of the listings.
// ok is false if there are no valid prices
func Extremes(listings []*types.Listing) (low, high float64, ok bool) {
	for _, l := range listings {
		if l == nil || !l.Valid() {
			continue
		}

		if !ok {
			low, high, ok = l.Price, l.Price, true

			continue
		}

		low = math.Min(low, l.Price)
		high = math.Max(high, l.Price)
	}

	return low, high, ok
}
