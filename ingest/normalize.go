package ingest

import (
	"time"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/storage/types"
)

// normalize prepares fetched listings for persistence.
// Invalid listings are dropped, the rest are sorted by price and stamped
// with strictly increasing capture times starting at base, one microsecond
// apart, so every (price, captured at, merchant) triple of the batch is distinct
// and survives a microsecond-precision store
func normalize(
	source types.Source,
	listings []*types.Listing,
	base time.Time,
) ([]*types.Listing, int) {
	out := make([]*types.Listing, 0, len(listings))

	for _, l := range listings {
		if l == nil || !l.Valid() {
			continue
		}

		out = append(out, l)
	}

	provider.SortByPrice(out)

	base = base.UTC().Truncate(time.Microsecond)

	for i, l := range out {
		l.Source = source
		l.MerchantName = provider.MerchantOrUnknown(l.MerchantName)
		l.CapturedAt = base.Add(time.Duration(i) * time.Microsecond)
	}

	return out, len(listings) - len(out)
}
