package provider

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sig-0/p2pquotes/storage/types"
)

// SortByPrice sorts the listings ascending by price.
// Equal prices keep their source order
func SortByPrice(listings []*types.Listing) {
	slices.SortStableFunc(listings, func(a, b *types.Listing) int {
		return cmp.Compare(a.Price, b.Price)
	})
}

// MerchantOrUnknown defaults empty merchant names
func MerchantOrUnknown(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return types.UnknownMerchant
	}

	return name
}
