package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sig-0/p2pquotes/storage/types"
)

func TestSortByPrice(t *testing.T) {
	t.Parallel()

	listings := []*types.Listing{
		{Price: 5, MerchantName: "a"},
		{Price: 2, MerchantName: "b"},
		{Price: 2, MerchantName: "c"},
		{Price: 9, MerchantName: "d"},
	}

	SortByPrice(listings)

	var (
		prices    = make([]float64, 0, len(listings))
		merchants = make([]string, 0, len(listings))
	)

	for _, l := range listings {
		prices = append(prices, l.Price)
		merchants = append(merchants, l.MerchantName)
	}

	assert.Equal(t, []float64{2, 2, 5, 9}, prices)
	assert.Equal(t, []string{"b", "c", "a", "d"}, merchants)
}

func TestMerchantOrUnknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.UnknownMerchant, MerchantOrUnknown(""))
	assert.Equal(t, types.UnknownMerchant, MerchantOrUnknown("  \n"))
	assert.Equal(t, "CryptoKing", MerchantOrUnknown(" CryptoKing "))
}
