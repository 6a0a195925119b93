package rates

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/p2pquotes/storage/types"
)

func TestDeriveLadder(t *testing.T) {
	t.Parallel()

	t.Run("default markups", func(t *testing.T) {
		t.Parallel()

		ladder := DeriveLadder(655.957, 0.95, 1580, DefaultMarkups)

		require.Len(t, ladder, len(DefaultMarkups))

		for i, entry := range ladder {
			m := DefaultMarkups[i]

			expectedIntermediate := (655.957/100*m + 655.957) * 0.95

			assert.Equal(t, m, entry.Markup)
			assert.InDelta(t, expectedIntermediate, entry.IntermediateRate, 1e-9)
			assert.InDelta(t, 1000/expectedIntermediate*1580, entry.DerivedRate, 1e-9)
		}

		assert.Equal(t, "1%", ladder[0].Label)
		assert.Equal(t, "2.5%", ladder[3].Label)

		// Higher markups yield lower derived rates
		for i := 1; i < len(ladder); i++ {
			assert.Less(t, ladder[i].DerivedRate, ladder[i-1].DerivedRate)
		}
	})

	t.Run("unit quotes stay finite", func(t *testing.T) {
		t.Parallel()

		ladder := DeriveLadder(655, 1, 1, []float64{3})

		require.Len(t, ladder, 1)
		assert.InDelta(t, 674.65, ladder[0].IntermediateRate, 1e-9)
		assert.InDelta(t, 1000/674.65, ladder[0].DerivedRate, 1e-9)
		assert.False(t, math.IsInf(ladder[0].DerivedRate, 0))
	})

	t.Run("zero base yields an empty ladder", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, DeriveLadder(0, 1, 1, DefaultMarkups))
	})

	t.Run("invalid quotes yield an empty ladder", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, DeriveLadder(655, math.NaN(), 1, DefaultMarkups))
		assert.Empty(t, DeriveLadder(655, 1, -1, DefaultMarkups))
	})

	t.Run("degenerate steps are omitted", func(t *testing.T) {
		t.Parallel()

		// -100% zeroes the intermediate rate
		ladder := DeriveLadder(655, 1, 1, []float64{-100, math.Inf(1), 1})

		require.Len(t, ladder, 1)
		assert.Equal(t, 1.0, ladder[0].Markup)
	})

	t.Run("high and low are not symmetric", func(t *testing.T) {
		t.Parallel()

		a := DeriveLadder(655, 2, 1, []float64{1})
		b := DeriveLadder(655, 1, 2, []float64{1})

		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.NotEqual(t, a[0].DerivedRate, b[0].DerivedRate)
	})
}

func TestExtremes(t *testing.T) {
	t.Parallel()

	low, high, ok := Extremes([]*types.Listing{
		{Price: 1575.1},
		{Price: math.NaN()},
		nil,
		{Price: 1580},
		{Price: 1579},
	})

	require.True(t, ok)
	assert.Equal(t, 1575.1, low)
	assert.Equal(t, 1580.0, high)

	_, _, ok = Extremes(nil)
	assert.False(t, ok)
}
