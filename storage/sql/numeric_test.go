package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func TestNumeric_RoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("large prices", func(t *testing.T) {
		t.Parallel()

		for _, price := range []float64{9.3e10, 1e11, 5e15, 1.23456789e19} {
			n := floatToNumeric(price)

			require.True(t, n.Valid)
			assert.Positive(t, n.Int.Sign())
			assert.Equal(t, price, numericToFloat(n))
		}
	})

	t.Run("rounded to the column scale", func(t *testing.T) {
		t.Parallel()

		n := floatToNumeric(0.123456789)

		assert.GreaterOrEqual(t, n.Exp, int32(-8))
		assert.Equal(t, 0.12345679, numericToFloat(n))
	})

	t.Run("regular prices", func(t *testing.T) {
		t.Parallel()

		for _, price := range []float64{0.921, 1234.5, 1580, 655.957} {
			assert.Equal(t, price, numericToFloat(floatToNumeric(price)))
		}
	})
}

func TestStartContainer(t *testing.T) {
	t.Parallel()

	container, err := startContainer(func() (testcontainers.Container, error) {
		panic("rootless Docker not found")
	})

	assert.Nil(t, container)
	assert.ErrorContains(t, err, "rootless Docker not found")
}
