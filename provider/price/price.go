// Package price turns raw quote text into validated prices
package price

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sig-0/p2pquotes/storage/types"
)

// Clean parses the raw price text.
// Only the first line is considered (sources append secondary labels on
// the following lines), and everything that is not a digit or a decimal point
// is dropped, so currency symbols and thousands separators vanish.
// The second return value is false if the text holds no storable price
func Clean(raw string) (float64, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, false
	}

	line, _, _ := strings.Cut(raw, "\n")

	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}

		return -1
	}, line)

	if !strings.ContainsAny(digits, "0123456789") {
		return 0, false
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return 0, false
	}

	if !d.IsPositive() {
		return 0, false
	}

	f := d.InexactFloat64()
	if !types.ValidPrice(f) {
		return 0, false
	}

	return f, true
}
