//go:build !release

package pricing

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// SyntheticEnabled reports whether the synthetic source may be selected.
const SyntheticEnabled = true

// syntheticRate returns a random rate in [10000, 100000) with two decimals.
func syntheticRate() (decimal.Decimal, bool) {
	cents := syntheticMin*100 + rand.Int64N((syntheticMax-syntheticMin)*100)
	return decimal.New(cents, -2), true
}
