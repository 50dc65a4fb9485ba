//go:build release

package pricing

import "github.com/shopspring/decimal"

// SyntheticEnabled reports whether the synthetic source may be selected.
const SyntheticEnabled = false

func syntheticRate() (decimal.Decimal, bool) {
	return decimal.Zero, false
}
