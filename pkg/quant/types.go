package quant

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// SatsPerBTC is the number of satoshis in one bitcoin.
	SatsPerBTC = 100_000_000

	// FracCap is the number of fractional digits kept when a quotient does
	// not terminate. Digits beyond the cap are truncated (rounded toward zero).
	FracCap = 20

	// exactPrecision is the number of fractional digits a quotient may have
	// and still count as exact. A remainder left at this precision means the
	// quotient does not terminate.
	exactPrecision = 38

	// MaxExponent bounds the decimal exponent of parsed input. Larger
	// magnitudes would expand into megabytes of display text.
	MaxExponent = 100

	// MaxDigits bounds the coefficient length of parsed input.
	MaxDigits = 64

	GroupSeparator   = ","
	DecimalSeparator = "."
)

var (
	satsPerBTC = decimal.NewFromInt(SatsPerBTC)

	// SupplyCapBTC is the maximum number of bitcoin that will ever exist.
	SupplyCapBTC = decimal.NewFromInt(21_000_000)
)

// ParseAmount parses user-entered text as a decimal number.
// Grouping separators and surrounding whitespace are ignored.
// Returns false for empty or malformed input and for values outside
// MaxExponent or MaxDigits.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, GroupSeparator, ""))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp > MaxExponent || exp < -MaxExponent || d.NumDigits() > MaxDigits {
		return decimal.Zero, false
	}
	return d, true
}

// Div divides a by b. The quotient is exact when it terminates within the
// decimal type's native precision; otherwise it is truncated to FracCap
// fractional digits. Returns false only when b is zero.
func Div(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	q, r := a.QuoRem(b, exactPrecision)
	if r.IsZero() {
		return q, true
	}
	q, _ = a.QuoRem(b, FracCap)
	return q, true
}

// SatsFromBTC converts bitcoin to satoshis. Multiplication is exact.
func SatsFromBTC(btc decimal.Decimal) decimal.Decimal {
	return btc.Mul(satsPerBTC)
}

// BTCFromSats converts satoshis to bitcoin using the Div policy.
func BTCFromSats(sats decimal.Decimal) decimal.Decimal {
	btc, _ := Div(sats, satsPerBTC)
	return btc
}

// ExceedsSupplyCap reports whether btc is above the 21M coin supply.
func ExceedsSupplyCap(btc decimal.Decimal) bool {
	return btc.GreaterThan(SupplyCapBTC)
}
