package quant

import (
	"strings"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	// BTCDisplayDigits is the maximum number of fractional digits shown for BTC.
	BTCDisplayDigits = 8

	defaultFiatDigits = 2
)

// FractionDigits returns the canonical number of fractional digits for an
// ISO 4217 currency code (2 for USD, 0 for JPY, 3 for BHD).
// Unknown codes fall back to 2.
func FractionDigits(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return defaultFiatDigits
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// FormatSats renders a satoshi amount as a grouped integer ("100,000,000").
func FormatSats(sats decimal.Decimal) string {
	return group(sats.RoundBank(0), 0)
}

// FormatBTC renders a bitcoin amount with up to 8 fractional digits and no
// trailing zeros ("2", "0.00001841", "1,234.5").
func FormatBTC(btc decimal.Decimal) string {
	r := btc.RoundBank(BTCDisplayDigits)
	return group(r, fracDigits(r))
}

// FormatFiat renders a currency amount with the currency's canonical
// fractional digits ("54,321.00").
func FormatFiat(v decimal.Decimal, code string) string {
	n := FractionDigits(code)
	return group(v.RoundBank(int32(n)), n)
}

func group(d decimal.Decimal, precision int) string {
	return accounting.FormatNumberDecimal(d, precision, GroupSeparator, DecimalSeparator)
}

// fracDigits counts significant fractional digits; String() drops trailing zeros.
func fracDigits(d decimal.Decimal) int {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
