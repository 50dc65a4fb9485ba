package domain

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidCurrencyCode is returned for codes that are not three ASCII letters.
var ErrInvalidCurrencyCode = errors.New("invalid currency code, must be three letters")

// commonCurrencyCodes mirrors the platform list of commonly used ISO 4217 codes
// offered by the currency picker.
var commonCurrencyCodes = []string{
	"AED", "ARS", "AUD", "BDT", "BGN", "BRL", "CAD", "CHF", "CLP", "CNY",
	"COP", "CZK", "DKK", "EGP", "EUR", "GBP", "HKD", "HUF", "IDR", "ILS",
	"INR", "ISK", "JPY", "KES", "KRW", "KWD", "MXN", "MYR", "NGN", "NOK",
	"NZD", "PEN", "PHP", "PKR", "PLN", "RON", "RUB", "SAR", "SEK", "SGD",
	"THB", "TRY", "TWD", "UAH", "USD", "VND", "ZAR",
}

// NormalizeCode upper-cases and validates a currency code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrencyCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "", ErrInvalidCurrencyCode
		}
	}
	return code, nil
}

// CommonCurrencies returns the sorted picker list. The primary currency is
// appended when it is not one of the common codes.
func CommonCurrencies(primary string) []string {
	out := make([]string, len(commonCurrencyCodes), len(commonCurrencyCodes)+1)
	copy(out, commonCurrencyCodes)
	if p, err := NormalizeCode(primary); err == nil {
		i := sort.SearchStrings(out, p)
		if i == len(out) || out[i] != p {
			out = append(out, p)
			sort.Strings(out)
		}
	}
	return out
}
