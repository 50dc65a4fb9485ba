package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Quote maps a currency code to the price of 1 BTC in that currency.
// Codes are upper-case; a code appears at most once.
type Quote map[string]decimal.Decimal

// Codes returns the quoted currency codes in sorted order.
func (q Quote) Codes() []string {
	codes := make([]string, 0, len(q))
	for code := range q {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Clone returns an independent copy of q.
func (q Quote) Clone() Quote {
	out := make(Quote, len(q))
	for code, rate := range q {
		out[code] = rate
	}
	return out
}

// Filter keeps only the requested codes with a positive rate.
func (q Quote) Filter(codes []string) Quote {
	out := make(Quote, len(codes))
	for _, code := range codes {
		if rate, ok := q[code]; ok && rate.IsPositive() {
			out[code] = rate
		}
	}
	return out
}
