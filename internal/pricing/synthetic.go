package pricing

import (
	"context"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// Bounds of synthetic rates.
const (
	syntheticMin = 10_000
	syntheticMax = 100_000
)

// Synthetic returns plausible random rates so the converter can be exercised
// offline. Release builds disable it; see SyntheticEnabled.
type Synthetic struct{}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

func (s *Synthetic) FetchOne(_ context.Context, _ string) (decimal.Decimal, bool) {
	return syntheticRate()
}

func (s *Synthetic) FetchMany(_ context.Context, codes []string) domain.Quote {
	q := make(domain.Quote, len(codes))
	for _, code := range codes {
		if rate, ok := syntheticRate(); ok {
			q[code] = rate
		}
	}
	return q
}
