package coinbase

import (
	"context"
	"log/slog"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// Source is the Coinbase price source. Failures are logged and reported as
// missing rates.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) FetchOne(ctx context.Context, code string) (decimal.Decimal, bool) {
	rate, err := s.client.Spot(ctx, code)
	if err != nil {
		slog.Warn("Coinbase spot price failed", slog.String("code", code), slog.Any("error", err))
		return decimal.Zero, false
	}
	return rate, true
}

// FetchMany uses the spot endpoint for a single code and the rate table
// otherwise.
func (s *Source) FetchMany(ctx context.Context, codes []string) domain.Quote {
	switch len(codes) {
	case 0:
		return domain.Quote{}
	case 1:
		q := domain.Quote{}
		if rate, ok := s.FetchOne(ctx, codes[0]); ok {
			q[codes[0]] = rate
		}
		return q
	}

	rates, err := s.client.Rates(ctx)
	if err != nil {
		slog.Warn("Coinbase exchange rates failed", slog.Int("codes", len(codes)), slog.Any("error", err))
		return domain.Quote{}
	}
	return rates.Filter(codes)
}
