package coingecko

import (
	"context"
	"log/slog"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// Source is the CoinGecko price source. Failures are logged and reported as
// missing rates.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) FetchOne(ctx context.Context, code string) (decimal.Decimal, bool) {
	q := s.FetchMany(ctx, []string{code})
	rate, ok := q[code]
	return rate, ok
}

func (s *Source) FetchMany(ctx context.Context, codes []string) domain.Quote {
	q, err := s.client.SimplePrice(ctx, codes)
	if err != nil {
		slog.Warn("CoinGecko simple price failed", slog.Int("codes", len(codes)), slog.Any("error", err))
		return domain.Quote{}
	}
	return q.Filter(codes)
}
