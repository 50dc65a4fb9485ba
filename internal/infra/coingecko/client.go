package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/infra"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"
)

// CoinGecko docs: https://docs.coingecko.com/
// Endpoint used: /simple/price?ids=bitcoin&vs_currencies=<codes>
const (
	BaseURL = "https://api.coingecko.com/api/v3"

	// Auth header: works for free & pro keys.
	APIKeyHeader = "x-cg-pro-api-key"

	coinID = "bitcoin"
)

var parserPool fastjson.ParserPool

// Client calls the CoinGecko simple price endpoint.
type Client struct {
	baseURL string
	fetcher *infra.HTTPFetcher
}

// NewClient creates a client for baseURL (BaseURL when empty). The API key,
// if any, is sent by fetcher; see Header.
func NewClient(baseURL string, fetcher *infra.HTTPFetcher) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
	}
}

// Header returns the request headers for apiKey (nil when empty).
func Header(apiKey string) map[string][]string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	return map[string][]string{APIKeyHeader: {apiKey}}
}

// SimplePrice returns the BTC price for every code the response contains.
// Codes are sent lower-cased and comma-joined in one request.
func (c *Client) SimplePrice(ctx context.Context, codes []string) (domain.Quote, error) {
	if len(codes) == 0 {
		return domain.Quote{}, nil
	}
	lower := make([]string, len(codes))
	for i, code := range codes {
		lower[i] = strings.ToLower(code)
	}

	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", strings.Join(lower, ","))
	q.Set("precision", "full")

	body, err := c.fetcher.Get(ctx, c.baseURL+"/simple/price", q)
	if err != nil {
		return nil, err
	}
	return parseSimplePrice(body)
}

func parseSimplePrice(body []byte) (domain.Quote, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode simple price: %w", err)
	}
	prices := v.GetObject(coinID)
	if prices == nil {
		return nil, errors.New("coingecko: missing 'bitcoin' key")
	}

	out := make(domain.Quote, prices.Len())
	prices.Visit(func(key []byte, val *fastjson.Value) {
		if val.Type() != fastjson.TypeNumber {
			return
		}
		rate, err := decimal.NewFromString(val.String())
		if err != nil || !rate.IsPositive() {
			return
		}
		out[strings.ToUpper(string(key))] = rate
	})
	return out, nil
}
