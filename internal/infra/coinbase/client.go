package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/infra"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"
)

// Constants for Coinbase API URLs
const (
	RestURL = "https://api.coinbase.com"
	WSURL   = "wss://ws-feed.exchange.coinbase.com"
)

var (
	errPairMismatch = errors.New("spot price pair mismatch")
	errBadRate      = errors.New("invalid rate")
)

// spotResponse is the body of GET /v2/prices/BTC-<CODE>/spot.
type spotResponse struct {
	Data struct {
		Amount   decimal.Decimal `json:"amount"`
		Base     string          `json:"base"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

// Client calls the Coinbase public price endpoints.
type Client struct {
	baseURL string
	fetcher *infra.HTTPFetcher
}

// NewClient creates a client for baseURL (RestURL when empty).
func NewClient(baseURL string, fetcher *infra.HTTPFetcher) *Client {
	if baseURL == "" {
		baseURL = RestURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
	}
}

// Spot returns the spot price of 1 BTC in code. The response pair must be
// BTC-<code>.
func (c *Client) Spot(ctx context.Context, code string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v2/prices/BTC-%s/spot", c.baseURL, url.PathEscape(code))
	body, err := c.fetcher.Get(ctx, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var resp spotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("decode spot price: %w", err)
	}
	if resp.Data.Base != "BTC" || resp.Data.Currency != code {
		return decimal.Zero, fmt.Errorf("%w: got %s-%s, want BTC-%s", errPairMismatch, resp.Data.Base, resp.Data.Currency, code)
	}
	if !resp.Data.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", errBadRate, resp.Data.Amount)
	}
	return resp.Data.Amount, nil
}

var parserPool fastjson.ParserPool

// Rates returns the BTC exchange-rate table. Entries that are not positive
// decimals are skipped.
func (c *Client) Rates(ctx context.Context) (domain.Quote, error) {
	body, err := c.fetcher.Get(ctx, c.baseURL+"/v2/exchange-rates", url.Values{"currency": {"BTC"}})
	if err != nil {
		return nil, err
	}
	return parseRates(body)
}

func parseRates(body []byte) (domain.Quote, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode exchange rates: %w", err)
	}
	if base := string(v.GetStringBytes("data", "currency")); base != "BTC" {
		return nil, fmt.Errorf("exchange rates keyed by %q, want BTC", base)
	}
	rates := v.GetObject("data", "rates")
	if rates == nil {
		return nil, errors.New("exchange rates: missing rates object")
	}

	q := make(domain.Quote, rates.Len())
	rates.Visit(func(key []byte, val *fastjson.Value) {
		rate, ok := decodeRate(val)
		if !ok {
			return
		}
		q[strings.ToUpper(string(key))] = rate
	})
	return q, nil
}

// decodeRate accepts both "123.45" and 123.45.
func decodeRate(v *fastjson.Value) (decimal.Decimal, bool) {
	var raw string
	switch v.Type() {
	case fastjson.TypeString:
		raw = string(v.GetStringBytes())
	case fastjson.TypeNumber:
		raw = v.String()
	default:
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
