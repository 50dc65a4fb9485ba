package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultUserAgent identifies the application to price providers.
const DefaultUserAgent = AppName + "/1.0 (+https://github.com/tyiu/sats-price)"

const maxBodyBytes = 1 << 20

// GetUserAgent returns the User-Agent sent with every request.
func GetUserAgent() string {
	return DefaultUserAgent
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// retryable reports whether another attempt could succeed.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	Name           string
	Timeout        time.Duration
	MaxAttempts    int
	RequestsPerSec float64 // 0 disables rate limiting
	Burst          int
	Backoff        Backoff
	Header         http.Header
	Transport      http.RoundTripper // nil uses http.DefaultTransport

	OnStateChange func(name string, from, to State)
	OnRequest     func(provider, status string)
}

// HTTPFetcher performs GET requests against one price provider with rate
// limiting, a circuit breaker and bounded retries.
type HTTPFetcher struct {
	name        string
	client      *http.Client
	limiter     *RateLimiter
	breaker     *CircuitBreaker
	backoff     Backoff
	maxAttempts int
	header      http.Header
	onRequest   func(provider, status string)
}

// NewHTTPFetcher creates a fetcher. Zero fields take defaults.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = Backoff{Base: baseDelay, Max: 4 * time.Second}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	breakerCfg := DefaultCircuitBreakerConfig(cfg.Name)
	breakerCfg.OnStateChange = cfg.OnStateChange

	f := &HTTPFetcher{
		name:        cfg.Name,
		client:      &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		breaker:     NewCircuitBreaker(breakerCfg),
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		header:      cfg.Header,
		onRequest:   cfg.OnRequest,
	}
	if cfg.RequestsPerSec > 0 {
		f.limiter = NewRateLimiter(cfg.Burst, cfg.RequestsPerSec)
	}
	return f
}

// Breaker exposes the circuit breaker (for monitoring and tests).
func (f *HTTPFetcher) Breaker() *CircuitBreaker {
	return f.breaker
}

// Get fetches rawURL with query and returns the body of a 200 response.
// Transport errors, 429 and 5xx responses are retried with backoff.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	var lastErr error
	for i := 0; i < f.maxAttempts; i++ {
		if i > 0 {
			slog.Debug("Retrying price fetch",
				slog.String("provider", f.name),
				slog.Int("attempt", i+1),
				slog.Duration("delay", f.backoff.Delay(i-1)))
			if err := f.backoff.Sleep(ctx, i-1); err != nil {
				return nil, err
			}
		}

		if !f.breaker.Allow() {
			return nil, fmt.Errorf("%s: %w", f.name, ErrCircuitOpen)
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := f.doGet(ctx, rawURL)
		if err == nil {
			f.breaker.RecordSuccess()
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A 4xx other than 429 is an answer from a healthy provider.
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			f.breaker.RecordSuccess()
			return nil, err
		}
		f.breaker.RecordFailure()
		lastErr = err

		slog.Warn("Price fetch attempt failed",
			slog.String("provider", f.name),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
	}
	return nil, lastErr
}

func (f *HTTPFetcher) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", GetUserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe("error")
		return nil, err
	}
	defer resp.Body.Close()
	f.observe(strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (f *HTTPFetcher) observe(status string) {
	if f.onRequest != nil {
		f.onRequest(f.name, status)
	}
}
