package pricing

import (
	"context"
	"sync"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// Manual serves rates typed in by the user. It never touches the network.
type Manual struct {
	mu    sync.RWMutex
	rates domain.Quote
}

func NewManual() *Manual {
	return &Manual{rates: make(domain.Quote)}
}

// Set stores rate for code. A non-positive rate removes it.
func (m *Manual) Set(code string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !rate.IsPositive() {
		delete(m.rates, code)
		return
	}
	m.rates[code] = rate
}

// Delete removes code's rate.
func (m *Manual) Delete(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, code)
}

func (m *Manual) FetchOne(_ context.Context, code string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.rates[code]
	return rate, ok
}

func (m *Manual) FetchMany(_ context.Context, codes []string) domain.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates.Filter(codes)
}
