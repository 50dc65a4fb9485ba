package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SourceKind identifies a price source variant. Exactly one is active at a time.
type SourceKind int

const (
	SourceCoinbase SourceKind = iota
	SourceCoinGecko
	SourceManual
	SourceSynthetic // development only, see pricing.SyntheticEnabled
)

func (k SourceKind) String() string {
	switch k {
	case SourceCoinbase:
		return "Coinbase"
	case SourceCoinGecko:
		return "CoinGecko"
	case SourceManual:
		return "Manual"
	case SourceSynthetic:
		return "Synthetic"
	default:
		return "Unknown"
	}
}

// Key is the lower-case name used in configuration and storage.
func (k SourceKind) Key() string {
	return strings.ToLower(k.String())
}

// Networked reports whether the source performs network I/O.
func (k SourceKind) Networked() bool {
	return k == SourceCoinbase || k == SourceCoinGecko
}

// ParseSourceKind parses a configuration name such as "coinbase".
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coinbase":
		return SourceCoinbase, nil
	case "coingecko":
		return SourceCoinGecko, nil
	case "manual":
		return SourceManual, nil
	case "synthetic", "fake":
		return SourceSynthetic, nil
	default:
		return 0, fmt.Errorf("unknown price source: %q", s)
	}
}

// PriceSource provides BTC prices in other currencies.
// Implementations never return errors: any failure yields an absent rate
// (FetchOne) or an omitted code (FetchMany).
type PriceSource interface {
	// FetchOne returns the price of 1 BTC in code.
	FetchOne(ctx context.Context, code string) (decimal.Decimal, bool)

	// FetchMany returns the rates it could determine for codes.
	FetchMany(ctx context.Context, codes []string) Quote
}

// SelectionStore persists the set of watched currency codes.
type SelectionStore interface {
	List(ctx context.Context) ([]string, error)
	Insert(ctx context.Context, code string) error
	Delete(ctx context.Context, code string) error
}

// SettingsStore persists small user preferences as key-value pairs.
type SettingsStore interface {
	UpsertSetting(ctx context.Context, setting AppConfig) error
	GetSetting(ctx context.Context, key string) (AppConfig, bool, error)
}
