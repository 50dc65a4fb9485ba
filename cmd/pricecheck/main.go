package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tyiu/sats-price/internal/app"
	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/infra"
	"github.com/tyiu/sats-price/pkg/quant"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	codesFlag := flag.String("codes", "USD,EUR,JPY", "comma separated currency codes")
	flag.Parse()

	if *configPath == "" {
		*configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(cfg, infra.DefaultWorkspace()))

	var codes []string
	for _, raw := range strings.Split(*codesFlag, ",") {
		code, err := domain.NormalizeCode(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%q: %v\n", raw, err)
			os.Exit(1)
		}
		codes = append(codes, code)
	}

	fmt.Println("=== Sats Price: BTC price check ===")
	fmt.Println()

	sources := app.BuildSources(cfg, nil)
	results := make(map[domain.SourceKind]domain.Quote)
	for _, kind := range []domain.SourceKind{domain.SourceCoinbase, domain.SourceCoinGecko, domain.SourceSynthetic} {
		src, ok := sources[kind]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout()*time.Duration(cfg.Price.MaxAttempts))
		start := time.Now()
		q := src.FetchMany(ctx, codes)
		cancel()
		results[kind] = q

		fmt.Printf("📊 %s (%s)\n", kind, time.Since(start).Round(time.Millisecond))
		for _, code := range codes {
			rate, ok := q[code]
			if !ok {
				fmt.Printf("   %s  unavailable\n", code)
				continue
			}
			fmt.Printf("   %s  %s   (1 sat = %s)\n", code, quant.FormatFiat(rate, code), satPrice(rate))
		}
		fmt.Println()
	}

	// Spread between the two live sources
	cb, cg := results[domain.SourceCoinbase], results[domain.SourceCoinGecko]
	for _, code := range codes {
		a, okA := cb[code]
		b, okB := cg[code]
		if !okA || !okB {
			continue
		}
		diff := a.Sub(b)
		pct, _ := quant.Div(diff.Mul(decimal.NewFromInt(100)), b)
		fmt.Printf("💹 %s Coinbase-CoinGecko: %s (%s%%)\n", code, quant.FormatFiat(diff, code), pct.StringFixed(3))
	}
}

// satPrice is the fiat value of one satoshi.
func satPrice(rate decimal.Decimal) string {
	return quant.BTCFromSats(decimal.NewFromInt(1)).Mul(rate).StringFixed(8)
}
