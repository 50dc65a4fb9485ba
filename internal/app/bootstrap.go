package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/engine"
	"github.com/tyiu/sats-price/internal/infra"
	"github.com/tyiu/sats-price/internal/infra/coinbase"
	"github.com/tyiu/sats-price/internal/infra/coingecko"
	"github.com/tyiu/sats-price/internal/metrics"
	"github.com/tyiu/sats-price/internal/pricing"
	"github.com/tyiu/sats-price/internal/storage"
)

// Store persists watched currencies and settings.
type Store interface {
	domain.SelectionStore
	domain.SettingsStore
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Workspace infra.Workspace
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Store     Store
	Selector  *pricing.Selector
	Converter *engine.Converter
	Session   *engine.Session
	Poller    *engine.Poller
	Ticker    *coinbase.Ticker // nil unless coinbase.stream is set

	// Interactive sends logs to the workspace log file so they do not draw
	// over the terminal UI. Set it before Initialize.
	Interactive bool

	closeStore func() error
	unlock     func()
	wg         sync.WaitGroup
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and builds every component. configPath may
// be empty to use infra.ResolveConfigPath.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	if b.Interactive {
		cfg.Logging.File = true
	}
	b.Workspace = infra.DefaultWorkspace()
	b.Logger = infra.NewLogger(cfg, b.Workspace)
	slog.SetDefault(b.Logger)
	slog.Info("🚀 Bootstrapping Sats Price...", slog.String("config", configPath))

	// 3. Workspace + single instance lock
	if err := b.Workspace.Prepare(); err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}
	unlock, err := b.Workspace.Lock()
	if err != nil {
		return err
	}
	b.unlock = unlock
	slog.Info("📂 Workspace ready", slog.String("root", b.Workspace.Root))

	// 4. Metrics, store, sources
	b.Metrics = metrics.New()
	b.openStore()

	sources := BuildSources(cfg, b.Metrics)
	sel, err := pricing.NewSelector(b.initialSource(), sources)
	if err != nil {
		slog.Warn("Saved price source unavailable, using config", slog.Any("error", err))
		if sel, err = pricing.NewSelector(cfg.SourceKind(), sources); err != nil {
			b.Close()
			return err
		}
	}
	b.Selector = sel

	// 5. Engine
	conv, err := engine.NewConverter(cfg.Price.PrimaryCurrency, b.Store, b.Logger)
	if err != nil {
		b.Close()
		return err
	}
	b.Converter = conv

	b.Session = engine.NewSession(conv, sel, engine.SessionConfig{
		Settings: b.Store,
		Metrics:  b.Metrics,
		Logger:   b.Logger,
		DumpPath: b.Workspace.DumpPath(),
	})
	if cfg.Price.Coinbase.Stream {
		b.Ticker = coinbase.NewTicker(cfg.Price.Coinbase.WSURL, b.Session, nil)
		b.Session.AttachStream(b.Ticker)
	}
	b.Poller = engine.NewPoller(b.Session, cfg.RefreshInterval(), b.Logger)

	slog.Info("✅ Bootstrap complete",
		slog.String("source", sel.Kind().String()),
		slog.String("primary", conv.Primary()))
	return nil
}

// Start runs the session, the poller and the optional stream and metrics
// server until ctx is done.
func (b *Bootstrap) Start(ctx context.Context) {
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.Session.Run(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.Poller.Run(ctx)
	}()

	if b.Ticker != nil {
		b.Ticker.Connect(ctx)
		slog.Info("✅ Coinbase ticker stream started")
	}

	if addr := b.Config.Metrics.Addr; addr != "" {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.Metrics.Serve(ctx, addr); err != nil {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}
}

// Close waits for Start's goroutines and releases the store and lock.
// Cancel the context passed to Start first.
func (b *Bootstrap) Close() {
	if b.Ticker != nil {
		b.Ticker.Disconnect()
	}
	b.wg.Wait()
	if b.closeStore != nil {
		if err := b.closeStore(); err != nil {
			slog.Warn("Failed to close selection store", slog.Any("error", err))
		}
		b.closeStore = nil
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}

// openStore falls back to memory when the database cannot be opened; the
// converter keeps working without persistence.
func (b *Bootstrap) openStore() {
	path := b.Config.Storage.Path
	if path == "" {
		path = b.Workspace.Join("data", "selection.db")
	}
	s, err := storage.NewSelectionStore(path)
	if err != nil {
		slog.Warn("⚠️ Selection store unavailable, selections will not persist",
			slog.String("path", path), slog.Any("error", err))
		b.Store = storage.NewMemoryStore()
		return
	}
	b.Store = s
	b.closeStore = s.Close
	slog.Info("✅ Selection store opened (WAL-mode)", slog.String("path", path))
}

// BuildSources creates every price source available in this build. m may
// be nil.
func BuildSources(cfg *infra.Config, m *metrics.Metrics) map[domain.SourceKind]domain.PriceSource {
	onState := func(name string, from, to infra.State) {
		m.SetBreakerState(name, int(to))
	}

	cbFetcher := infra.NewHTTPFetcher(infra.HTTPFetcherConfig{
		Name:           "coinbase",
		Timeout:        cfg.Timeout(),
		MaxAttempts:    cfg.Price.MaxAttempts,
		RequestsPerSec: cfg.Price.Coinbase.RequestsPerSec,
		OnStateChange:  onState,
		OnRequest:      m.ObserveRequest,
	})
	cgFetcher := infra.NewHTTPFetcher(infra.HTTPFetcherConfig{
		Name:           "coingecko",
		Timeout:        cfg.Timeout(),
		MaxAttempts:    cfg.Price.MaxAttempts,
		RequestsPerSec: cfg.Price.CoinGecko.RequestsPerSec,
		Header:         coingecko.Header(cfg.Price.CoinGecko.APIKey),
		OnStateChange:  onState,
		OnRequest:      m.ObserveRequest,
	})

	sources := map[domain.SourceKind]domain.PriceSource{
		domain.SourceCoinbase:  coinbase.NewSource(coinbase.NewClient(cfg.Price.Coinbase.RestURL, cbFetcher)),
		domain.SourceCoinGecko: coingecko.NewSource(coingecko.NewClient(cfg.Price.CoinGecko.BaseURL, cgFetcher)),
		domain.SourceManual:    pricing.NewManual(),
	}
	if pricing.SyntheticEnabled {
		sources[domain.SourceSynthetic] = pricing.NewSynthetic()
	}
	return sources
}

// initialSource prefers the source saved by the last run unless the
// environment forces one.
func (b *Bootstrap) initialSource() domain.SourceKind {
	kind := b.Config.SourceKind()
	if b.Config.SourceFromEnv() {
		return kind
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	setting, ok, err := b.Store.GetSetting(ctx, domain.SettingPriceSource)
	if err != nil {
		slog.Warn("Failed to read saved price source", slog.Any("error", err))
		return kind
	}
	if !ok {
		return kind
	}
	saved, err := domain.ParseSourceKind(setting.Value)
	if err != nil {
		slog.Warn("Ignoring saved price source", slog.String("value", setting.Value))
		return kind
	}
	return saved
}
