package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/event"
	"github.com/tyiu/sats-price/internal/metrics"
	"github.com/tyiu/sats-price/internal/pricing"
	"github.com/tyiu/sats-price/pkg/quant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotManual is returned when a rate is typed while another
	// source is active.
	ErrNotManual = errors.New("price entry requires the manual source")

	// ErrSessionClosed is returned once Run has exited.
	ErrSessionClosed = errors.New("session closed")
)

// ProductSetter is a live price stream whose currency set follows the
// watched currencies.
type ProductSetter interface {
	SetProducts(codes []string)
}

// View is a copy of the converter state that is safe to read from any
// goroutine.
type View struct {
	SessionID        string            `json:"session_id"`
	Source           string            `json:"source"`
	Primary          string            `json:"primary"`
	Watched          []string          `json:"watched"`
	Sats             string            `json:"sats"`
	BTC              string            `json:"btc"`
	Values           map[string]string `json:"values"`
	Prices           map[string]string `json:"prices"`
	LastUpdated      time.Time         `json:"last_updated"`
	ExceedsSupplyCap bool              `json:"exceeds_supply_cap"`
}

// SessionConfig holds optional Session collaborators.
type SessionConfig struct {
	InboxSize int
	Settings  domain.SettingsStore // remembers the active source; may be nil
	Metrics   *metrics.Metrics     // may be nil
	Logger    *slog.Logger
	DumpPath  string // state dump written on panic
}

// Session owns a Converter and applies every mutation on one goroutine.
// UI code talks to it through Do and the other methods; fetch results and
// stream ticks arrive as events on the inbox.
type Session struct {
	id       string
	conv     *Converter
	selector *pricing.Selector
	settings domain.SettingsStore
	metrics  *metrics.Metrics
	log      *slog.Logger
	dumpPath string

	inbox   chan event.Event
	nextSeq atomic.Uint64
	done    chan struct{}
	runCtx  context.Context
	streams []ProductSetter

	fetches sync.WaitGroup
	writes  sync.WaitGroup

	mu   sync.RWMutex // guards view only
	view View
}

// NewSession wires conv to selector. Run must be called to start processing.
func NewSession(conv *Converter, selector *pricing.Selector, cfg SessionConfig) *Session {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		conv:     conv,
		selector: selector,
		settings: cfg.Settings,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.With(slog.String("session", id)),
		dumpPath: cfg.DumpPath,
		inbox:    make(chan event.Event, cfg.InboxSize),
		done:     make(chan struct{}),
	}
	conv.OnAdd(func(string) { s.startFetch() })
	conv.Subscribe(func(ch Change) {
		if ch.Field == FieldWatched {
			s.updateStreams()
		}
	})
	s.publish()
	return s
}

// ID returns the session identifier attached to every log record.
func (s *Session) ID() string { return s.id }

// AttachStream registers a live price stream. Call before Run.
func (s *Session) AttachStream(p ProductSetter) {
	s.streams = append(s.streams, p)
}

// Inbox returns the event channel. Streams send TickEvents here.
func (s *Session) Inbox() chan<- event.Event {
	return s.inbox
}

// NextSeq returns the next event sequence number.
func (s *Session) NextSeq() uint64 {
	return s.nextSeq.Add(1)
}

// SourceKind returns the active source.
func (s *Session) SourceKind() domain.SourceKind {
	return s.selector.Kind()
}

// Sources lists the kinds SetSource accepts.
func (s *Session) Sources() []domain.SourceKind {
	return s.selector.Kinds()
}

// Run loads the watched currencies, starts the first refresh and processes
// events until ctx is done. This MUST be run in a single goroutine.
func (s *Session) Run(ctx context.Context) {
	s.runCtx = ctx
	s.log.Info("Session started", slog.String("source", s.selector.Kind().String()))

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	if err := s.conv.LoadWatched(ctx); err != nil {
		s.log.Warn("Failed to load watched currencies", slog.Any("error", err))
	}
	s.updateStreams()
	s.startFetch()
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case ev := <-s.inbox:
			s.process(ev)
			s.publish()
			if cmd, ok := ev.(*event.CommandEvent); ok {
				close(cmd.Done)
			}
		}
	}
}

func (s *Session) shutdown() {
	s.log.Info("Session stopping...")
	close(s.done)
	s.fetches.Wait()
	s.writes.Wait()
	s.conv.Flush()
}

// Do runs fn on the session goroutine and waits until its effects are
// visible in Snapshot.
func (s *Session) Do(ctx context.Context, fn func(*Converter)) error {
	return s.exec(ctx, func() { fn(s.conv) })
}

// Refresh fetches prices for every tracked currency from the active source.
// It returns once the fetch is started; the result is applied when it
// arrives.
func (s *Session) Refresh(ctx context.Context) error {
	return s.exec(ctx, s.startFetch)
}

// SetSource switches the active price source. Prices from the previous
// source are dropped at once and a refresh is started.
func (s *Session) SetSource(ctx context.Context, kind domain.SourceKind) error {
	var err error
	if e := s.exec(ctx, func() { err = s.switchSource(kind) }); e != nil {
		return e
	}
	return err
}

// SetManualPrice records a typed rate for code. Only allowed while the
// manual source is active.
func (s *Session) SetManualPrice(ctx context.Context, code, text string) error {
	var err error
	e := s.exec(ctx, func() {
		if s.selector.Kind() != domain.SourceManual {
			err = ErrNotManual
			return
		}
		code, err = domain.NormalizeCode(code)
		if err != nil {
			return
		}
		manual := s.selector.Manual()
		if rate, ok := quant.ParseAmount(text); ok && rate.IsPositive() {
			manual.Set(code, rate)
			s.metrics.SetRate(code, rate)
		} else {
			manual.Delete(code)
			s.metrics.SetRate(code, decimal.Zero)
		}
		s.conv.SetPriceText(code, text)
	})
	if e != nil {
		return e
	}
	return err
}

// Snapshot returns the state as of the last processed event.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// DumpState writes the current view to filename (for post-mortem).
func (s *Session) DumpState(filename string) {
	s.log.Info("Dumping session state...", slog.String("file", filename))

	b, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		s.log.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.log.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func (s *Session) exec(ctx context.Context, fn func()) error {
	ev := &event.CommandEvent{
		BaseEvent: event.BaseEvent{Seq: s.NextSeq(), Ts: time.Now()},
		Apply:     fn,
		Done:      make(chan struct{}),
	}
	select {
	case s.inbox <- ev:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.Done:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(ev event.Event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) process(ev event.Event) {
	switch e := ev.(type) {
	case *event.QuoteEvent:
		s.applyQuote(e)
	case *event.TickEvent:
		s.applyTick(e)
		event.ReleaseTickEvent(e)
	case *event.CommandEvent:
		e.Apply()
	default:
		s.log.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

func (s *Session) applyQuote(e *event.QuoteEvent) {
	if epoch := s.selector.Epoch(); e.Epoch != epoch {
		s.log.Debug("Dropping stale quote",
			slog.String("source", e.Source.String()),
			slog.Uint64("epoch", e.Epoch),
			slog.Uint64("current", epoch))
		s.metrics.StaleDropped()
		return
	}

	s.conv.ApplyQuote(e.Quote, e.Ts)
	s.metrics.SetRefreshed(e.Ts)
	s.metrics.ResetRates()
	for code, rate := range e.Quote {
		s.metrics.SetRate(code, rate)
	}

	if len(e.Quote) < len(e.Requested) {
		s.log.Warn("Prices unavailable",
			slog.String("source", e.Source.String()),
			slog.Int("requested", len(e.Requested)),
			slog.Int("received", len(e.Quote)))
	}
}

func (s *Session) applyTick(e *event.TickEvent) {
	if s.selector.Kind() != e.Source || !s.conv.isTracked(e.Code) {
		return
	}
	s.conv.SetPrice(e.Code, e.Rate)
	s.metrics.SetRate(e.Code, e.Rate)
}

// startFetch must run on the session goroutine.
func (s *Session) startFetch() {
	src, kind, epoch := s.selector.Active()
	codes := s.conv.Tracked()
	ctx := s.runCtx

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		start := time.Now()
		q := src.FetchMany(ctx, codes).Clone()
		s.metrics.ObserveFetch(kind.Key(), len(codes), len(q), time.Since(start))

		s.post(&event.QuoteEvent{
			BaseEvent: event.BaseEvent{Seq: s.NextSeq(), Ts: time.Now()},
			Epoch:     epoch,
			Source:    kind,
			Requested: codes,
			Quote:     q,
		})
	}()
}

func (s *Session) switchSource(kind domain.SourceKind) error {
	changed, err := s.selector.Switch(kind)
	if err != nil || !changed {
		return err
	}
	s.conv.ResetPrices()
	s.metrics.ResetRates()
	s.saveSource(kind)
	s.updateStreams()
	s.startFetch()
	return nil
}

func (s *Session) saveSource(kind domain.SourceKind) {
	if s.settings == nil {
		return
	}
	settings := s.settings
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		err := settings.UpsertSetting(ctx, domain.AppConfig{
			Key:            domain.SettingPriceSource,
			Value:          kind.Key(),
			UpdatedAtUnixM: time.Now().UnixMilli(),
		})
		if err != nil {
			s.log.Warn("Failed to save price source", slog.Any("error", err))
		}
	}()
}

// updateStreams points every stream at the tracked currencies while the
// stream's source is active, and at nothing otherwise.
func (s *Session) updateStreams() {
	var codes []string
	if s.selector.Kind() == domain.SourceCoinbase {
		codes = s.conv.Tracked()
	}
	for _, st := range s.streams {
		st.SetProducts(codes)
	}
}

// publish copies converter state into the view.
func (s *Session) publish() {
	tracked := s.conv.Tracked()
	v := View{
		SessionID:        s.id,
		Source:           s.selector.Kind().Key(),
		Primary:          s.conv.Primary(),
		Watched:          s.conv.WatchedCurrencies(),
		Sats:             s.conv.Sats(),
		BTC:              s.conv.BTCText(),
		Values:           make(map[string]string, len(tracked)),
		Prices:           make(map[string]string, len(tracked)),
		LastUpdated:      s.conv.LastUpdated(),
		ExceedsSupplyCap: s.conv.ExceedsSupplyCap(),
	}
	for _, code := range tracked {
		v.Values[code] = s.conv.Value(code)
		v.Prices[code] = s.conv.PriceText(code)
	}

	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}
