package coinbase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/event"
	"github.com/tyiu/sats-price/internal/infra"

	"github.com/shopspring/decimal"
)

// Sink receives ticker events. engine.Session implements it.
type Sink interface {
	Inbox() chan<- event.Event
	NextSeq() uint64
}

type subscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Ticker streams BTC-<CODE> prices from the Coinbase Exchange feed.
type Ticker struct {
	base *infra.BaseWSWorker
	url  string
	sink Sink

	mu         sync.Mutex
	products   []string // wanted
	subscribed []string // acknowledged by the last successful write
	resync     chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewTicker creates a ticker stream for codes.
func NewTicker(url string, sink Sink, codes []string) *Ticker {
	if url == "" {
		url = WSURL
	}
	t := &Ticker{
		url:      url,
		sink:     sink,
		products: productIDs(codes),
		resync:   make(chan struct{}, 1),
	}
	t.base = infra.NewBaseWSWorker(t)
	return t
}

// ID returns the worker identifier.
func (t *Ticker) ID() string { return "COINBASE_TICKER" }

// GetURL returns the Coinbase Exchange WebSocket endpoint.
func (t *Ticker) GetURL() string { return t.url }

// Connect starts the WebSocket connection.
func (t *Ticker) Connect(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.base.Start(ctx)
	t.wg.Add(1)
	go t.syncLoop(ctx)
}

// Disconnect terminates the connection.
func (t *Ticker) Disconnect() {
	if t.cancel != nil {
		t.cancel()
	}
	t.base.Stop()
	t.wg.Wait()
}

// SetProducts changes the streamed currencies. It never blocks: the
// subscription change is written by the ticker's own goroutine, and the full
// set is sent again on every reconnect.
func (t *Ticker) SetProducts(codes []string) {
	next := productIDs(codes)

	t.mu.Lock()
	t.products = next
	t.mu.Unlock()

	select {
	case t.resync <- struct{}{}:
	default:
	}
}

func (t *Ticker) syncLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.resync:
			t.sync()
		}
	}
}

// sync sends the (un)subscribe messages that move the feed from the
// acknowledged set to the wanted one.
func (t *Ticker) sync() {
	if !t.base.Connected() {
		return
	}
	t.mu.Lock()
	want := t.products
	added, removed := diff(t.subscribed, want)
	t.mu.Unlock()

	if len(removed) > 0 {
		if err := t.base.WriteJSON(subscribeMsg{Type: "unsubscribe", ProductIDs: removed, Channels: []string{"ticker"}}); err != nil {
			slog.Warn("Coinbase unsubscribe failed", slog.Any("error", err))
			return
		}
	}
	if len(added) > 0 {
		if err := t.base.WriteJSON(subscribeMsg{Type: "subscribe", ProductIDs: added, Channels: []string{"ticker"}}); err != nil {
			slog.Warn("Coinbase subscribe failed", slog.Any("error", err))
			return
		}
	}

	t.mu.Lock()
	t.subscribed = want
	t.mu.Unlock()
}

// OnConnect subscribes to the ticker channel for the current products.
func (t *Ticker) OnConnect(ctx context.Context, w *infra.BaseWSWorker) error {
	t.mu.Lock()
	products := t.products
	t.mu.Unlock()

	if len(products) > 0 {
		if err := w.WriteJSON(subscribeMsg{Type: "subscribe", ProductIDs: products, Channels: []string{"ticker"}}); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.subscribed = products
	t.mu.Unlock()
	return nil
}

// OnMessage turns ticker messages into TickEvents.
func (t *Ticker) OnMessage(ctx context.Context, msg []byte) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(msg)
	if err != nil {
		return
	}
	switch string(v.GetStringBytes("type")) {
	case "ticker":
	case "error":
		slog.Warn("Coinbase feed error",
			slog.String("message", string(v.GetStringBytes("message"))),
			slog.String("reason", string(v.GetStringBytes("reason"))))
		return
	default:
		return
	}

	product := string(v.GetStringBytes("product_id"))
	code, ok := strings.CutPrefix(product, "BTC-")
	if !ok {
		return
	}
	rate, err := decimal.NewFromString(string(v.GetStringBytes("price")))
	if err != nil || !rate.IsPositive() {
		return
	}

	ev := event.AcquireTickEvent()
	ev.Seq = t.sink.NextSeq()
	ev.Ts = time.Now()
	ev.Source = domain.SourceCoinbase
	ev.Code = code
	ev.Rate = rate

	select {
	case t.sink.Inbox() <- ev:
	default:
		// Drop if inbox is full, but release to pool to prevent leak.
		event.ReleaseTickEvent(ev)
	}
}

func productIDs(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, "BTC-"+strings.ToUpper(c))
	}
	sort.Strings(out)
	return out
}

// diff returns the entries of next missing from prev, and vice versa.
func diff(prev, next []string) (added, removed []string) {
	in := func(list []string, s string) bool {
		i := sort.SearchStrings(list, s)
		return i < len(list) && list[i] == s
	}
	for _, p := range next {
		if !in(prev, p) {
			added = append(added, p)
		}
	}
	for _, p := range prev {
		if !in(next, p) {
			removed = append(removed, p)
		}
	}
	return added, removed
}
