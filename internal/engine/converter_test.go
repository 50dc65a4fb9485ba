package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// recordingStore is a SelectionStore that records every call in order.
type recordingStore struct {
	mu    sync.Mutex
	codes []string
	ops   []string
	fail  bool
}

func (s *recordingStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...), nil
}

func (s *recordingStore) Insert(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "+"+code)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingStore) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "-"+code)
	return nil
}

func (s *recordingStore) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter("USD", nil, nil)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	return c
}

func usdQuote() domain.Quote {
	return domain.Quote{"USD": decimal.NewFromInt(54321)}
}

func TestConverter_Scenario(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())

	c.SetBTC("1")
	if got := c.Sats(); got != "100,000,000" {
		t.Errorf("sats = %q, want 100,000,000", got)
	}
	if got := c.Value("USD"); got != "54,321.00" {
		t.Errorf("USD = %q, want 54,321.00", got)
	}

	c.SetSats("200000000")
	if got := c.BTCText(); got != "2" {
		t.Errorf("btc = %q, want 2", got)
	}
	if got := c.Value("USD"); got != "108,642.00" {
		t.Errorf("USD = %q, want 108,642.00", got)
	}

	c.SetCurrencyValue("USD", "1")
	btc, ok := c.BTC()
	if !ok {
		t.Fatal("btc should be known")
	}
	if want := "0.00001840908672520756"; btc.String() != want {
		t.Errorf("btc = %s, want %s", btc, want)
	}
	if got := c.BTCText(); got != "0.00001841" {
		t.Errorf("btc text = %q, want 0.00001841", got)
	}
	if got := c.Sats(); got != "1,841" {
		t.Errorf("sats = %q, want 1,841", got)
	}
	// Edited field is left as typed.
	if got := c.Value("USD"); got != "1" {
		t.Errorf("USD while editing = %q, want 1", got)
	}

	c.FinishEditing()
	if got := c.Value("USD"); got != "1.00" {
		t.Errorf("USD after edit = %q, want 1.00", got)
	}
}

func TestConverter_LargeValue(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())

	c.SetCurrencyValue("USD", "11,407,419,999,999")
	btc, _ := c.BTC()
	if want := "210000184.0908488429888993207"; btc.String() != want {
		t.Errorf("btc = %s, want %s", btc, want)
	}
	if got := c.BTCText(); got != "210,000,184.09084884" {
		t.Errorf("btc text = %q", got)
	}
	if got := c.Sats(); got != "21,000,018,409,084,884" {
		t.Errorf("sats = %q", got)
	}
	if !c.ExceedsSupplyCap() {
		t.Error("expected supply cap warning")
	}

	c.FinishEditing()
	if got := c.Value("USD"); got != "11,407,419,999,999.00" {
		t.Errorf("USD = %q", got)
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	tests := []struct {
		btc  string
		sats string
	}{
		{"1", "100,000,000"},
		{"0.00000001", "1"},
		{"21000000", "2,100,000,000,000,000"},
		{"0.12345678", "12,345,678"},
		{"1,000.5", "100,050,000,000"},
	}

	for _, tt := range tests {
		t.Run(tt.btc, func(t *testing.T) {
			c := newTestConverter(t)
			c.SetBTC(tt.btc)
			if got := c.Sats(); got != tt.sats {
				t.Errorf("sats = %q, want %q", got, tt.sats)
			}
		})
	}
}

func TestConverter_CrossConsistency(t *testing.T) {
	c := newTestConverter(t)
	if err := c.AddWatchedCurrency("jpy"); err != nil {
		t.Fatal(err)
	}
	c.ApplyQuote(domain.Quote{
		"USD": decimal.RequireFromString("54321.12"),
		"JPY": decimal.RequireFromString("8123456"),
	}, time.Now())

	c.SetBTC("0.5")
	if got := c.Value("USD"); got != "27,160.56" {
		t.Errorf("USD = %q", got)
	}
	if got := c.Value("JPY"); got != "4,061,728" {
		t.Errorf("JPY = %q", got)
	}

	// Editing one currency updates the others.
	c.SetCurrencyValue("JPY", "8123456")
	if got := c.BTCText(); got != "1" {
		t.Errorf("btc = %q, want 1", got)
	}
	if got := c.Value("USD"); got != "54,321.12" {
		t.Errorf("USD = %q", got)
	}
}

func TestConverter_NoOpSuppression(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())

	var changes []Change
	c.Subscribe(func(ch Change) { changes = append(changes, ch) })

	c.SetBTC("1")
	c.FinishEditing()
	n := len(changes)

	c.SetBTC("1")
	c.SetSats("100,000,000")
	c.SetCurrencyValue("USD", "54,321.00")
	c.SetPrice("USD", decimal.NewFromInt(54321))

	if len(changes) != n {
		t.Errorf("redundant writes emitted %d changes", len(changes)-n)
	}
}

func TestConverter_InvalidInputClears(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())
	c.SetBTC("1")

	c.SetBTC("not-a-number")
	if c.Sats() != "" || c.Value("USD") != "" {
		t.Errorf("expected cleared fields, got sats=%q usd=%q", c.Sats(), c.Value("USD"))
	}
	if c.BTCText() != "not-a-number" {
		t.Error("invalid input should stay as typed")
	}
	if _, ok := c.BTC(); ok {
		t.Error("btc should be unknown")
	}

	c.SetSats("12abc")
	if c.BTCText() != "" || c.Value("USD") != "" {
		t.Error("expected cleared fields after invalid sats")
	}

	c.SetSats("")
	if c.BTCText() != "" {
		t.Error("empty sats should clear btc")
	}
}

func TestConverter_OutOfRangeInputClears(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())

	for _, in := range []string{"1e10000000", "1e-1000"} {
		c.SetBTC("1")
		c.FinishEditing()

		start := time.Now()
		c.SetBTC(in)
		c.FinishEditing()
		if d := time.Since(start); d > time.Second {
			t.Errorf("SetBTC(%q) took %s", in, d)
		}
		if c.Sats() != "" || c.Value("USD") != "" {
			t.Errorf("SetBTC(%q): expected cleared fields, got sats=%d bytes usd=%d bytes", in, len(c.Sats()), len(c.Value("USD")))
		}
		if _, ok := c.BTC(); ok {
			t.Errorf("SetBTC(%q): btc should be unknown", in)
		}
	}

	c.SetSats("1e-1000")
	if c.BTCText() != "" {
		t.Errorf("expected cleared btc, got %d bytes", len(c.BTCText()))
	}
}

func TestConverter_SetCurrencyValueFailures(t *testing.T) {
	t.Run("Untracked currency", func(t *testing.T) {
		c := newTestConverter(t)
		c.ApplyQuote(usdQuote(), time.Now())
		c.SetBTC("1")

		c.SetCurrencyValue("EUR", "100")
		if c.Sats() != "" || c.BTCText() != "" || c.Value("USD") != "" {
			t.Error("expected every field cleared")
		}
	})

	t.Run("Unknown price", func(t *testing.T) {
		c := newTestConverter(t)
		c.SetCurrencyValue("USD", "100")
		if c.Value("USD") != "100" {
			t.Error("typed text should be kept")
		}
		if c.Sats() != "" || c.BTCText() != "" {
			t.Error("expected sats and btc cleared")
		}
	})

	t.Run("Unparseable value", func(t *testing.T) {
		c := newTestConverter(t)
		c.ApplyQuote(usdQuote(), time.Now())
		c.SetBTC("1")
		c.SetCurrencyValue("USD", "1.2.3")
		if c.Sats() != "" || c.BTCText() != "" {
			t.Error("expected sats and btc cleared")
		}
	})
}

func TestConverter_SetPrice(t *testing.T) {
	c := newTestConverter(t)
	if err := c.AddWatchedCurrency("EUR"); err != nil {
		t.Fatal(err)
	}
	c.ApplyQuote(domain.Quote{"USD": decimal.NewFromInt(50000), "EUR": decimal.NewFromInt(40000)}, time.Now())
	c.SetBTC("2")

	c.SetPrice("USD", decimal.NewFromInt(60000))
	if got := c.Value("USD"); got != "120,000.00" {
		t.Errorf("USD = %q", got)
	}
	if got := c.Value("EUR"); got != "80,000.00" {
		t.Errorf("EUR changed to %q", got)
	}
	if got := c.PriceText("USD"); got != "60,000.00" {
		t.Errorf("price text = %q", got)
	}

	c.SetPrice("USD", decimal.Zero)
	if c.Value("USD") != "" {
		t.Error("value should clear when price is removed")
	}
}

func TestConverter_SetPriceText(t *testing.T) {
	c := newTestConverter(t)
	c.SetBTC("1")

	c.SetPriceText("USD", "54,321")
	if got := c.Value("USD"); got != "54,321.00" {
		t.Errorf("USD = %q", got)
	}
	if got := c.PriceText("USD"); got != "54,321" {
		t.Errorf("typed price should be kept, got %q", got)
	}

	c.SetPriceText("USD", "abc")
	if _, ok := c.Price("USD"); ok {
		t.Error("invalid text should remove the price")
	}
	if c.Value("USD") != "" {
		t.Error("value should be cleared")
	}
}

func TestConverter_ApplyQuote(t *testing.T) {
	c := newTestConverter(t)
	if err := c.AddWatchedCurrency("EUR"); err != nil {
		t.Fatal(err)
	}
	c.ApplyQuote(domain.Quote{"USD": decimal.NewFromInt(50000), "EUR": decimal.NewFromInt(40000)}, time.Now())
	c.SetBTC("1")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.ApplyQuote(domain.Quote{"USD": decimal.NewFromInt(51000)}, at)

	if got := c.Value("USD"); got != "51,000.00" {
		t.Errorf("USD = %q", got)
	}
	if c.Value("EUR") != "" {
		t.Error("EUR should be cleared when missing from the quote")
	}
	if !c.LastUpdated().Equal(at) {
		t.Errorf("last updated = %v", c.LastUpdated())
	}

	// Failed fetch still advances the timestamp.
	later := at.Add(time.Minute)
	c.ApplyQuote(nil, later)
	if !c.LastUpdated().Equal(later) {
		t.Error("empty quote should still mark last updated")
	}
	if c.Value("USD") != "" {
		t.Error("USD should be cleared after an empty quote")
	}
	if c.BTCText() != "1" {
		t.Error("btc must not change on refresh")
	}
}

func TestConverter_ResetPrices(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())
	c.SetBTC("1")

	c.ResetPrices()
	if _, ok := c.Price("USD"); ok {
		t.Error("price should be dropped")
	}
	if c.Value("USD") != "" {
		t.Error("value should be cleared")
	}
	if !c.LastUpdated().IsZero() {
		t.Error("last updated should be reset")
	}
	if c.Sats() != "100,000,000" {
		t.Error("amount must survive a source switch")
	}
}

func TestConverter_WatchedCurrencies(t *testing.T) {
	store := &recordingStore{codes: []string{"EUR", "usd", "bad!", "JPY"}}
	c, err := NewConverter("USD", store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.LoadWatched(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.WatchedCurrencies(); len(got) != 2 || got[0] != "EUR" || got[1] != "JPY" {
		t.Fatalf("watched = %v", got)
	}

	var added []string
	c.OnAdd(func(code string) { added = append(added, code) })

	if err := c.AddWatchedCurrency("gbp"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddWatchedCurrency("USD"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveWatchedCurrency("EUR"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveWatchedCurrency("USD"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddWatchedCurrency("US"); err != domain.ErrInvalidCurrencyCode {
		t.Errorf("expected ErrInvalidCurrencyCode, got %v", err)
	}

	// In-memory set updates before the store write completes.
	if got := c.Tracked(); len(got) != 3 || got[0] != "USD" || got[1] != "GBP" || got[2] != "JPY" {
		t.Errorf("tracked = %v", got)
	}
	if len(added) != 1 || added[0] != "GBP" {
		t.Errorf("refresh hook calls = %v", added)
	}

	c.Flush()
	if got := store.history(); len(got) != 2 || got[0] != "+GBP" || got[1] != "-EUR" {
		t.Errorf("store ops = %v", got)
	}
}

func TestConverter_StoreFailureKeepsMemoryState(t *testing.T) {
	store := &recordingStore{fail: true}
	c, err := NewConverter("USD", store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddWatchedCurrency("CHF"); err != nil {
		t.Fatal(err)
	}
	c.Flush()
	if got := c.WatchedCurrencies(); len(got) != 1 || got[0] != "CHF" {
		t.Errorf("watched = %v", got)
	}
}

func TestConverter_DeferNormalization(t *testing.T) {
	c := newTestConverter(t)
	c.ApplyQuote(usdQuote(), time.Now())

	c.SetSats("1000")
	if c.Sats() != "1000" {
		t.Errorf("typed sats should be kept, got %q", c.Sats())
	}

	// Switching to another field finishes the previous edit.
	c.SetBTC("0.0001")
	if c.Sats() != "10,000" {
		t.Errorf("sats = %q", c.Sats())
	}

	c.SetDeferNormalization(false)
	c.SetSats("2000000")
	if c.Sats() != "2,000,000" {
		t.Errorf("batch mode should normalize at once, got %q", c.Sats())
	}
	if c.Editing() != FieldNone {
		t.Error("nothing should be left in editing state")
	}
}

func TestConverter_ExceedsSupplyCap(t *testing.T) {
	c := newTestConverter(t)
	c.SetBTC("21000000")
	if c.ExceedsSupplyCap() {
		t.Error("exactly 21M is within the cap")
	}
	c.SetSats("2100000000000001")
	if !c.ExceedsSupplyCap() {
		t.Error("one sat above the cap should warn")
	}
	c.SetSats("x")
	if c.ExceedsSupplyCap() {
		t.Error("unknown amount never exceeds the cap")
	}
}
