package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/pkg/quant"

	"github.com/shopspring/decimal"
)

// Field identifies one of the converter's textual fields.
type Field int

const (
	FieldNone Field = iota
	FieldSats
	FieldBTC
	FieldValue
	FieldPrice
	FieldWatched
	FieldLastUpdated
)

func (f Field) String() string {
	switch f {
	case FieldSats:
		return "sats"
	case FieldBTC:
		return "btc"
	case FieldValue:
		return "value"
	case FieldPrice:
		return "price"
	case FieldWatched:
		return "watched"
	case FieldLastUpdated:
		return "last_updated"
	default:
		return "none"
	}
}

// Change describes one mutation. Code is set for per-currency fields.
type Change struct {
	Field Field
	Code  string
}

// Observer is notified after each mutation that changed state.
type Observer func(Change)

const storeTimeout = 5 * time.Second

// Converter keeps sats, BTC and fiat values consistent with one BTC amount.
//
// Converter is not safe for concurrent use. A single goroutine (normally
// Session.Run) must own it.
type Converter struct {
	primary string
	watched map[string]struct{} // excludes primary

	btc      decimal.Decimal
	btcKnown bool

	satsText  string
	btcText   string
	values    map[string]string
	prices    map[string]decimal.Decimal
	priceText map[string]string

	// Field being edited; its text stays as typed until FinishEditing.
	editing     Field
	editingCode string
	deferNorm   bool

	lastUpdated time.Time

	store     domain.SelectionStore
	lastWrite chan struct{}
	onAdd     func(code string)
	observers []Observer
	log       *slog.Logger
}

// NewConverter creates a converter for primary. store may be nil.
func NewConverter(primary string, store domain.SelectionStore, logger *slog.Logger) (*Converter, error) {
	p, err := domain.NormalizeCode(primary)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		primary:   p,
		watched:   make(map[string]struct{}),
		values:    map[string]string{p: ""},
		prices:    make(map[string]decimal.Decimal),
		priceText: make(map[string]string),
		deferNorm: true,
		store:     store,
		log:       logger,
	}, nil
}

// Subscribe registers an observer.
func (c *Converter) Subscribe(o Observer) {
	c.observers = append(c.observers, o)
}

// OnAdd sets the hook called after a currency joins the watched set.
// Session uses it to refresh prices.
func (c *Converter) OnAdd(fn func(code string)) {
	c.onAdd = fn
}

// SetDeferNormalization controls whether an edited field keeps its typed
// text until FinishEditing (true, the default) or is normalized at once.
func (c *Converter) SetDeferNormalization(deferNorm bool) {
	c.deferNorm = deferNorm
}

// LoadWatched replaces the watched set with the store's contents.
func (c *Converter) LoadWatched(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	codes, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	for _, raw := range codes {
		code, err := domain.NormalizeCode(raw)
		if err != nil {
			c.log.Warn("Ignoring stored currency", slog.String("code", raw))
			continue
		}
		if code == c.primary {
			continue
		}
		c.watched[code] = struct{}{}
		if _, ok := c.values[code]; !ok {
			c.values[code] = ""
		}
	}
	c.recomputeValues("")
	c.notify(Change{Field: FieldWatched})
	return nil
}

// SetSats handles an edit of the sats field.
func (c *Converter) SetSats(text string) {
	if text == c.satsText {
		return
	}
	c.beginEdit(FieldSats, "")
	c.satsText = text

	sats, ok := quant.ParseAmount(text)
	if !ok {
		c.clearAmount(FieldSats, "")
		c.notify(Change{Field: FieldSats})
		return
	}

	c.btc = quant.BTCFromSats(sats)
	c.btcKnown = true
	c.btcText = quant.FormatBTC(c.btc)
	c.recomputeValues("")
	if !c.deferNorm {
		c.satsText = quant.FormatSats(sats)
		c.editing = FieldNone
	}
	c.notify(Change{Field: FieldSats})
}

// SetBTC handles an edit of the BTC field.
func (c *Converter) SetBTC(text string) {
	if text == c.btcText {
		return
	}
	c.beginEdit(FieldBTC, "")
	c.btcText = text

	btc, ok := quant.ParseAmount(text)
	if !ok {
		c.clearAmount(FieldBTC, "")
		c.notify(Change{Field: FieldBTC})
		return
	}

	c.btc = btc
	c.btcKnown = true
	c.satsText = quant.FormatSats(quant.SatsFromBTC(btc))
	c.recomputeValues("")
	if !c.deferNorm {
		c.btcText = quant.FormatBTC(btc)
		c.editing = FieldNone
	}
	c.notify(Change{Field: FieldBTC})
}

// SetCurrencyValue handles an edit of the value field for code.
// An untracked code or a code without a price clears every field.
func (c *Converter) SetCurrencyValue(code, text string) {
	code, err := domain.NormalizeCode(code)
	if err != nil || !c.isTracked(code) {
		c.clearAll()
		c.notify(Change{Field: FieldValue, Code: code})
		return
	}
	if text == c.values[code] {
		return
	}
	c.beginEdit(FieldValue, code)
	c.values[code] = text

	value, ok := quant.ParseAmount(text)
	price, known := c.prices[code]
	if !ok || !known {
		c.clearAmount(FieldValue, code)
		c.notify(Change{Field: FieldValue, Code: code})
		return
	}

	btc, ok := quant.Div(value, price)
	if !ok {
		c.clearAmount(FieldValue, code)
		c.notify(Change{Field: FieldValue, Code: code})
		return
	}

	c.btc = btc
	c.btcKnown = true
	c.btcText = quant.FormatBTC(btc)
	c.satsText = quant.FormatSats(quant.SatsFromBTC(btc))
	c.recomputeValues(code)
	if !c.deferNorm {
		c.values[code] = quant.FormatFiat(value, code)
		c.editing = FieldNone
	}
	c.notify(Change{Field: FieldValue, Code: code})
}

// SetPrice installs rate for code and recomputes that currency's value.
// A non-positive rate removes the price.
func (c *Converter) SetPrice(code string, rate decimal.Decimal) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return
	}
	old, had := c.prices[code]
	if rate.IsPositive() {
		if had && old.Equal(rate) {
			return
		}
		c.prices[code] = rate
		c.priceText[code] = quant.FormatFiat(rate, code)
	} else {
		if !had {
			return
		}
		delete(c.prices, code)
		c.priceText[code] = ""
	}
	c.recomputeValue(code)
	c.notify(Change{Field: FieldPrice, Code: code})
}

// SetPriceText handles typed entry of a rate for code. Text that does not
// parse to a positive number removes the price and clears the value.
func (c *Converter) SetPriceText(code, text string) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return
	}
	if cur, ok := c.priceText[code]; ok && cur == text {
		return
	}
	c.priceText[code] = text

	if rate, ok := quant.ParseAmount(text); ok && rate.IsPositive() {
		c.prices[code] = rate
	} else {
		delete(c.prices, code)
	}
	c.recomputeValue(code)
	c.notify(Change{Field: FieldPrice, Code: code})
}

// ApplyQuote replaces every price with q and marks the refresh time.
// Tracked currencies missing from q lose their price and value.
func (c *Converter) ApplyQuote(q domain.Quote, at time.Time) {
	c.prices = make(map[string]decimal.Decimal, len(q))
	for _, code := range c.tracked() {
		rate, ok := q[code]
		if ok && rate.IsPositive() {
			c.prices[code] = rate
			c.priceText[code] = quant.FormatFiat(rate, code)
		} else {
			c.priceText[code] = ""
		}
	}
	c.recomputeValues("")
	if c.editing == FieldValue {
		c.editing = FieldNone
	}
	c.lastUpdated = at
	c.notify(Change{Field: FieldPrice})
	c.notify(Change{Field: FieldLastUpdated})
}

// ResetPrices drops every price, clears values and forgets the last update.
// Called when the price source changes.
func (c *Converter) ResetPrices() {
	c.prices = make(map[string]decimal.Decimal)
	for code := range c.priceText {
		c.priceText[code] = ""
	}
	for code := range c.values {
		c.values[code] = ""
	}
	if c.editing == FieldValue {
		c.editing = FieldNone
	}
	c.lastUpdated = time.Time{}
	c.notify(Change{Field: FieldPrice})
	c.notify(Change{Field: FieldLastUpdated})
}

// AddWatchedCurrency adds code to the watched set, writes it to the store in
// the background and asks for a price refresh.
func (c *Converter) AddWatchedCurrency(code string) error {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return err
	}
	if c.isTracked(code) {
		return nil
	}
	c.watched[code] = struct{}{}
	c.values[code] = ""
	c.persist("insert", code, func(ctx context.Context, s domain.SelectionStore) error {
		return s.Insert(ctx, code)
	})
	c.notify(Change{Field: FieldWatched, Code: code})
	if c.onAdd != nil {
		c.onAdd(code)
	}
	return nil
}

// RemoveWatchedCurrency removes code from the watched set. The primary
// currency cannot be removed.
func (c *Converter) RemoveWatchedCurrency(code string) error {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return err
	}
	if _, ok := c.watched[code]; !ok {
		return nil
	}
	delete(c.watched, code)
	delete(c.values, code)
	delete(c.prices, code)
	delete(c.priceText, code)
	if c.editingCode == code {
		c.editing, c.editingCode = FieldNone, ""
	}
	c.persist("delete", code, func(ctx context.Context, s domain.SelectionStore) error {
		return s.Delete(ctx, code)
	})
	c.notify(Change{Field: FieldWatched, Code: code})
	return nil
}

// FinishEditing rewrites the field being edited, and every derived field,
// to canonical display text.
func (c *Converter) FinishEditing() {
	if c.editing == FieldNone {
		return
	}
	field, code := c.editing, c.editingCode
	c.editing, c.editingCode = FieldNone, ""
	if !c.btcKnown {
		return
	}
	c.satsText = quant.FormatSats(quant.SatsFromBTC(c.btc))
	c.btcText = quant.FormatBTC(c.btc)
	c.recomputeValues("")
	c.notify(Change{Field: field, Code: code})
}

// ExceedsSupplyCap reports whether the amount is above 21M BTC.
func (c *Converter) ExceedsSupplyCap() bool {
	return c.btcKnown && quant.ExceedsSupplyCap(c.btc)
}

// Flush waits for pending store writes.
func (c *Converter) Flush() {
	if c.lastWrite != nil {
		<-c.lastWrite
	}
}

func (c *Converter) Primary() string        { return c.primary }
func (c *Converter) Sats() string           { return c.satsText }
func (c *Converter) BTCText() string        { return c.btcText }
func (c *Converter) Editing() Field         { return c.editing }
func (c *Converter) LastUpdated() time.Time { return c.lastUpdated }

// BTC returns the amount all fields are derived from.
func (c *Converter) BTC() (decimal.Decimal, bool) {
	return c.btc, c.btcKnown
}

// Value returns the display text for code's value.
func (c *Converter) Value(code string) string {
	return c.values[code]
}

// Price returns the current rate for code.
func (c *Converter) Price(code string) (decimal.Decimal, bool) {
	p, ok := c.prices[code]
	return p, ok
}

// PriceText returns the display text of code's rate.
func (c *Converter) PriceText(code string) string {
	return c.priceText[code]
}

// WatchedCurrencies returns the watched codes, sorted, without the primary.
func (c *Converter) WatchedCurrencies() []string {
	codes := make([]string, 0, len(c.watched))
	for code := range c.watched {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Tracked returns the primary followed by the watched codes.
func (c *Converter) Tracked() []string {
	return c.tracked()
}

func (c *Converter) tracked() []string {
	return append([]string{c.primary}, c.WatchedCurrencies()...)
}

func (c *Converter) isTracked(code string) bool {
	if code == c.primary {
		return true
	}
	_, ok := c.watched[code]
	return ok
}

func (c *Converter) beginEdit(f Field, code string) {
	if c.editing != FieldNone && (c.editing != f || c.editingCode != code) {
		c.FinishEditing()
	}
	c.editing, c.editingCode = f, code
}

// clearAmount forgets the amount and empties every field except the one
// being edited.
func (c *Converter) clearAmount(keep Field, keepCode string) {
	c.btc, c.btcKnown = decimal.Zero, false
	if keep != FieldSats {
		c.satsText = ""
	}
	if keep != FieldBTC {
		c.btcText = ""
	}
	for code := range c.values {
		if keep == FieldValue && code == keepCode {
			continue
		}
		c.values[code] = ""
	}
}

func (c *Converter) clearAll() {
	c.clearAmount(FieldNone, "")
	c.editing, c.editingCode = FieldNone, ""
}

// recomputeValues derives every tracked value from btc, skipping skip.
func (c *Converter) recomputeValues(skip string) {
	for _, code := range c.tracked() {
		if code == skip {
			continue
		}
		c.recomputeValue(code)
	}
}

func (c *Converter) recomputeValue(code string) {
	if !c.isTracked(code) {
		return
	}
	price, ok := c.prices[code]
	if !c.btcKnown || !ok {
		c.values[code] = ""
		return
	}
	c.values[code] = quant.FormatFiat(c.btc.Mul(price), code)
}

// persist runs fn against the store in the background. Writes are chained so
// they reach the store in call order.
func (c *Converter) persist(op, code string, fn func(context.Context, domain.SelectionStore) error) {
	if c.store == nil {
		return
	}
	prev := c.lastWrite
	done := make(chan struct{})
	c.lastWrite = done

	store, logger := c.store, c.log
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := fn(ctx, store); err != nil {
			logger.Warn("Currency selection write failed",
				slog.String("op", op),
				slog.String("code", code),
				slog.Any("error", err))
		}
	}()
}

func (c *Converter) notify(ch Change) {
	for _, o := range c.observers {
		o(ch)
	}
}
