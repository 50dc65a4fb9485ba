package event

import (
	"sync"
	"time"

	"github.com/tyiu/sats-price/internal/domain"

	"github.com/shopspring/decimal"
)

// Type defines the type of event.
type Type uint16

const (
	EvQuote Type = iota + 1
	EvTick
	EvCommand
)

func (t Type) String() string {
	switch t {
	case EvQuote:
		return "quote"
	case EvTick:
		return "tick"
	case EvCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Event is the interface for all session events.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }

// QuoteEvent carries the result of one FetchMany call.
// Epoch is the selector epoch captured when the fetch was launched.
type QuoteEvent struct {
	BaseEvent
	Epoch     uint64            `json:"epoch"`
	Source    domain.SourceKind `json:"source"`
	Requested []string          `json:"requested"`
	Quote     domain.Quote      `json:"quote"`
}

func (e *QuoteEvent) GetType() Type { return EvQuote }

// TickEvent is a single-currency price pushed by a streaming source.
type TickEvent struct {
	BaseEvent
	Source domain.SourceKind `json:"source"`
	Code   string            `json:"code"`
	Rate   decimal.Decimal   `json:"rate"`
}

func (e *TickEvent) GetType() Type { return EvTick }

// CommandEvent runs Apply on the session goroutine and closes Done afterwards.
type CommandEvent struct {
	BaseEvent
	Apply func()
	Done  chan struct{}
}

func (e *CommandEvent) GetType() Type { return EvCommand }

// Ticks arrive several times per second while streaming; pool them.
var tickPool = sync.Pool{
	New: func() any { return new(TickEvent) },
}

// AcquireTickEvent returns a zeroed TickEvent from the pool.
func AcquireTickEvent() *TickEvent {
	return tickPool.Get().(*TickEvent)
}

// ReleaseTickEvent resets ev and returns it to the pool.
// ev must not be used after this call.
func ReleaseTickEvent(ev *TickEvent) {
	*ev = TickEvent{}
	tickPool.Put(ev)
}
