package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler supplies the provider-specific parts of a stream.
type WebSocketHandler interface {
	GetURL() string
	// OnConnect runs after every (re)connect, typically to subscribe.
	OnConnect(ctx context.Context, w *BaseWSWorker) error
	OnMessage(ctx context.Context, msg []byte)
	ID() string
}

// BaseWSWorker keeps one WebSocket connection alive.
// It reconnects with backoff, sends ping control frames and serialises writes.
type BaseWSWorker struct {
	handler WebSocketHandler
	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	connects atomic.Int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	Backoff      Backoff
}

// NewBaseWSWorker creates a worker for handler.
func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		Backoff:      DefaultBackoff,
	}
}

// Start initiates the connection loop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and waits for its goroutines.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close(nil)
	w.wg.Wait()
}

// Connected reports whether a connection is currently open.
func (w *BaseWSWorker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

// Connects returns how many connections have been established.
func (w *BaseWSWorker) Connects() int64 {
	return w.connects.Load()
}

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := w.connect(ctx)
		if err != nil {
			slog.Warn("WS connection failed",
				slog.String("id", w.handler.ID()),
				slog.Any("error", err),
				slog.Int("retry", retry))
			if w.Backoff.Sleep(ctx, retry) != nil {
				return
			}
			retry++
			continue
		}

		retry = 0
		w.process(ctx, conn)
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())

	conn, _, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, w); err != nil {
		w.close(conn)
		return nil, fmt.Errorf("OnConnect failed: %w", err)
	}

	if w.PingInterval > 0 {
		w.wg.Add(1)
		go w.pingLoop(ctx, conn)
	}

	w.connects.Add(1)
	slog.Info("WS connected", slog.String("id", w.handler.ID()))
	return conn, nil
}

func (w *BaseWSWorker) process(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS read error", slog.String("id", w.handler.ID()), slog.Any("error", err))
			}
			w.close(conn)
			return
		}

		w.handler.OnMessage(ctx, msg)
	}
}

func (w *BaseWSWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS ping error", slog.String("id", w.handler.ID()), slog.Any("error", err))
				w.close(conn)
				return
			}
		}
	}
}

// Write sends one message on the current connection.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	return w.write(func(c *websocket.Conn) error {
		return c.WriteMessage(msgType, data)
	})
}

// WriteJSON sends v encoded as JSON on the current connection.
func (w *BaseWSWorker) WriteJSON(v any) error {
	return w.write(func(c *websocket.Conn) error {
		return c.WriteJSON(v)
	})
}

// write runs send under the write lock with a deadline of WriteTimeout. A
// failed write drops the connection so the run loop reconnects.
func (w *BaseWSWorker) write(send func(*websocket.Conn) error) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	if w.WriteTimeout > 0 {
		c.SetWriteDeadline(time.Now().Add(w.WriteTimeout))
	}
	if err := send(c); err != nil {
		w.close(c)
		return err
	}
	return nil
}

// close closes conn if it is still current; nil closes whatever is open.
func (w *BaseWSWorker) close(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil || (conn != nil && w.conn != conn) {
		if conn != nil {
			conn.Close()
		}
		return
	}
	w.conn.Close()
	w.conn = nil
}
