package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockHandler implements WebSocketHandler for testing
type mockHandler struct {
	url            string
	subscribe      []byte
	onConnectCalls int32

	mu       sync.Mutex
	messages [][]byte
}

func (m *mockHandler) GetURL() string { return m.url }
func (m *mockHandler) ID() string     { return "MOCK" }

func (m *mockHandler) OnConnect(ctx context.Context, w *BaseWSWorker) error {
	atomic.AddInt32(&m.onConnectCalls, 1)
	if m.subscribe != nil {
		return w.Write(websocket.TextMessage, m.subscribe)
	}
	return nil
}

func (m *mockHandler) OnMessage(ctx context.Context, msg []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockHandler) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// createMockWSServer creates a test WebSocket server
func createMockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func TestBaseWSWorker_Connect(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"test"}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)
	worker.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	worker.Start(ctx)
	time.Sleep(200 * time.Millisecond) // Give time for connection and message
	worker.Stop()

	if atomic.LoadInt32(&handler.onConnectCalls) == 0 {
		t.Error("OnConnect was not called")
	}
	if handler.received() == 0 {
		t.Error("OnMessage was not called")
	}
}

func TestBaseWSWorker_SubscribeOnConnect(t *testing.T) {
	receivedMsg := make(chan []byte, 1)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			receivedMsg <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	sub := []byte(`{"type":"subscribe"}`)
	handler := &mockHandler{url: httpToWS(server.URL), subscribe: sub}
	worker := NewBaseWSWorker(handler)
	worker.Start(context.Background())
	defer worker.Stop()

	select {
	case msg := <-receivedMsg:
		if string(msg) != string(sub) {
			t.Errorf("expected %s, got %s", sub, msg)
		}
	case <-time.After(time.Second):
		t.Error("server did not receive subscription")
	}
}

func TestBaseWSWorker_Reconnects(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		// Drop the connection immediately.
	})
	defer server.Close()

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)
	worker.Backoff = Backoff{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond}
	worker.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for worker.Connects() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	worker.Stop()

	if worker.Connects() < 2 {
		t.Errorf("expected a reconnect, connects = %d", worker.Connects())
	}
}

func TestBaseWSWorker_GracefulShutdown(t *testing.T) {
	serverClosed := make(chan struct{})
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		<-serverClosed
	})
	defer server.Close()
	defer close(serverClosed)

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)

	worker.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	if !worker.Connected() {
		t.Error("expected an open connection")
	}

	// Stop should not hang
	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop did not return within timeout")
	}
}

func TestBaseWSWorker_WriteWhenDisconnected(t *testing.T) {
	worker := NewBaseWSWorker(&mockHandler{})
	if err := worker.WriteJSON(map[string]string{"type": "ping"}); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestBaseWSWorker_WriteTimeout(t *testing.T) {
	release := make(chan struct{})
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		<-release // never read, so the client's send buffer fills up
	})
	defer server.Close()
	defer close(release)

	worker := NewBaseWSWorker(&mockHandler{url: httpToWS(server.URL)})
	worker.WriteTimeout = 50 * time.Millisecond
	worker.PingInterval = 0
	worker.Start(context.Background())
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !worker.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !worker.Connected() {
		t.Fatal("worker did not connect")
	}

	payload := make([]byte, 1<<20)
	start := time.Now()
	var err error
	for i := 0; i < 256 && err == nil; i++ {
		err = worker.Write(websocket.BinaryMessage, payload)
	}
	if err == nil {
		t.Fatal("expected a write to time out against a peer that never reads")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("writes blocked for %s", elapsed)
	}

	// The stalled connection is dropped and replaced.
	deadline = time.Now().Add(2 * time.Second)
	for worker.Connects() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if worker.Connects() < 2 {
		t.Errorf("expected a reconnect after the write timeout, connects = %d", worker.Connects())
	}
}
