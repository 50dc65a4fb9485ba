package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/engine"
	"github.com/tyiu/sats-price/internal/pricing"
	"github.com/tyiu/sats-price/internal/storage"
)

func startTestSession(t *testing.T, kind domain.SourceKind) *engine.Session {
	t.Helper()
	conv, err := engine.NewConverter("USD", storage.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	sel, err := pricing.NewSelector(kind, map[domain.SourceKind]domain.PriceSource{
		domain.SourceCoinbase: pricing.NewManual(),
	})
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	sess := engine.NewSession(conv, sel, engine.SessionConfig{DumpPath: t.TempDir() + "/dump.json"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sess
}

func startConsole(t *testing.T, kind domain.SourceKind) (*Console, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return NewConsole(startTestSession(t, kind), out), out
}

func TestConsole_Conversion(t *testing.T) {
	c, out := startConsole(t, domain.SourceManual)
	ctx := context.Background()

	steps := []struct {
		line string
		want []string
	}{
		{"price USD 54321", []string{"54321"}},
		{"fiat usd 1", []string{"1,841", "0.00001841", "1.00"}},
		{"btc 1", []string{"100,000,000", "54,321.00"}},
		{"add eur", []string{"EUR", "-"}},
		{"btc 21000001", []string{"exceeds"}},
		{"source", []string{"* manual"}},
	}
	for _, s := range steps {
		out.Reset()
		quit, err := c.Exec(ctx, s.line)
		if err != nil || quit {
			t.Fatalf("%q: quit=%v err=%v", s.line, quit, err)
		}
		for _, w := range s.want {
			if !strings.Contains(out.String(), w) {
				t.Errorf("%q: output missing %q:\n%s", s.line, w, out.String())
			}
		}
	}
}

func TestConsole_Errors(t *testing.T) {
	c, _ := startConsole(t, domain.SourceManual)
	ctx := context.Background()

	tests := []struct {
		line string
		is   error
	}{
		{"fiat", errUsage},
		{"fiat US 1", domain.ErrInvalidCurrencyCode},
		{"add", errUsage},
		{"add 123", domain.ErrInvalidCurrencyCode},
		{"source nowhere", nil},
		{"frobnicate", nil},
	}
	for _, tt := range tests {
		_, err := c.Exec(ctx, tt.line)
		if err == nil {
			t.Errorf("%q: expected an error", tt.line)
			continue
		}
		if tt.is != nil && !errors.Is(err, tt.is) {
			t.Errorf("%q: got %v, want %v", tt.line, err, tt.is)
		}
	}
}

func TestConsole_PriceRequiresManual(t *testing.T) {
	c, out := startConsole(t, domain.SourceCoinbase)
	ctx := context.Background()

	if _, err := c.Exec(ctx, "price USD 100"); !errors.Is(err, engine.ErrNotManual) {
		t.Fatalf("expected ErrNotManual, got %v", err)
	}
	if _, err := c.Exec(ctx, "source manual"); err != nil {
		t.Fatalf("source: %v", err)
	}
	if !strings.Contains(out.String(), "source: Manual") {
		t.Errorf("switch not reported:\n%s", out.String())
	}
	if _, err := c.Exec(ctx, "price USD 100"); err != nil {
		t.Fatalf("price: %v", err)
	}
}

func TestConsole_Run(t *testing.T) {
	c, out := startConsole(t, domain.SourceManual)
	in := strings.NewReader("help\n\nshow\nquit\nbtc 1\n")

	if err := c.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "commands:") {
		t.Error("help not printed")
	}
	if strings.Contains(out.String(), "100,000,000") {
		t.Error("lines after quit must not run")
	}
}

func TestConsole_RunReportsErrors(t *testing.T) {
	c, out := startConsole(t, domain.SourceManual)
	in := strings.NewReader("frobnicate\nsats 1\n")

	if err := c.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), `error: unknown command "frobnicate"`) {
		t.Errorf("error not reported:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "0.00000001") {
		t.Error("commands after an error should still run")
	}
}

func TestRenderView(t *testing.T) {
	v := engine.View{
		Source:  "coinbase",
		Primary: "USD",
		Watched: []string{"EUR"},
		Sats:    "100,000,000",
		BTC:     "1",
		Values:  map[string]string{"USD": "54,321.00"},
		Prices:  map[string]string{"USD": "54,321.00"},
	}
	out := RenderView(v)
	for _, want := range []string{"source coinbase", "updated never", "100,000,000", "54,321.00", "@ 54,321.00", "EUR", "@ -"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "exceeds") {
		t.Error("no warning expected under the supply cap")
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 5 {
		t.Errorf("expected header plus 4 rows, got %d:\n%s", len(lines), out)
	}

	v.ExceedsSupplyCap = true
	if out := RenderView(v); !strings.Contains(out, "exceeds the 21,000,000 BTC supply") {
		t.Errorf("warning missing:\n%s", out)
	}
}
