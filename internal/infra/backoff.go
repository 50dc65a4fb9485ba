package infra

import (
	"context"
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff is an exponential delay schedule: Base * 2^retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used by the websocket reconnect loop.
var DefaultBackoff = Backoff{Base: baseDelay, Max: maxDelay}

// Delay returns the wait before retry number retryCount (0-based).
// If retryCount is negative, it returns Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		return b.Base
	}

	// 2^30 * 1ns already exceeds any sensible cap; avoid shift overflow.
	if retryCount > 30 {
		return b.Max
	}

	d := b.Base * time.Duration(1<<retryCount)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Sleep waits for Delay(retryCount) or until ctx is done.
func (b Backoff) Sleep(ctx context.Context, retryCount int) error {
	t := time.NewTimer(b.Delay(retryCount))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
