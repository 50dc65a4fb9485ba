package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Poller refreshes a Session on a fixed interval. Only networked sources are
// polled; manual and synthetic prices change when the user acts.
type Poller struct {
	session  *Session
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(session *Session, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{session: session, interval: interval, log: logger}
}

// Run blocks until ctx is done or the session closes. A non-positive
// interval disables polling.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.log.Info("Price polling disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.session.SourceKind().Networked() {
				continue
			}
			if err := p.session.Refresh(ctx); err != nil {
				if errors.Is(err, ErrSessionClosed) || errors.Is(err, context.Canceled) {
					return
				}
				p.log.Warn("Scheduled refresh failed", slog.Any("error", err))
			}
		}
	}
}
