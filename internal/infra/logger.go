package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger from cfg.Logging.
// When logging.file is set, output goes to ws.LogFile().
func NewLogger(cfg *Config, ws Workspace) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Logging.File {
		if err := os.MkdirAll(ws.LogDir(), 0o755); err == nil {
			f, err := os.OpenFile(ws.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err == nil {
				out = f
			}
		}
	}
	return newLogger(out, cfg.Logging.Level, cfg.Logging.Format)
}

func newLogger(out io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h).With(slog.String("app", AppName))
}

// ParseLevel maps a config level name to slog.Level; unknown names are Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
