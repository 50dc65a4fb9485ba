package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tyiu/sats-price/internal/app"
	"github.com/tyiu/sats-price/internal/infra"

	"github.com/mattn/go-isatty"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs, then the OS config dir)")
	plain := flag.Bool("plain", false, "read commands line by line even on a terminal")
	flag.Parse()

	interactive := !*plain && isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	bootstrap.Interactive = interactive
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Session, poller, stream, metrics
	bootstrap.Start(ctx)
	slog.InfoContext(ctx, "✨ Converter ready", slog.String("session", bootstrap.Session.ID()))

	// 4. Front end; Ctrl+C, Esc or "quit" ends it
	uiDone := make(chan error, 1)
	go func() {
		if interactive {
			uiDone <- app.RunTUI(ctx, bootstrap.Session)
			return
		}
		infra.PrintBanner(os.Stdout, bootstrap.Config, bootstrap.Selector.Kind().Key())
		uiDone <- app.NewConsole(bootstrap.Session, os.Stdout).Run(ctx, os.Stdin)
	}()

	select {
	case <-ctx.Done():
		if interactive {
			<-uiDone // let the terminal be restored
		}
	case err := <-uiDone:
		if err != nil {
			slog.Error("Console failed", slog.Any("error", err))
		}
	}

	slog.Info("👋 Shutting down gracefully...")
	stop()
	bootstrap.Close()
}
