// Command server runs the ShopAway storefront, gateway callbacks, courier
// webhooks and the admin order console.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/shopaway/shopaway/app"
	"github.com/shopaway/shopaway/internal/observability"
	"github.com/shopaway/shopaway/server"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("shopaway exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	application, err := app.New()
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Close()

	cfg := application.Config
	flushSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, cfg.TraceSampling)
	if err != nil {
		application.Logger.Warn("sentry disabled", "error", err)
	}
	defer flushSentry()

	srv, err := server.New(cfg, application.Logger, application.Handlers)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
