// Command pulse runs the action notification service for the trading bot.
// It consumes the bot's websocket action stream, reconciles state against the
// REST API and serves derived views plus an SSE feed to dashboard clients.
//
// Usage:
//
//	pulse --config config.yaml
//	pulse --stream ws://localhost:9000/ws/actions --api http://localhost:9000
//
// Optional environment variables:
//
//	NOTIFIER_API_TOKEN: bearer token for the bot API and stream
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vadiminshakov/pulse/config"
	"github.com/vadiminshakov/pulse/internal/clients"
	"github.com/vadiminshakov/pulse/internal/services/toast"
	"github.com/vadiminshakov/pulse/internal/services/tracker"
	"github.com/vadiminshakov/pulse/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := clients.NewAPIClient(cfg.APIBaseURL, cfg.APIToken)

	toasts := toast.NewManager(logger,
		toast.WithMaxVisible(cfg.ToastMaxVisible),
		toast.WithMaxQueued(cfg.ToastMaxQueued),
	)

	tr := tracker.New(logger, api,
		tracker.WithReconnectDelay(cfg.ReconnectDelay),
		tracker.WithDismissWindows(cfg.DismissCompletedAfter, cfg.DismissFailedAfter),
		tracker.WithToaster(toasts),
	)
	tr.AttachStream(clients.NewStreamClient(cfg.StreamURL, cfg.APIToken, tr, logger))

	if err := tr.Connect(ctx); err != nil {
		logger.Warn("initial stream connect failed, retrying in background", zap.Error(err))
	}

	server := web.NewServer(cfg.WebAddr, tr, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(gctx, cfg.TLSDomains, cfg.TLSCacheDir)
		}
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		tr.Disconnect()
		toasts.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
