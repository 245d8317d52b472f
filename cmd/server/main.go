package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"quotaguard/internal/platform/config"
	"quotaguard/internal/platform/httpserver"
	"quotaguard/internal/platform/logger"
	"quotaguard/internal/platform/metrics"
	ratelimitmetrics "quotaguard/internal/ratelimit/metrics"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	config.LoadDotEnv()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("quotaguard exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close(log)

	app, err := buildApp(ctx, cfg, log, infra, ratelimitmetrics.New(reg))
	if err != nil {
		return err
	}
	defer app.auditPublisher.Close()

	router := newRouter(cfg, log, app, reg, metrics.New(reg))
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quotaguard",
			"addr", cfg.Addr,
			"window_backend", cfg.RateLimit.WindowBackend,
			"eventlog_backend", cfg.RateLimit.EventLogBackend,
		)
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout)
	})
	for _, janitor := range app.janitors {
		g.Go(func() error {
			if err := janitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("quotaguard stopped")
	return nil
}
