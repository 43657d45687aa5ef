package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/bootstrap"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("hold_duration", cfg.HoldDuration),
		zap.Bool("queue_enabled", cfg.QueueEnabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal("reconcile-worker stopped", zap.Error(err))
	}
	logger.Info("reconcile-worker shut down")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rt, err := bootstrap.Build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var wg sync.WaitGroup

	// Expiry sweep
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.Worker.Run(ctx, cfg.WorkerInterval)
	}()

	// Queued payment notifications
	if cfg.QueueEnabled {
		srv := reconcile.NewServer(reconcile.RedisOpt(cfg), cfg.QueueConcurrency, logger)
		if err := srv.Start(reconcile.NewServeMux(rt.Worker)); err != nil {
			return fmt.Errorf("start queue server: %w", err)
		}
		logger.Info("processing payment notifications",
			zap.String("queue", reconcile.QueuePayments),
			zap.Int("concurrency", cfg.QueueConcurrency),
		)

		<-ctx.Done()
		logger.Info("shutdown signal received, draining queue")
		srv.Shutdown()
	}

	wg.Wait()
	return nil
}
