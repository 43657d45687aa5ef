package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/bootstrap"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/reconcile"
)

var version = "dev"

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

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
	logger.Info("api-server shut down")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rt, err := bootstrap.Build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var dispatcher reconcile.Dispatcher = reconcile.InlineDispatcher{Worker: rt.Worker}
	if cfg.QueueEnabled {
		client := asynq.NewClient(reconcile.RedisOpt(cfg))
		defer func() { _ = client.Close() }()
		dispatcher = reconcile.NewEnqueuer(client, cfg.QueueMaxRetry, logger)
		logger.Info("payment notifications routed through queue", zap.String("queue", reconcile.QueuePayments))
	}

	var redisPing api.Pinger
	if rt.Redis != nil {
		redisPing = api.RedisPinger(rt.Redis)
	}

	if cfg.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes will refuse every request")
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments:        rt.Appointments,
		Providers:           rt.Providers,
		Dispatcher:          dispatcher,
		Health:              api.NewHealthHandler(rt.Pool, redisPing, cfg.Env, version),
		Metrics:             promhttp.Handler(),
		Logger:              logger,
		AdminTokenHash:      cfg.AdminTokenHash,
		StripeWebhookSecret: cfg.Payment.StripeWebhookKey,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
