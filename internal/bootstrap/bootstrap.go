// Package bootstrap wires the booking services from configuration. The API
// server and the reconcile worker build the same graph.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/payment"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/reconcile"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

type Runtime struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client // nil when Redis is unreachable and not required

	Metrics      *metrics.BookingMetrics
	Providers    *provider.Service
	Appointments *appointment.Service
	Correlator   *payment.Correlator
	Worker       *reconcile.Worker
}

// Build connects to Postgres and Redis and assembles the services. Redis is
// required only when the queue is enabled; otherwise a failed connection
// degrades to in-process no-op locking and dedup.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Runtime, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info("connected to Postgres")

	rt := &Runtime{Pool: pool}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	switch {
	case err == nil:
		rt.Redis = rdb
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	case cfg.QueueEnabled:
		pool.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	default:
		logger.Warn("redis unavailable, running without lease lock and notification marker", zap.Error(err))
	}

	gateway, err := payment.NewGateway(cfg.Payment, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Metrics = metrics.NewBookingMetrics(reg)
	rt.Providers = provider.NewService(provider.NewPgRepository(pool), cfg.Payment.Currency, logger)

	repo := appointment.NewPgRepository(pool)
	rt.Correlator = payment.NewCorrelator(gateway, repo, logger)
	rt.Appointments = appointment.NewService(repo, rt.Providers, rt.Correlator, cfg, logger, rt.Metrics)

	var (
		locker redisclient.Locker  = redisclient.NoopLocker{}
		dedup  redisclient.Deduper = redisclient.NoopDeduper{}
		enrich payment.Enricher
	)
	if rt.Redis != nil {
		locker = redisclient.NewRedisLocker(rt.Redis, cfg.LockTTL)
		dedup = redisclient.NewRedisDeduper(rt.Redis, "notif:", cfg.DedupTTL)
	}
	if e, ok := rt.Correlator.Enricher(); ok {
		enrich = e
	}
	rt.Worker = reconcile.NewWorker(rt.Appointments, rt.Correlator, enrich, locker, dedup, logger, rt.Metrics)

	logger.Info("services ready",
		zap.String("payment_provider", gateway.Name()),
		zap.Duration("hold_duration", cfg.HoldDuration),
		zap.Bool("queue_enabled", cfg.QueueEnabled),
	)
	return rt, nil
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	rt.Pool.Close()
}
