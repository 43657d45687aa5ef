// Package reconcile applies payment notifications and hold expiry to
// appointments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/payment"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

const sweepLockName = "expiry-sweep"

var tracer = otel.Tracer("slotbooking.internal.reconcile")

// Lifecycle is the set of appointment transitions the worker drives.
type Lifecycle interface {
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*appointment.Appointment, error)
	Release(ctx context.Context, id uuid.UUID, reason appointment.ReleaseReason) (*appointment.Appointment, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	RecordEvent(ctx context.Context, eventType string, appointmentID *uuid.UUID, payload map[string]any)
}

type Resolver interface {
	Resolve(ctx context.Context, n payment.Notification) (uuid.UUID, error)
}

type Worker struct {
	lifecycle Lifecycle
	resolver  Resolver
	enricher  payment.Enricher
	locker    redisclient.Locker
	dedup     redisclient.Deduper
	logger    *zap.Logger
	metrics   *metrics.BookingMetrics
	now       func() time.Time
}

// NewWorker wires the reconciler. enricher may be nil when the gateway sends
// complete notifications; locker and dedup default to no-ops.
func NewWorker(
	lifecycle Lifecycle,
	resolver Resolver,
	enricher payment.Enricher,
	locker redisclient.Locker,
	dedup redisclient.Deduper,
	logger *zap.Logger,
	m *metrics.BookingMetrics,
) *Worker {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if dedup == nil {
		dedup = redisclient.NoopDeduper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		lifecycle: lifecycle,
		resolver:  resolver,
		enricher:  enricher,
		locker:    locker,
		dedup:     dedup,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// HandleNotification applies one payment notification. It is safe to call
// any number of times with the same notification, in any order relative to
// other notifications for the same appointment.
func (w *Worker) HandleNotification(ctx context.Context, n payment.Notification) error {
	ctx, span := tracer.Start(ctx, "reconcile.handle_notification")
	defer span.End()
	span.SetAttributes(
		attribute.String("slotbooking.provider", n.Provider),
		attribute.String("slotbooking.payment_id", n.PaymentID),
	)

	started := w.now()
	defer func() {
		w.metrics.ObserveNotificationLatency(n.Provider, w.now().Sub(started).Seconds())
	}()

	if n.Status == "" {
		if w.enricher == nil {
			n.Status = payment.StatusUnknown
		} else if err := w.enricher.Enrich(ctx, &n); err != nil {
			w.metrics.ObserveNotification(n.Provider, "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "enrich")
			return fmt.Errorf("enrich notification: %w", err)
		}
	}
	status := payment.Normalize(n.Status)
	span.SetAttributes(attribute.String("slotbooking.payment_status", status))

	log := w.logger.With(
		zap.String("provider", n.Provider),
		zap.String("event_id", n.EventID),
		zap.String("payment_id", n.PaymentID),
		zap.String("status", status),
	)

	key := n.Key()
	if key == "" {
		log.Debug("notification has no stable key, skipping marker")
	} else if seen, err := w.dedup.Seen(ctx, key); err != nil {
		log.Warn("notification marker lookup failed", zap.Error(err))
	} else if seen {
		log.Debug("notification already handled")
		w.metrics.ObserveNotification(n.Provider, "duplicate")
		return nil
	}

	id, err := w.resolver.Resolve(ctx, n)
	if err != nil {
		if errors.Is(err, payment.ErrUnresolvable) {
			log.Warn("unresolvable payment notification",
				zap.String("correlation_id", n.CorrelationID),
				zap.String("item_id", n.ItemID),
				zap.String("intent_ref", n.IntentRef),
			)
			w.lifecycle.RecordEvent(ctx, appointment.EventPaymentUnresolved, nil, map[string]any{
				"provider":       n.Provider,
				"event_id":       n.EventID,
				"payment_id":     n.PaymentID,
				"status":         status,
				"correlation_id": n.CorrelationID,
				"item_id":        n.ItemID,
				"intent_ref":     n.IntentRef,
			})
			w.metrics.ObserveNotification(n.Provider, "unresolved")
		} else {
			w.metrics.ObserveNotification(n.Provider, "error")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve")
		return err
	}
	log = log.With(zap.String("appointment_id", id.String()))
	span.SetAttributes(attribute.String("slotbooking.appointment_id", id.String()))

	outcome := "ignored"
	switch status {
	case payment.StatusApproved:
		ref := n.PaymentID
		if ref == "" {
			ref = n.IntentRef
		}
		if _, err := w.lifecycle.MarkPaid(ctx, id, ref); err != nil {
			w.metrics.ObserveNotification(n.Provider, "error")
			span.RecordError(err)
			return err
		}
		outcome = "paid"
	case payment.StatusRejected, payment.StatusCancelled:
		if _, err := w.lifecycle.Release(ctx, id, appointment.ReasonPaymentRejected); err != nil {
			w.metrics.ObserveNotification(n.Provider, "error")
			span.RecordError(err)
			return err
		}
		outcome = "released"
	default:
		log.Info("no transition for payment status")
	}

	if key != "" {
		if err := w.dedup.Mark(ctx, key); err != nil {
			log.Warn("failed to set notification marker", zap.Error(err))
		}
	}
	w.metrics.ObserveNotification(n.Provider, outcome)
	log.Info("payment notification handled", zap.String("outcome", outcome))

	return nil
}

// SweepExpired releases stale holds. When another process holds the sweep
// lease it does nothing and reports zero.
func (w *Worker) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := w.locker.WithLock(ctx, sweepLockName, func(lockCtx context.Context) error {
		n, err := w.lifecycle.ExpireStale(lockCtx, now)
		expired = n
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		w.logger.Debug("expiry sweep skipped, lease held elsewhere")
		return 0, nil
	}
	if err != nil {
		return expired, fmt.Errorf("expiry sweep: %w", err)
	}
	return expired, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	w.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping expiry sweep")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := w.now()
	n, err := w.SweepExpired(runCtx, start)
	if err != nil {
		w.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	w.logger.Info("expiry sweep complete",
		zap.Int("expired", n),
		zap.Duration("took", w.now().Sub(start)),
	)
}
