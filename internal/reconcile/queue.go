package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/payment"
)

const (
	TypePaymentNotification = "payment:notification"
	QueuePayments           = "payments"
)

// Dispatcher hands a parsed notification to the reconciler.
type Dispatcher interface {
	Dispatch(ctx context.Context, n payment.Notification) error
}

// RedisOpt builds the asynq connection from the shared Redis settings.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	}
}

// NewNotificationTask wraps a notification in a task. Fully described
// notifications get a task id so duplicate deliveries collapse while one is
// still queued; bare ones are left to the handled marker since their
// status is only known after enrichment. Notifications without a key are
// never collapsed.
func NewNotificationTask(n payment.Notification, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePaymentNotification, b)
	opts := []asynq.Option{
		asynq.Queue(QueuePayments),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30 * time.Second),
	}
	if key := n.Key(); n.Status != "" && key != "" {
		opts = append(opts, asynq.TaskID("notif:"+key))
	}
	return task, opts, nil
}

// Enqueuer dispatches notifications through asynq.
type Enqueuer struct {
	client   *asynq.Client
	maxRetry int
	logger   *zap.Logger
}

func NewEnqueuer(client *asynq.Client, maxRetry int, logger *zap.Logger) *Enqueuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{client: client, maxRetry: maxRetry, logger: logger}
}

func (e *Enqueuer) Dispatch(ctx context.Context, n payment.Notification) error {
	task, opts, err := NewNotificationTask(n, e.maxRetry)
	if err != nil {
		return fmt.Errorf("build notification task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.logger.Debug("notification already queued", zap.String("key", n.Key()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	e.logger.Info("notification queued",
		zap.String("task_id", info.ID),
		zap.String("provider", n.Provider),
		zap.String("payment_id", n.PaymentID),
	)
	return nil
}

// NewServeMux routes notification tasks to the worker. Handler errors make
// asynq retry with backoff and archive the task once retries run out.
func NewServeMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentNotification, handleNotificationTask(w))
	return mux
}

func handleNotificationTask(w *Worker) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var n payment.Notification
		if err := json.Unmarshal(task.Payload(), &n); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		return w.HandleNotification(ctx, n)
	}
}

// NewServer builds the asynq server processing the payments queue.
func NewServer(opt asynq.RedisClientOpt, concurrency int, logger *zap.Logger) *asynq.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueuePayments: 1,
		},
		Logger: logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			fields := []zap.Field{
				zap.String("type", task.Type()),
				zap.Int("retry", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			}
			if retried >= maxRetry {
				logger.Error("notification task archived", fields...)
				return
			}
			logger.Warn("notification task failed", fields...)
		}),
	})
}

// InlineDispatcher handles notifications synchronously in the caller.
type InlineDispatcher struct {
	Worker *Worker
}

func (d InlineDispatcher) Dispatch(ctx context.Context, n payment.Notification) error {
	return d.Worker.HandleNotification(ctx, n)
}
