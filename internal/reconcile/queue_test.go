package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/payment"
)

func TestNewNotificationTask(t *testing.T) {
	n := payment.Notification{Provider: "stripe", EventID: "evt_1", PaymentID: "pi_1", Status: payment.StatusApproved}

	task, opts, err := NewNotificationTask(n, 5)
	require.NoError(t, err)
	assert.Equal(t, TypePaymentNotification, task.Type())

	var decoded payment.Notification
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, n.Key(), decoded.Key())

	var taskID string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			taskID = o.Value().(string)
		}
	}
	assert.Equal(t, "notif:stripe:evt_1:approved", taskID)

	_, opts, err = NewNotificationTask(payment.Notification{Provider: "mercadopago", PaymentID: "555"}, 5)
	require.NoError(t, err)
	for _, o := range opts {
		assert.NotEqual(t, asynq.TaskIDOpt, o.Type(), "bare notifications must not collapse before enrichment")
	}
}

func TestServeMuxProcessesNotification(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "09:00")
	mux := NewServeMux(h.worker)

	task, _, err := NewNotificationTask(payment.Notification{
		Provider:      "fake",
		EventID:       "evt-q",
		PaymentID:     "pay-q",
		Status:        payment.StatusApproved,
		CorrelationID: b.Appointment.ID.String(),
	}, 3)
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), task))
	assert.Equal(t, appointment.StatusPaid, h.status(t, b.Appointment.ID))
}

func TestServeMuxErrors(t *testing.T) {
	h := newHarness(t, nil)
	mux := NewServeMux(h.worker)

	err := mux.ProcessTask(context.Background(), asynq.NewTask(TypePaymentNotification, []byte("{broken")))
	assert.True(t, errors.Is(err, asynq.SkipRetry), "malformed payloads are not retried")

	task, _, err := NewNotificationTask(payment.Notification{
		Provider: "fake", EventID: "lost", PaymentID: "nobody", Status: payment.StatusApproved,
	}, 3)
	require.NoError(t, err)
	err = mux.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, payment.ErrUnresolvable, "unresolvable notifications are retried")
}

func TestEnqueuerCollapsesDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	client := asynq.NewClient(RedisOpt(config.Config{RedisAddr: h.mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	e := NewEnqueuer(client, 5, zaptest.NewLogger(t))
	n := payment.Notification{Provider: "stripe", EventID: "evt_9", PaymentID: "pi_9", Status: payment.StatusApproved}

	require.NoError(t, e.Dispatch(context.Background(), n))
	require.NoError(t, e.Dispatch(context.Background(), n), "a duplicate delivery is not an error")
	assert.True(t, h.mr.Exists("asynq:{payments}:t:notif:stripe:evt_9:approved"))
}

func TestEnqueuerKeepsDistinctIntentRefs(t *testing.T) {
	h := newHarness(t, nil)
	client := asynq.NewClient(RedisOpt(config.Config{RedisAddr: h.mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	e := NewEnqueuer(client, 5, zaptest.NewLogger(t))
	for _, ref := range []string{"ref-a", "ref-b"} {
		require.NoError(t, e.Dispatch(context.Background(), payment.Notification{
			Provider: "fake", IntentRef: ref, Status: payment.StatusApproved,
		}))
	}
	assert.True(t, h.mr.Exists("asynq:{payments}:t:notif:fake:ref-a:approved"))
	assert.True(t, h.mr.Exists("asynq:{payments}:t:notif:fake:ref-b:approved"))

	_, opts, err := NewNotificationTask(payment.Notification{Provider: "fake", ItemID: "x", Status: payment.StatusApproved}, 5)
	require.NoError(t, err)
	for _, o := range opts {
		assert.NotEqual(t, asynq.TaskIDOpt, o.Type(), "keyless notifications must not collapse")
	}
}

func TestInlineDispatcher(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "11:30")

	d := InlineDispatcher{Worker: h.worker}
	require.NoError(t, d.Dispatch(context.Background(), payment.Notification{
		Provider: "fake", EventID: "i", PaymentID: "pay-i", Status: payment.StatusCancelled,
		CorrelationID: b.Appointment.ID.String(),
	}))
	assert.Equal(t, appointment.StatusCancelled, h.status(t, b.Appointment.ID))
}
