package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/appointment/appointmenttest"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/payment"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/slot"
)

type harness struct {
	store  *appointmenttest.Store
	svc    *appointment.Service
	worker *Worker
	mr     *miniredis.Miniredis
	date   time.Time
	doc    string
}

func newHarness(t *testing.T, enricher payment.Enricher) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := appointmenttest.NewStore()
	doc := appointmenttest.NewProvider("09:00", "12:00", 30)
	correlator := payment.NewCorrelator(payment.NewFakeGateway("http://pay.test"), store, logger)
	svc := appointment.NewService(
		store,
		appointmenttest.NewCatalog(doc),
		correlator,
		config.Config{HoldDuration: 30 * time.Minute},
		logger,
		nil,
	)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := NewWorker(
		svc,
		correlator,
		enricher,
		redisclient.NewRedisLocker(rdb, 30*time.Second),
		redisclient.NewRedisDeduper(rdb, "notif:", time.Hour),
		logger,
		nil,
	)

	y, m, d := time.Now().UTC().AddDate(0, 1, 0).Date()
	return &harness{
		store:  store,
		svc:    svc,
		worker: w,
		mr:     mr,
		date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		doc:    doc.ID.String(),
	}
}

func (h *harness) book(t *testing.T, start string) *appointment.Booking {
	t.Helper()
	b, err := h.svc.Book(context.Background(), appointment.BookingRequest{
		ProviderID:     uuid.MustParse(h.doc),
		Date:           h.date,
		Start:          slot.MustClock(start),
		PatientName:    "Ana",
		PatientContact: "ana@example.com",
	})
	require.NoError(t, err)
	return b
}

func (h *harness) status(t *testing.T, id uuid.UUID) appointment.AppointmentStatus {
	t.Helper()
	a, err := h.svc.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestDuplicateApprovalsTransitionOnce(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "09:00")
	ctx := context.Background()

	n := payment.Notification{
		Provider:      "fake",
		EventID:       "evt-1",
		PaymentID:     "pay-1",
		Status:        payment.StatusApproved,
		CorrelationID: b.Appointment.ID.String(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.worker.HandleNotification(ctx, n))
		}()
	}
	wg.Wait()

	// same payment redelivered under a different event id
	n.EventID = "evt-2"
	require.NoError(t, h.worker.HandleNotification(ctx, n))

	assert.Equal(t, appointment.StatusPaid, h.status(t, b.Appointment.ID))
	assert.Len(t, h.store.Events(appointment.EventAppointmentPaid), 1)
	assert.True(t, h.mr.Exists("notif:fake:evt-1:approved"))
}

func TestIntentRefApprovalsForDifferentAppointments(t *testing.T) {
	h := newHarness(t, nil)
	first := h.book(t, "09:00")
	second := h.book(t, "09:30")
	require.NotNil(t, first.Intent)
	require.NotNil(t, second.Intent)
	ctx := context.Background()

	for _, b := range []*appointment.Booking{first, second} {
		require.NoError(t, h.worker.HandleNotification(ctx, payment.Notification{
			Provider:  "fake",
			IntentRef: b.Intent.Ref,
			Status:    payment.StatusApproved,
		}))
	}

	assert.Equal(t, appointment.StatusPaid, h.status(t, first.Appointment.ID))
	assert.Equal(t, appointment.StatusPaid, h.status(t, second.Appointment.ID))
	assert.True(t, h.mr.Exists("notif:fake:"+first.Intent.Ref+":approved"))
	assert.True(t, h.mr.Exists("notif:fake:"+second.Intent.Ref+":approved"))
}

func TestRejectionAfterApprovalIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "09:30")
	ctx := context.Background()
	id := b.Appointment.ID.String()

	require.NoError(t, h.worker.HandleNotification(ctx, payment.Notification{
		Provider: "fake", EventID: "a", PaymentID: "pay-1", Status: payment.StatusApproved, CorrelationID: id,
	}))
	require.NoError(t, h.worker.HandleNotification(ctx, payment.Notification{
		Provider: "fake", EventID: "b", PaymentID: "pay-1", Status: payment.StatusRejected, CorrelationID: id,
	}))

	assert.Equal(t, appointment.StatusPaid, h.status(t, b.Appointment.ID))
	assert.Empty(t, h.store.Events(appointment.EventAppointmentCancelled))
}

func TestRejectionReleasesSlot(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "10:00")
	ctx := context.Background()

	// correlate through the stored intent ref only
	require.NoError(t, h.worker.HandleNotification(ctx, payment.Notification{
		Provider:  "fake",
		EventID:   "evt-r",
		PaymentID: "pay-9",
		Status:    payment.StatusRejected,
		IntentRef: b.Intent.Ref,
	}))

	a, err := h.svc.GetAppointment(ctx, b.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, a.Status)
	require.NotNil(t, a.ClosedReason)
	assert.Equal(t, string(appointment.ReasonPaymentRejected), *a.ClosedReason)

	// approval arriving afterwards does not resurrect the hold
	require.NoError(t, h.worker.HandleNotification(ctx, payment.Notification{
		Provider: "fake", EventID: "evt-a", PaymentID: "pay-9", Status: payment.StatusApproved,
		CorrelationID: b.Appointment.ID.String(),
	}))
	assert.Equal(t, appointment.StatusCancelled, h.status(t, b.Appointment.ID))
	assert.Len(t, h.store.Events(appointment.EventPaymentAfterRelease), 1)
}

func TestPendingStatusNoTransition(t *testing.T) {
	h := newHarness(t, nil)
	b := h.book(t, "10:30")

	require.NoError(t, h.worker.HandleNotification(context.Background(), payment.Notification{
		Provider: "fake", EventID: "p", PaymentID: "pay-p", Status: payment.StatusInProcess,
		CorrelationID: b.Appointment.ID.String(),
	}))
	assert.Equal(t, appointment.StatusReserved, h.status(t, b.Appointment.ID))
}

func TestUnresolvableNotificationIsRecorded(t *testing.T) {
	h := newHarness(t, nil)

	err := h.worker.HandleNotification(context.Background(), payment.Notification{
		Provider: "fake", EventID: "x", PaymentID: "pay-unknown", Status: payment.StatusApproved,
		CorrelationID: uuid.NewString(),
	})
	require.ErrorIs(t, err, payment.ErrUnresolvable)

	events := h.store.Events(appointment.EventPaymentUnresolved)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].AppointmentID)
	assert.Contains(t, string(events[0].Payload), "pay-unknown")
	assert.False(t, h.mr.Exists("notif:fake:x:approved"), "unresolved notifications must stay retryable")
}

type stubEnricher struct {
	status string
	corr   string
	err    error
	calls  int
}

func (s *stubEnricher) Enrich(_ context.Context, n *payment.Notification) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	n.Status = s.status
	n.CorrelationID = s.corr
	return nil
}

func TestBareNotificationIsEnriched(t *testing.T) {
	enricher := &stubEnricher{status: payment.StatusApproved}
	h := newHarness(t, enricher)
	b := h.book(t, "11:00")
	enricher.corr = b.Appointment.ID.String()

	n := payment.Notification{Provider: "mercadopago", EventID: "555:payment", PaymentID: "555"}
	require.NoError(t, h.worker.HandleNotification(context.Background(), n))

	a, err := h.svc.GetAppointment(context.Background(), b.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPaid, a.Status)
	require.NotNil(t, a.PaymentConfirmationRef)
	assert.Equal(t, "555", *a.PaymentConfirmationRef)
	assert.Equal(t, 1, enricher.calls)

	enricher.err = errors.New("mercadopago down")
	err = h.worker.HandleNotification(context.Background(), n)
	assert.Error(t, err)
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t, nil)
	base := time.Date(2031, 2, 3, 10, 0, 0, 0, time.UTC)
	h.store.SetNow(func() time.Time { return base })
	b := h.book(t, "09:00")

	n, err := h.worker.SweepExpired(context.Background(), base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, h.mr.Set("lock:"+sweepLockName, "other-worker"))
	n, err = h.worker.SweepExpired(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "lease held elsewhere")
	assert.Equal(t, appointment.StatusReserved, h.status(t, b.Appointment.ID))

	h.mr.Del("lock:" + sweepLockName)
	n, err = h.worker.SweepExpired(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, appointment.StatusExpired, h.status(t, b.Appointment.ID))

	slots, err := h.svc.AvailableSlots(context.Background(), uuid.MustParse(h.doc), h.date)
	require.NoError(t, err)
	assert.True(t, slots[0].Available, "expired hold frees the slot")
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
