package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/appointment/appointmenttest"
	"github.com/hackgods/slot-booking/internal/slot"
)

func reserve(t *testing.T, store *appointmenttest.Store, start string) *appointment.Appointment {
	t.Helper()
	appt, err := store.Reserve(context.Background(), appointment.Draft{
		ProviderID:     uuid.New(),
		PatientName:    "Ana",
		PatientContact: "ana@example.com",
		Date:           time.Date(2030, 5, 6, 0, 0, 0, 0, time.UTC),
		SlotStart:      slot.MustClock(start),
		SlotEnd:        slot.MustClock(start).Add(30),
		Amount:         150000,
		Currency:       "ARS",
	})
	require.NoError(t, err)
	return appt
}

func TestCorrelatorCreateIntentAttachesRef(t *testing.T) {
	store := appointmenttest.NewStore()
	appt := reserve(t, store, "09:00")
	c := NewCorrelator(NewFakeGateway("http://pay.test"), store, nil)

	intent, err := c.CreateIntent(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, "fake_pref_"+appt.ID.String(), intent.Ref)
	assert.Equal(t, "http://pay.test/"+intent.Ref, intent.RedirectURL)

	stored, err := store.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentIntentRef)
	assert.Equal(t, intent.Ref, *stored.PaymentIntentRef)
}

func TestCorrelatorCreateIntentGatewayError(t *testing.T) {
	store := appointmenttest.NewStore()
	appt := reserve(t, store, "09:00")
	gw := NewFakeGateway("http://pay.test")
	gw.FailWith(errors.New("connection refused"))
	c := NewCorrelator(gw, store, nil)

	_, err := c.CreateIntent(context.Background(), appt)
	assert.ErrorIs(t, err, appointment.ErrPaymentIntentFailed)

	stored, err := store.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PaymentIntentRef)
}

func TestCorrelatorResolvePrecedence(t *testing.T) {
	store := appointmenttest.NewStore()
	a := reserve(t, store, "09:00")
	b := reserve(t, store, "09:30")
	require.NoError(t, store.AttachPaymentIntent(context.Background(), b.ID, "pref-b"))

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewCorrelator(NewFakeGateway(""), store, zap.New(core))
	ctx := context.Background()

	id, err := c.Resolve(ctx, Notification{CorrelationID: a.ID.String(), ItemID: b.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, a.ID, id, "correlation id wins over the echoed item")
	assert.Equal(t, 1, logs.FilterMessage("correlation id and echoed item id disagree").Len())

	id, err = c.Resolve(ctx, Notification{ItemID: b.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)

	id, err = c.Resolve(ctx, Notification{CorrelationID: uuid.NewString(), ItemID: a.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, a.ID, id, "unknown correlation id falls back to the item")

	id, err = c.Resolve(ctx, Notification{CorrelationID: "not-a-uuid", IntentRef: "pref-b"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)

	_, err = c.Resolve(ctx, Notification{PaymentID: "pay-404"})
	assert.ErrorIs(t, err, ErrUnresolvable)

	_, err = c.Resolve(ctx, Notification{})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestCorrelatorResolveByConfirmationRef(t *testing.T) {
	store := appointmenttest.NewStore()
	a := reserve(t, store, "10:00")
	_, _, err := store.MarkPaid(context.Background(), a.ID, "pay-777")
	require.NoError(t, err)

	c := NewCorrelator(NewFakeGateway(""), store, nil)
	id, err := c.Resolve(context.Background(), Notification{PaymentID: "pay-777", Status: StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}
