package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking/internal/slot"
)

var appointmentCols = []string{
	"id", "provider_id", "patient_name", "patient_contact", "reason", "appointment_date",
	"slot_start", "slot_end", "amount", "currency", "status",
	"payment_intent_ref", "payment_confirmation_ref", "closed_reason", "created_at", "updated_at",
}

func appointmentRow(a Appointment) []any {
	return []any{
		a.ID, a.ProviderID, a.PatientName, a.PatientContact, a.Reason, a.Date,
		a.SlotStart, a.SlotEnd, a.Amount, a.Currency, a.Status,
		a.PaymentIntentRef, a.PaymentConfirmationRef, a.ClosedReason, a.CreatedAt, a.UpdatedAt,
	}
}

func sampleAppointment() Appointment {
	now := time.Now().UTC().Truncate(time.Second)
	return Appointment{
		ID:             uuid.New(),
		ProviderID:     uuid.New(),
		PatientName:    "Lucía Fernández",
		PatientContact: "lucia@example.com",
		Reason:         (*string)(nil),
		Date:           time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC),
		SlotStart:      slot.MustClock("09:00"),
		SlotEnd:        slot.MustClock("09:30"),
		Amount:         150000,
		Currency:       "ARS",
		Status:         StatusReserved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func draftOf(a Appointment) Draft {
	return Draft{
		ProviderID:     a.ProviderID,
		PatientName:    a.PatientName,
		PatientContact: a.PatientContact,
		Reason:         a.Reason,
		Date:           a.Date,
		SlotStart:      a.SlotStart,
		SlotEnd:        a.SlotEnd,
		Amount:         a.Amount,
		Currency:       a.Currency,
	}
}

func strPtr(s string) *string { return &s }

func TestPgRepositoryReserve(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	a := sampleAppointment()

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), a.ProviderID, a.PatientName, a.PatientContact, a.Reason,
			a.Date, "09:00", "09:30", a.Amount, a.Currency).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(a)...))

	got, err := repo.Reserve(context.Background(), draftOf(a))
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StatusReserved, got.Status)
	assert.Equal(t, slot.MustClock("09:30"), got.SlotEnd)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryReserveConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"on conflict do nothing", pgx.ErrNoRows},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_uniq"}},
		{"overlapping hold", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_active_slot_no_overlap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := newPgRepositoryWithQuerier(mock)
			a := sampleAppointment()

			mock.ExpectQuery("INSERT INTO appointments").WillReturnError(tt.err)

			_, err = repo.Reserve(context.Background(), draftOf(a))
			assert.ErrorIs(t, err, ErrSlotConflict)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPgRepositoryMarkPaidApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	a := sampleAppointment()
	a.Status = StatusPaid
	a.PaymentConfirmationRef = strPtr("pay-77")

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "pay-77").
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(a)...))

	got, applied, err := repo.MarkPaid(context.Background(), a.ID, "pay-77")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusPaid, got.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryReleaseNotApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	a := sampleAppointment()
	a.Status = StatusPaid
	a.PaymentConfirmationRef = strPtr("pay-1")

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, StatusCancelled, "payment_rejected").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM appointments").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(a)...))

	got, applied, err := repo.Release(context.Background(), a.ID, ReasonPaymentRejected)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusPaid, got.Status, "paid is sticky")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryReleaseUnknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, StatusExpired, "timeout").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, _, err = repo.Release(context.Background(), id, ReasonTimeout)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryAttachPaymentIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, "pref-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, "pref-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.AttachPaymentIntent(context.Background(), id, "pref-1"))
	assert.ErrorIs(t, repo.AttachPaymentIntent(context.Background(), id, "pref-2"), ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindByPaymentRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	a := sampleAppointment()
	a.PaymentIntentRef = strPtr("pref-9")

	mock.ExpectQuery("payment_intent_ref = \\$1").
		WithArgs("pref-9").
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(a)...))
	mock.ExpectQuery("payment_intent_ref = \\$1").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.FindByPaymentRef(context.Background(), "pref-9")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = repo.FindByPaymentRef(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListHeldIntervals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	providerID := uuid.New()
	date := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("status IN \\('reserved', 'paid'\\)").
		WithArgs(providerID, date).
		WillReturnRows(pgxmock.NewRows([]string{"slot_start", "slot_end"}).
			AddRow(slot.MustClock("09:00"), slot.MustClock("09:30")).
			AddRow(slot.MustClock("10:30"), slot.MustClock("11:15")))

	held, err := repo.ListHeldIntervals(context.Background(), providerID, date)
	require.NoError(t, err)
	assert.Equal(t, []slot.Window{
		{Start: slot.MustClock("09:00"), End: slot.MustClock("09:30")},
		{Start: slot.MustClock("10:30"), End: slot.MustClock("11:15")},
	}, held)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindExpiredReserved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	cutoff := time.Now().Add(-30 * time.Minute)
	a, b := sampleAppointment(), sampleAppointment()

	mock.ExpectQuery("WHERE status = 'reserved'").
		WithArgs(cutoff, 50).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(appointmentRow(a)...).
			AddRow(appointmentRow(b)...))

	got, err := repo.FindExpiredReserved(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryInsertEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventPaymentUnresolved, (*uuid.UUID)(nil), []byte(`{}`), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.InsertEvent(context.Background(), EventLog{
		EventType: EventPaymentUnresolved,
		Payload:   []byte(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
