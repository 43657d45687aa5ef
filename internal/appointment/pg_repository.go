package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/slot"
)

const appointmentColumns = `id, provider_id, patient_name, patient_contact, reason, appointment_date,
	to_char(slot_start, 'HH24:MI'), to_char(slot_end, 'HH24:MI'), amount, currency, status,
	payment_intent_ref, payment_confirmation_ref, closed_reason, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithQuerier(q db.Querier) *PgRepository {
	return &PgRepository{pool: q}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientName,
		&a.PatientContact,
		&a.Reason,
		&a.Date,
		&a.SlotStart,
		&a.SlotEnd,
		&a.Amount,
		&a.Currency,
		&a.Status,
		&a.PaymentIntentRef,
		&a.PaymentConfirmationRef,
		&a.ClosedReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

// Reserve inserts a reserved appointment unless another live appointment
// already holds the slot. The partial unique index
// appointments_active_slot_uniq arbitrates concurrent callers on the same
// start: losers get no row back and nothing is written. Holds that overlap
// without sharing a start, which happens after a provider changes its slot
// length, are rejected by the appointments_active_slot_no_overlap exclusion
// constraint.
func (r *PgRepository) Reserve(ctx context.Context, d Draft) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_name, patient_contact, reason,
		                          appointment_date, slot_start, slot_end, amount, currency,
		                          status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::time, $8::time, $9, $10, 'reserved', now(), now())
		ON CONFLICT (provider_id, appointment_date, slot_start)
		    WHERE status IN ('reserved', 'paid')
		    DO NOTHING
		RETURNING `+appointmentColumns,
		id, d.ProviderID, d.PatientName, d.PatientContact, d.Reason,
		d.Date, d.SlotStart.String(), d.SlotEnd.String(), d.Amount, d.Currency)

	appt, err := scanAppointment(row)
	switch {
	case err == nil:
		return appt, nil
	case errors.Is(err, ErrAppointmentNotFound), db.IsUniqueViolation(err), db.IsExclusionViolation(err):
		return nil, ErrSlotConflict
	default:
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
}

func (r *PgRepository) Release(ctx context.Context, id uuid.UUID, reason ReleaseReason) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    closed_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'reserved'
		RETURNING `+appointmentColumns,
		id, reason.TargetStatus(), string(reason))

	return r.transitionResult(ctx, id, row)
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'paid',
		    payment_confirmation_ref = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'reserved'
		RETURNING `+appointmentColumns,
		id, paymentRef)

	return r.transitionResult(ctx, id, row)
}

// transitionResult turns a conditional update into (row, applied). When the
// update matched nothing the appointment either does not exist or already
// left the reserved state, in which case its current row is returned.
func (r *PgRepository) transitionResult(ctx context.Context, id uuid.UUID, row pgx.Row) (*Appointment, bool, error) {
	appt, err := scanAppointment(row)
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, fmt.Errorf("update appointment status: %w", err)
	}

	current, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *PgRepository) AttachPaymentIntent(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET payment_intent_ref = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, ref)
	if err != nil {
		return fmt.Errorf("attach payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindByPaymentRef(ctx context.Context, ref string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_intent_ref = $1
		   OR payment_confirmation_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ref)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListHeldIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]slot.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(slot_start, 'HH24:MI'), to_char(slot_end, 'HH24:MI')
		FROM appointments
		WHERE provider_id = $1
		  AND appointment_date = $2
		  AND status IN ('reserved', 'paid')
		ORDER BY slot_start
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []slot.Window
	for rows.Next() {
		var w slot.Window
		if err := rows.Scan(&w.Start, &w.End); err != nil {
			return nil, err
		}
		held = append(held, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return held, nil
}

func (r *PgRepository) ListByProviderAndDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND appointment_date = $2
		ORDER BY slot_start, created_at
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindExpiredReserved(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'reserved'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
