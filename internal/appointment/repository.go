package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/slot"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotConflict        = errors.New("slot overlaps one held by another appointment")
)

// Repository is the reservation store. Reserve is the only operation that
// needs cross-request mutual exclusion and relies on the database for it: a
// live appointment may not share its start with, or overlap the interval of,
// another live appointment of the same provider and date.
// Release and MarkPaid are conditional single-row updates: applying them to
// an appointment that already left the reserved state returns the current
// row with applied=false.
type Repository interface {
	Reserve(ctx context.Context, d Draft) (*Appointment, error)
	Release(ctx context.Context, id uuid.UUID, reason ReleaseReason) (appt *Appointment, applied bool, err error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (appt *Appointment, applied bool, err error)

	// Payment correlation
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, ref string) error
	FindByPaymentRef(ctx context.Context, ref string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListHeldIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]slot.Window, error)
	ListByProviderAndDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)

	// Expiry sweep
	FindExpiredReserved(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
