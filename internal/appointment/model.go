package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/slot"
)

type AppointmentStatus string

const (
	// StatusPending is the in-memory state of a booking request that has not
	// reached the store yet. It is never persisted.
	StatusPending   AppointmentStatus = "pending"
	StatusReserved  AppointmentStatus = "reserved"
	StatusPaid      AppointmentStatus = "paid"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusExpired   AppointmentStatus = "expired"
)

// Terminal states accept no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusExpired
}

// Holds reports whether an appointment in this state blocks its slot.
func (s AppointmentStatus) Holds() bool {
	return s == StatusReserved || s == StatusPaid
}

type ReleaseReason string

const (
	ReasonCancelledByPatient ReleaseReason = "cancelled_by_patient"
	ReasonPaymentRejected    ReleaseReason = "payment_rejected"
	ReasonTimeout            ReleaseReason = "timeout"
)

func (r ReleaseReason) TargetStatus() AppointmentStatus {
	if r == ReasonTimeout {
		return StatusExpired
	}
	return StatusCancelled
}

type Appointment struct {
	ID                     uuid.UUID
	ProviderID             uuid.UUID
	PatientName            string
	PatientContact         string
	Reason                 *string
	Date                   time.Time
	SlotStart              slot.Clock
	SlotEnd                slot.Clock
	Amount                 int64
	Currency               string
	Status                 AppointmentStatus
	PaymentIntentRef       *string
	PaymentConfirmationRef *string
	ClosedReason           *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Draft is what the store needs to create a reserved appointment.
type Draft struct {
	ProviderID     uuid.UUID
	PatientName    string
	PatientContact string
	Reason         *string
	Date           time.Time
	SlotStart      slot.Clock
	SlotEnd        slot.Clock
	Amount         int64
	Currency       string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// PaymentIntent is the externally created payment linked to an appointment.
type PaymentIntent struct {
	Ref         string
	RedirectURL string
}

// Booking is the outcome of a booking request.
type Booking struct {
	Appointment *Appointment
	Intent      *PaymentIntent
}
