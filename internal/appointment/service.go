package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/slot"
)

const (
	EventAppointmentReserved  = "APPOINTMENT_RESERVED"
	EventAppointmentPaid      = "APPOINTMENT_PAID"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
	EventPaymentIntentCreated = "PAYMENT_INTENT_CREATED"
	EventPaymentIntentFailed  = "PAYMENT_INTENT_FAILED"
	EventPaymentAfterRelease  = "PAYMENT_AFTER_RELEASE"
	EventPaymentUnresolved    = "PAYMENT_UNRESOLVED"
)

const expireBatchSize = 100

var (
	ErrProviderNotFound    = provider.ErrProviderNotFound
	ErrInvalidSlot         = errors.New("requested slot is not on the provider's grid")
	ErrInvalidRequest      = errors.New("invalid booking request")
	ErrPaymentIntentFailed = errors.New("payment intent could not be created")
	ErrAppointmentClosed   = errors.New("appointment is no longer reserved")
)

// ProviderCatalog is the part of the provider service bookings depend on.
type ProviderCatalog interface {
	GetActive(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
}

// IntentCreator creates an external payment intent for a reserved
// appointment and stores its reference before returning.
type IntentCreator interface {
	CreateIntent(ctx context.Context, appt *Appointment) (*PaymentIntent, error)
}

type BookingRequest struct {
	ProviderID     uuid.UUID
	Date           time.Time
	Start          slot.Clock
	PatientName    string
	PatientContact string
	Reason         *string
}

type Service struct {
	repo      Repository
	providers ProviderCatalog
	intents   IntentCreator
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.BookingMetrics
	now       func() time.Time
}

func NewService(
	repo Repository,
	providers ProviderCatalog,
	intents IntentCreator,
	cfg config.Config,
	logger *zap.Logger,
	m *metrics.BookingMetrics,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		providers: providers,
		intents:   intents,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// AvailableSlots lists the provider's grid for date, marking slots that
// overlap a reserved or paid appointment as unavailable.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]slot.Availability, error) {
	p, err := s.providers.GetActive(ctx, providerID)
	if err != nil {
		return nil, err
	}

	held, err := s.repo.ListHeldIntervals(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}

	return slot.Annotate(slot.Generate(providerID, date, p.Window(), p.SlotMinutes), held), nil
}

// Book reserves a slot and asks for a payment intent. When the hold succeeds
// but the intent does not, the booking is returned together with an error
// wrapping ErrPaymentIntentFailed; the hold stays until paid, cancelled or
// expired.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientContact = strings.TrimSpace(req.PatientContact)
	if req.PatientName == "" || req.PatientContact == "" {
		return nil, fmt.Errorf("%w: patient name and contact are required", ErrInvalidRequest)
	}

	p, err := s.providers.GetActive(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	if !slot.Contains(p.Window(), p.SlotMinutes, req.Start) {
		return nil, ErrInvalidSlot
	}
	if req.Date.Before(today(s.now())) {
		return nil, fmt.Errorf("%w: date %s is in the past", ErrInvalidSlot, req.Date.Format(time.DateOnly))
	}

	// holds made under an older slot length can straddle this slot; the
	// store rejects those too, this only answers early
	want := slot.Window{Start: req.Start, End: req.Start.Add(p.SlotMinutes)}
	held, err := s.repo.ListHeldIntervals(ctx, p.ID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}

	var appt *Appointment
	if want.OverlapsAny(held) {
		err = ErrSlotConflict
	} else {
		appt, err = s.repo.Reserve(ctx, Draft{
			ProviderID:     p.ID,
			PatientName:    req.PatientName,
			PatientContact: req.PatientContact,
			Reason:         req.Reason,
			Date:           req.Date,
			SlotStart:      want.Start,
			SlotEnd:        want.End,
			Amount:         p.Price,
			Currency:       p.Currency,
		})
	}
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveBooking("conflict")
			s.logger.Info("slot already held",
				zap.String("provider_id", p.ID.String()),
				zap.String("date", req.Date.Format(time.DateOnly)),
				zap.Stringer("start", req.Start),
			)
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventAppointmentReserved, map[string]any{
		"provider_id": appt.ProviderID.String(),
		"date":        appt.Date.Format(time.DateOnly),
		"slot_start":  appt.SlotStart.String(),
		"slot_end":    appt.SlotEnd.String(),
		"amount":      appt.Amount,
		"currency":    appt.Currency,
	})

	booking := &Booking{Appointment: appt}
	if s.intents == nil {
		s.metrics.ObserveBooking("reserved")
		return booking, nil
	}

	intent, err := s.createIntent(ctx, appt)
	if err != nil {
		s.metrics.ObserveBooking("intent_failed")
		return booking, err
	}
	booking.Intent = intent
	s.metrics.ObserveBooking("reserved")

	return booking, nil
}

// RetryPaymentIntent creates a new payment intent for an appointment that is
// still waiting for payment.
func (s *Service) RetryPaymentIntent(ctx context.Context, id uuid.UUID) (*Booking, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusReserved {
		return nil, ErrAppointmentClosed
	}
	if s.intents == nil {
		return nil, fmt.Errorf("%w: no payment gateway configured", ErrPaymentIntentFailed)
	}

	intent, err := s.createIntent(ctx, appt)
	if err != nil {
		return &Booking{Appointment: appt}, err
	}
	return &Booking{Appointment: appt, Intent: intent}, nil
}

func (s *Service) createIntent(ctx context.Context, appt *Appointment) (*PaymentIntent, error) {
	intent, err := s.intents.CreateIntent(ctx, appt)
	if err != nil {
		s.logger.Warn("payment intent failed",
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err),
		)
		s.logEvent(ctx, appt.ID, EventPaymentIntentFailed, map[string]any{"error": err.Error()})
		if !errors.Is(err, ErrPaymentIntentFailed) {
			err = fmt.Errorf("%w: %w", ErrPaymentIntentFailed, err)
		}
		return nil, err
	}

	ref := intent.Ref
	appt.PaymentIntentRef = &ref
	s.logEvent(ctx, appt.ID, EventPaymentIntentCreated, map[string]any{"payment_intent_ref": ref})

	return intent, nil
}

// Cancel releases a reserved appointment at the patient's request. Paid
// appointments cannot be cancelled here; cancelling an already released one
// is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusPaid {
		return nil, ErrAppointmentClosed
	}

	appt, _, err = s.release(ctx, id, ReasonCancelledByPatient)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusPaid {
		// payment won the race
		return nil, ErrAppointmentClosed
	}
	return appt, nil
}

// MarkPaid confirms payment. Repeated or late confirmations never change a
// terminal appointment.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string) (*Appointment, error) {
	appt, applied, err := s.repo.MarkPaid(ctx, id, paymentRef)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	s.metrics.ObserveTransition(string(StatusPaid), applied)

	log := s.logger.With(
		zap.String("appointment_id", id.String()),
		zap.String("payment_ref", paymentRef),
	)

	if applied {
		log.Info("appointment paid")
		s.logEvent(ctx, appt.ID, EventAppointmentPaid, map[string]any{"payment_ref": paymentRef})
		return appt, nil
	}

	switch appt.Status {
	case StatusPaid:
		if appt.PaymentConfirmationRef != nil && *appt.PaymentConfirmationRef != paymentRef {
			log.Warn("conflicting payment ref for paid appointment",
				zap.String("recorded_ref", *appt.PaymentConfirmationRef),
			)
		} else {
			log.Info("duplicate payment confirmation ignored")
		}
	default:
		log.Warn("payment approved for released appointment", zap.String("status", string(appt.Status)))
		s.logEvent(ctx, appt.ID, EventPaymentAfterRelease, map[string]any{
			"payment_ref": paymentRef,
			"status":      string(appt.Status),
		})
	}
	return appt, nil
}

// Release frees a reserved appointment's slot. It is a no-op for
// appointments that already left the reserved state.
func (s *Service) Release(ctx context.Context, id uuid.UUID, reason ReleaseReason) (*Appointment, error) {
	appt, _, err := s.release(ctx, id, reason)
	return appt, err
}

func (s *Service) release(ctx context.Context, id uuid.UUID, reason ReleaseReason) (*Appointment, bool, error) {
	appt, applied, err := s.repo.Release(ctx, id, reason)
	if err != nil {
		return nil, false, fmt.Errorf("release appointment: %w", err)
	}
	target := reason.TargetStatus()
	s.metrics.ObserveTransition(string(target), applied)

	if !applied {
		s.logger.Info("release ignored",
			zap.String("appointment_id", id.String()),
			zap.String("reason", string(reason)),
			zap.String("status", string(appt.Status)),
		)
		return appt, false, nil
	}

	event := EventAppointmentCancelled
	if target == StatusExpired {
		event = EventAppointmentExpired
	}
	s.logEvent(ctx, appt.ID, event, map[string]any{"reason": string(reason)})
	s.logger.Info("appointment released",
		zap.String("appointment_id", id.String()),
		zap.String("reason", string(reason)),
	)
	return appt, true, nil
}

// ExpireStale releases every reserved appointment whose hold started before
// now minus the hold duration and returns how many it released.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.HoldDuration)
	expired := 0

	for {
		candidates, err := s.repo.FindExpiredReserved(ctx, cutoff, expireBatchSize)
		if err != nil {
			return expired, fmt.Errorf("find expired reservations: %w", err)
		}

		released := 0
		for _, appt := range candidates {
			_, applied, err := s.release(ctx, appt.ID, ReasonTimeout)
			if err != nil {
				s.logger.Error("failed to expire appointment",
					zap.String("appointment_id", appt.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if applied {
				released++
			}
		}
		expired += released

		if len(candidates) < expireBatchSize || released == 0 {
			return expired, nil
		}
	}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListByProviderAndDate(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// RecordEvent writes an audit entry. appointmentID may be nil for events
// that could not be tied to an appointment.
func (s *Service) RecordEvent(ctx context.Context, eventType string, appointmentID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("failed to insert event log", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	id := appointmentID
	s.RecordEvent(ctx, eventType, &id, payload)
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
