package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/appointment"
)

// Store is the part of the reservation store the correlator needs.
type Store interface {
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, ref string) error
	FindByPaymentRef(ctx context.Context, ref string) (*appointment.Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// Correlator links appointments to external payments in both directions:
// it creates intents tagged with the appointment id and maps incoming
// notifications back to an appointment.
type Correlator struct {
	gateway Gateway
	store   Store
	logger  *zap.Logger
}

func NewCorrelator(gateway Gateway, store Store, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{gateway: gateway, store: store, logger: logger}
}

func (c *Correlator) Gateway() Gateway { return c.gateway }

// Enricher returns the gateway's enricher, if it has one.
func (c *Correlator) Enricher() (Enricher, bool) {
	e, ok := c.gateway.(Enricher)
	return e, ok
}

// CreateIntent asks the gateway for a payment intent and stores its ref on
// the appointment before returning. It does not retry.
func (c *Correlator) CreateIntent(ctx context.Context, appt *appointment.Appointment) (*appointment.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "payment.create_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("slotbooking.gateway", c.gateway.Name()),
		attribute.String("slotbooking.appointment_id", appt.ID.String()),
	)

	req := IntentRequest{
		AppointmentID: appt.ID,
		Title:         fmt.Sprintf("Appointment %s %s", appt.Date.Format(time.DateOnly), appt.SlotStart),
		Amount:        appt.Amount,
		Currency:      appt.Currency,
		PayerName:     appt.PatientName,
	}
	if strings.Contains(appt.PatientContact, "@") {
		req.PayerEmail = appt.PatientContact
	}

	intent, err := c.gateway.CreateIntent(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway")
		return nil, fmt.Errorf("%w: %s: %w", appointment.ErrPaymentIntentFailed, c.gateway.Name(), err)
	}

	if err := c.store.AttachPaymentIntent(ctx, appt.ID, intent.Ref); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attach")
		return nil, fmt.Errorf("%w: store intent ref: %w", appointment.ErrPaymentIntentFailed, err)
	}

	return &appointment.PaymentIntent{Ref: intent.Ref, RedirectURL: intent.RedirectURL}, nil
}

// Resolve finds the appointment a notification refers to. The dedicated
// correlation id is authoritative; the echoed item id is only used when the
// correlation id is missing or unknown; stored refs come last.
func (c *Correlator) Resolve(ctx context.Context, n Notification) (uuid.UUID, error) {
	corr, corrOK := parseID(n.CorrelationID)
	item, itemOK := parseID(n.ItemID)

	if corrOK && itemOK && corr != item {
		c.logger.Warn("correlation id and echoed item id disagree",
			zap.String("provider", n.Provider),
			zap.String("payment_id", n.PaymentID),
			zap.String("correlation_id", corr.String()),
			zap.String("item_id", item.String()),
		)
	}

	candidates := make([]uuid.UUID, 0, 2)
	if corrOK {
		candidates = append(candidates, corr)
	}
	if itemOK && (!corrOK || item != corr) {
		candidates = append(candidates, item)
	}

	for _, id := range candidates {
		appt, err := c.store.GetAppointmentByID(ctx, id)
		if err == nil {
			return appt.ID, nil
		}
		if !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return uuid.Nil, fmt.Errorf("resolve by id: %w", err)
		}
	}

	for _, ref := range []string{n.IntentRef, n.PaymentID} {
		if ref == "" {
			continue
		}
		appt, err := c.store.FindByPaymentRef(ctx, ref)
		if err == nil {
			return appt.ID, nil
		}
		if !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return uuid.Nil, fmt.Errorf("resolve by ref: %w", err)
		}
	}

	return uuid.Nil, ErrUnresolvable
}

func parseID(s string) (uuid.UUID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
