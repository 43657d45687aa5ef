package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
)

// StripeGateway creates Stripe Checkout Sessions.
type StripeGateway struct {
	sessions   session.Client
	successURL string
	cancelURL  string
	logger     *zap.Logger
}

func NewStripeGateway(cfg config.PaymentConfig, logger *zap.Logger) *StripeGateway {
	return newStripeGateway(cfg, stripe.GetBackend(stripe.APIBackend), logger)
}

func newStripeGateway(cfg config.PaymentConfig, backend stripe.Backend, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{
		sessions:   session.Client{B: backend, Key: cfg.StripeSecretKey},
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.FailureURL,
		logger:     logger,
	}
}

func (g *StripeGateway) Name() string { return config.PaymentProviderStripe }

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	_, span := tracer.Start(ctx, "stripe.create_checkout_session", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("slotbooking.appointment_id", req.AppointmentID.String()),
		attribute.Int64("slotbooking.amount", req.Amount),
	)

	apptID := req.AppointmentID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(apptID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"appointment_id": apptID},
		},
	}
	params.Context = ctx
	params.AddMetadata("appointment_id", apptID)
	if g.successURL != "" {
		params.SuccessURL = stripe.String(g.successURL)
	}
	if g.cancelURL != "" {
		params.CancelURL = stripe.String(g.cancelURL)
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create checkout session")
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	g.logger.Info("stripe checkout session created",
		zap.String("appointment_id", apptID),
		zap.String("session_id", s.ID),
	)
	return &Intent{Ref: s.ID, RedirectURL: s.URL}, nil
}

// ParseStripeEvent verifies the Stripe-Signature header and decodes
// checkout session events. Other event types return ErrIgnoredTopic.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	var status string
	switch event.Type {
	case "checkout.session.completed":
		status = "" // decided by payment_status below
	case "checkout.session.async_payment_succeeded":
		status = StatusApproved
	case "checkout.session.async_payment_failed":
		status = StatusRejected
	case "checkout.session.expired":
		status = StatusCancelled
	default:
		return Notification{}, fmt.Errorf("%w: %s", ErrIgnoredTopic, event.Type)
	}

	if event.Data == nil {
		return Notification{}, fmt.Errorf("%w: event has no data", ErrMalformed)
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if status == "" {
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			status = StatusPending
		} else {
			status = StatusApproved
		}
	}

	n := Notification{
		Provider:      config.PaymentProviderStripe,
		EventID:       event.ID,
		PaymentID:     cs.ID,
		Status:        status,
		CorrelationID: firstNonEmpty(cs.Metadata["appointment_id"], cs.ClientReferenceID),
		IntentRef:     cs.ID,
		ReceivedAt:    time.Now().UTC(),
	}
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		n.PaymentID = cs.PaymentIntent.ID
	}
	return n, nil
}
