package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
)

var tracer = otel.Tracer("slotbooking.internal.payment")

// IntentRequest describes the single-item payment created for a booking.
type IntentRequest struct {
	AppointmentID uuid.UUID
	Title         string
	Amount        int64 // minor units
	Currency      string
	PayerName     string
	PayerEmail    string
}

// Intent is the gateway's handle on a created payment.
type Intent struct {
	Ref         string
	RedirectURL string
}

// Gateway creates payment intents with an external provider.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// Enricher completes a bare notification by asking the gateway for the
// payment's current state.
type Enricher interface {
	Enrich(ctx context.Context, n *Notification) error
}

// NewGateway builds the gateway selected by configuration.
func NewGateway(cfg config.PaymentConfig, logger *zap.Logger) (Gateway, error) {
	switch cfg.Provider {
	case config.PaymentProviderMercadoPago:
		return NewMercadoPagoGateway(cfg, logger), nil
	case config.PaymentProviderStripe:
		return NewStripeGateway(cfg, logger), nil
	case config.PaymentProviderFake:
		return NewFakeGateway("http://localhost:8080/fake-checkout"), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, cfg.Provider)
	}
}
