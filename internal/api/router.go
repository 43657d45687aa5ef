package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/reconcile"
	"github.com/hackgods/slot-booking/internal/slot"
)

type AppointmentService interface {
	AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]slot.Availability, error)
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Booking, error)
	RetryPaymentIntent(ctx context.Context, id uuid.UUID) (*appointment.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
}

type ProviderService interface {
	Register(ctx context.Context, reg provider.Registration) (*provider.Provider, error)
	GetActive(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
	ListActive(ctx context.Context) ([]provider.Provider, error)
	UpdatePricing(ctx context.Context, id uuid.UUID, price int64, slotMinutes int) (*provider.Provider, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Providers    ProviderService
	Dispatcher   reconcile.Dispatcher
	Health       *HealthHandler
	Metrics      http.Handler
	Logger       *zap.Logger

	AdminTokenHash      string
	StripeWebhookSecret string
	RateLimitPerMinute  int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	// Provider catalog
	r.Get("/providers", listProvidersHandler(cfg.Providers, logger))
	r.Get("/providers/{id}", getProviderHandler(cfg.Providers, logger))

	// Public booking endpoints
	r.Group(func(r chi.Router) {
		r.Use(NewIPRateLimiter(cfg.RateLimitPerMinute).Middleware(logger))

		r.Get("/providers/{id}/slots", listSlotsHandler(cfg.Appointments, logger))
		r.Post("/appointments", createAppointmentHandler(cfg.Appointments, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, logger))
		r.Post("/appointments/{id}/payment-intent", retryPaymentIntentHandler(cfg.Appointments, logger))
	})

	// Admin endpoints
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(cfg.AdminTokenHash, logger))

		r.Post("/admin/providers", registerProviderHandler(cfg.Providers, logger))
		r.Patch("/admin/providers/{id}/pricing", updatePricingHandler(cfg.Providers, logger))
		r.Post("/admin/providers/{id}/deactivate", deactivateProviderHandler(cfg.Providers, logger))
		r.Get("/providers/{id}/appointments", listAppointmentsHandler(cfg.Appointments, logger))
	})

	// Payment webhooks
	hooks := NewWebhookHandler(cfg.Dispatcher, cfg.StripeWebhookSecret, logger)
	r.Post("/webhooks/mercadopago", hooks.MercadoPago)
	r.Post("/webhooks/stripe", hooks.Stripe)
	r.Post("/webhooks/payments", hooks.Generic)

	return r
}
