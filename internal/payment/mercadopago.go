package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
)

const mercadoPagoAPI = "https://api.mercadopago.com"

// MercadoPagoGateway creates checkout preferences through the MercadoPago
// REST API and looks up payments for bare notifications.
type MercadoPagoGateway struct {
	accessToken     string
	notificationURL string
	backURLs        mpBackURLs
	baseURL         string
	httpClient      *http.Client
	logger          *zap.Logger
}

func NewMercadoPagoGateway(cfg config.PaymentConfig, logger *zap.Logger) *MercadoPagoGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MercadoPagoGateway{
		accessToken:     cfg.MPAccessToken,
		notificationURL: cfg.MPNotificationURL,
		backURLs: mpBackURLs{
			Success: cfg.SuccessURL,
			Pending: cfg.PendingURL,
			Failure: cfg.FailureURL,
		},
		baseURL:    mercadoPagoAPI,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the API base URL (for testing).
func (g *MercadoPagoGateway) WithBaseURL(baseURL string) *MercadoPagoGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
	return g
}

func (g *MercadoPagoGateway) Name() string { return config.PaymentProviderMercadoPago }

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type mpItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	CurrencyID string  `json:"currency_id"`
	UnitPrice  float64 `json:"unit_price"`
}

type mpPreference struct {
	Items []mpItem `json:"items"`
	Payer struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"payer"`
	BackURLs          mpBackURLs        `json:"back_urls"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CreateIntent creates a checkout preference with one item whose id is the
// appointment id. The appointment id is also sent as external_reference and
// metadata so payments can be correlated without the item echo.
func (g *MercadoPagoGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, span := tracer.Start(ctx, "mercadopago.create_preference", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("slotbooking.appointment_id", req.AppointmentID.String()),
		attribute.Int64("slotbooking.amount", req.Amount),
	)

	pref := mpPreference{
		Items: []mpItem{{
			ID:         req.AppointmentID.String(),
			Title:      req.Title,
			Quantity:   1,
			CurrencyID: strings.ToUpper(req.Currency),
			UnitPrice:  float64(req.Amount) / 100,
		}},
		BackURLs:          g.backURLs,
		ExternalReference: req.AppointmentID.String(),
		Metadata:          map[string]string{"appointment_id": req.AppointmentID.String()},
		NotificationURL:   g.notificationURL,
	}
	pref.Payer.Name = req.PayerName
	pref.Payer.Email = req.PayerEmail
	if g.backURLs.Success != "" {
		pref.AutoReturn = "approved"
	}

	var out mpPreferenceResponse
	if err := g.do(ctx, http.MethodPost, "/checkout/preferences", pref, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create preference")
		return nil, err
	}
	if out.ID == "" || out.InitPoint == "" {
		err := fmt.Errorf("mercadopago: preference response missing id or init_point")
		span.RecordError(err)
		return nil, err
	}

	g.logger.Info("mercadopago preference created",
		zap.String("appointment_id", req.AppointmentID.String()),
		zap.String("preference_id", out.ID),
	)
	return &Intent{Ref: out.ID, RedirectURL: out.InitPoint}, nil
}

type mpPayment struct {
	Status            string           `json:"status"`
	ExternalReference string           `json:"external_reference"`
	Metadata          map[string]any   `json:"metadata"`
	AdditionalInfo    mpAdditionalInfo `json:"additional_info"`
	PreferenceID      string           `json:"preference_id"`
}

type mpAdditionalInfo struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

// Enrich fills status, correlation id and echoed item id from
// GET /v1/payments/{id}.
func (g *MercadoPagoGateway) Enrich(ctx context.Context, n *Notification) error {
	if n.PaymentID == "" {
		return fmt.Errorf("%w: missing payment id", ErrNotEnrichable)
	}

	ctx, span := tracer.Start(ctx, "mercadopago.get_payment", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("slotbooking.payment_id", n.PaymentID))

	var p mpPayment
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+n.PaymentID, nil, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get payment")
		return err
	}

	n.Status = Normalize(p.Status)
	if n.CorrelationID == "" {
		n.CorrelationID = p.ExternalReference
	}
	if n.CorrelationID == "" {
		if v, ok := p.Metadata["appointment_id"].(string); ok {
			n.CorrelationID = v
		}
	}
	if n.ItemID == "" && len(p.AdditionalInfo.Items) > 0 {
		n.ItemID = p.AdditionalInfo.Items[0].ID
	}
	if n.IntentRef == "" {
		n.IntentRef = p.PreferenceID
	}
	return nil
}

func (g *MercadoPagoGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mercadopago: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mercadopago: api status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mercadopago: decode response: %w", err)
	}
	return nil
}
