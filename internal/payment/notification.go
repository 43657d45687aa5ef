package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Normalized payment statuses.
const (
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
	StatusInProcess = "in_process"
	StatusUnknown   = "unknown"
)

var (
	ErrUnresolvable   = errors.New("payment notification cannot be tied to an appointment")
	ErrMalformed      = errors.New("malformed payment notification")
	ErrBadSignature   = errors.New("invalid webhook signature")
	ErrIgnoredTopic   = errors.New("notification topic is not a payment")
	ErrNotEnrichable  = errors.New("notification cannot be enriched")
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// Notification is a payment-status message from a gateway, already decoded
// from its provider-specific wire format. Every field except Provider may be
// empty: bare notifications carry only a payment id and are completed by an
// Enricher.
type Notification struct {
	Provider      string    `json:"provider"`
	EventID       string    `json:"event_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`
	IntentRef     string    `json:"intent_ref,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Key identifies a delivery for deduplication. Redeliveries of the same
// provider event share a key. The status is part of the key because bare
// notifications reuse ids across payment state changes. Key is empty when
// nothing in the notification identifies the payment; such deliveries must
// not be deduplicated.
func (n Notification) Key() string {
	id := firstNonEmpty(n.EventID, n.PaymentID, n.IntentRef, n.CorrelationID)
	if id == "" {
		return ""
	}
	return n.Provider + ":" + id + ":" + n.Status
}

// Normalize maps a provider status onto the statuses the reconciler acts on.
func Normalize(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "paid", "succeeded", "complete", "completed":
		return StatusApproved
	case "rejected", "failed", "declined":
		return StatusRejected
	case "cancelled", "canceled", "expired":
		return StatusCancelled
	case "pending", "unpaid":
		return StatusPending
	case "in_process", "in_mediation", "authorized", "processing":
		return StatusInProcess
	default:
		return StatusUnknown
	}
}

type mercadoPagoHook struct {
	ID     json.RawMessage `json:"id"`
	Action string          `json:"action"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseMercadoPago decodes a MercadoPago webhook or IPN call. The payment id
// comes from the body when present and from the query string otherwise.
// MercadoPago never includes the status, so the result must be enriched.
func ParseMercadoPago(query url.Values, body []byte) (Notification, error) {
	n := Notification{Provider: "mercadopago", ReceivedAt: time.Now().UTC()}

	var hook mercadoPagoHook
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &hook); err != nil {
			return Notification{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}

	topic := firstNonEmpty(hook.Type, hook.Topic, query.Get("type"), query.Get("topic"))
	if topic != "" && topic != "payment" {
		return Notification{}, fmt.Errorf("%w: %s", ErrIgnoredTopic, topic)
	}

	n.PaymentID = firstNonEmpty(rawID(hook.Data.ID), query.Get("data.id"), query.Get("id"))
	if n.PaymentID == "" {
		return Notification{}, fmt.Errorf("%w: missing payment id", ErrMalformed)
	}
	n.EventID = firstNonEmpty(rawID(hook.ID), n.PaymentID+":"+firstNonEmpty(hook.Action, "payment"))
	return n, nil
}

type genericHook struct {
	EventID       string `json:"event_id"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	AppointmentID string `json:"appointment_id"`
	CorrelationID string `json:"correlation_id"`
	ItemID        string `json:"item_id"`
	IntentRef     string `json:"intent_ref"`
}

// ParseGeneric decodes the provider-neutral notification format used by the
// fake gateway and the simulator.
func ParseGeneric(body []byte) (Notification, error) {
	var hook genericHook
	if err := json.Unmarshal(body, &hook); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if hook.PaymentID == "" && hook.IntentRef == "" {
		return Notification{}, fmt.Errorf("%w: payment_id or intent_ref is required", ErrMalformed)
	}

	return Notification{
		Provider:      "fake",
		EventID:       hook.EventID,
		PaymentID:     hook.PaymentID,
		Status:        Normalize(hook.Status),
		CorrelationID: firstNonEmpty(hook.CorrelationID, hook.AppointmentID),
		ItemID:        hook.ItemID,
		IntentRef:     hook.IntentRef,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

// rawID accepts ids sent either as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
