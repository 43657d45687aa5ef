package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/payment"
	"github.com/hackgods/slot-booking/internal/reconcile"
)

const maxWebhookBody = 1 << 20

// WebhookHandler accepts gateway notifications and hands them to the
// reconciler. Once a payload parses the gateway gets a 200 so it stops
// redelivering; failures after that point are logged and retried on our side.
type WebhookHandler struct {
	dispatcher   reconcile.Dispatcher
	stripeSecret string
	logger       *zap.Logger
}

func NewWebhookHandler(dispatcher reconcile.Dispatcher, stripeSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:   dispatcher,
		stripeSecret: stripeSecret,
		logger:       logger,
	}
}

func (h *WebhookHandler) MercadoPago(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	n, err := payment.ParseMercadoPago(r.URL.Query(), body)
	h.accept(w, r, n, err)
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	n, err := payment.ParseStripeEvent(body, r.Header.Get("Stripe-Signature"), h.stripeSecret)
	h.accept(w, r, n, err)
}

func (h *WebhookHandler) Generic(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	n, err := payment.ParseGeneric(body)
	h.accept(w, r, n, err)
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) accept(w http.ResponseWriter, r *http.Request, n payment.Notification, err error) {
	requestID := GetRequestID(r.Context())

	switch {
	case err == nil:
	case errors.Is(err, payment.ErrIgnoredTopic):
		h.logger.Debug("webhook ignored", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, payment.ErrBadSignature):
		h.logger.Warn("webhook signature rejected", zap.String("request_id", requestID), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	default:
		h.logger.Warn("webhook payload rejected", zap.String("request_id", requestID), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_notification", err.Error())
		return
	}

	if h.dispatcher == nil {
		h.logger.Error("no dispatcher configured, notification dropped", zap.String("key", n.Key()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), n); err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, payment.ErrUnresolvable) {
			level = zap.WarnLevel
		}
		h.logger.Log(level, "notification dispatch failed",
			zap.String("request_id", requestID),
			zap.String("provider", n.Provider),
			zap.String("payment_id", n.PaymentID),
			zap.String("key", n.Key()),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
