package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/slot"
)

func listProvidersHandler(svc ProviderService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := svc.ListActive(r.Context())
		if err != nil {
			handleProviderError(w, r, logger, err)
			return
		}

		resp := make([]ProviderResponse, 0, len(providers))
		for i := range providers {
			resp = append(resp, toProviderResponse(&providers[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getProviderHandler(svc ProviderService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		p, err := svc.GetActive(r.Context(), id)
		if err != nil {
			handleProviderError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toProviderResponse(p))
	}
}

func registerProviderHandler(svc ProviderService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		workStart, err := slot.ParseClock(req.WorkStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider", "work_start must be HH:MM")
			return
		}
		workEnd, err := slot.ParseClock(req.WorkEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider", "work_end must be HH:MM")
			return
		}

		p, err := svc.Register(r.Context(), provider.Registration{
			Name:        req.Name,
			Specialty:   req.Specialty,
			Email:       req.Email,
			Price:       req.Price,
			Currency:    req.Currency,
			SlotMinutes: req.SlotMinutes,
			WorkStart:   workStart,
			WorkEnd:     workEnd,
		})
		if err != nil {
			handleProviderError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toProviderResponse(p))
	}
}

func updatePricingHandler(svc ProviderService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		var req UpdatePricingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.UpdatePricing(r.Context(), id, req.Price, req.SlotMinutes)
		if err != nil {
			handleProviderError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toProviderResponse(p))
	}
}

func deactivateProviderHandler(svc ProviderService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		p, err := svc.Deactivate(r.Context(), id)
		if err != nil {
			handleProviderError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toProviderResponse(p))
	}
}

func handleProviderError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, provider.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", "provider not found")
	case errors.Is(err, provider.ErrInvalidProvider):
		writeError(w, http.StatusBadRequest, "invalid_provider", err.Error())
	default:
		logger.Error("provider request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
