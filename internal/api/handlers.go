package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/slot"
)

func listSlotsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		date, err := slot.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), providerID, date)
		if err != nil {
			handleAppointmentError(w, r, logger, err)
			return
		}
		if slots == nil {
			slots = []slot.Availability{}
		}

		writeJSON(w, http.StatusOK, slots)
	}
}

func createAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		date, err := slot.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		start, err := slot.ParseClock(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "start must be HH:MM")
			return
		}

		booking, err := svc.Book(r.Context(), appointment.BookingRequest{
			ProviderID:     providerID,
			Date:           date,
			Start:          start,
			PatientName:    req.PatientName,
			PatientContact: req.PatientContact,
			Reason:         req.Reason,
		})
		if err != nil {
			if booking != nil && errors.Is(err, appointment.ErrPaymentIntentFailed) {
				// hold taken, intent can be retried
				resp := toBookingResponse(booking)
				resp.Error = "payment_intent_failed"
				writeJSON(w, http.StatusAccepted, resp)
				return
			}
			handleAppointmentError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(booking))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func retryPaymentIntentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "invalid_appointment_id")
		if !ok {
			return
		}

		booking, err := svc.RetryPaymentIntent(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func listAppointmentsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		date, err := slot.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), providerID, date)
		if err != nil {
			handleAppointmentError(w, r, logger, err)
			return
		}

		resp := make([]AdminAppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAdminAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot is already booked")
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", "provider not found")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, appointment.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrAppointmentClosed):
		writeError(w, http.StatusConflict, "appointment_closed", "appointment is no longer awaiting payment")
	case errors.Is(err, appointment.ErrPaymentIntentFailed):
		writeError(w, http.StatusBadGateway, "payment_intent_failed", "payment provider unavailable, try again")
	default:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	resp := ErrorResponse{Error: code}
	if details != "" && !strings.EqualFold(details, code) {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}
