package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/slot"
)

type CreateAppointmentRequest struct {
	ProviderID     string  `json:"provider_id"`
	Date           string  `json:"date"`
	Start          string  `json:"start"`
	PatientName    string  `json:"patient_name"`
	PatientContact string  `json:"patient_contact"`
	Reason         *string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	ProviderID   uuid.UUID  `json:"provider_id"`
	Date         string     `json:"date"`
	Start        slot.Clock `json:"start"`
	End          slot.Clock `json:"end"`
	Status       string     `json:"status"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	PaymentRef   *string    `json:"payment_ref,omitempty"`
	ClosedReason *string    `json:"closed_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AdminAppointmentResponse adds the patient details only admins may see.
type AdminAppointmentResponse struct {
	AppointmentResponse
	PatientName            string  `json:"patient_name"`
	PatientContact         string  `json:"patient_contact"`
	Reason                 *string `json:"reason,omitempty"`
	PaymentConfirmationRef *string `json:"payment_confirmation_ref,omitempty"`
}

type BookingResponse struct {
	AppointmentResponse
	PaymentURL string `json:"payment_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

type RegisterProviderRequest struct {
	Name        string `json:"name"`
	Specialty   string `json:"specialty"`
	Email       string `json:"email"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	SlotMinutes int    `json:"slot_minutes"`
	WorkStart   string `json:"work_start"`
	WorkEnd     string `json:"work_end"`
}

type UpdatePricingRequest struct {
	Price       int64 `json:"price"`
	SlotMinutes int   `json:"slot_minutes"`
}

type ProviderResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Specialty   string     `json:"specialty"`
	Price       int64      `json:"price"`
	Currency    string     `json:"currency"`
	SlotMinutes int        `json:"slot_minutes"`
	WorkStart   slot.Clock `json:"work_start"`
	WorkEnd     slot.Clock `json:"work_end"`
	Active      bool       `json:"active"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		ProviderID:   a.ProviderID,
		Date:         a.Date.Format(time.DateOnly),
		Start:        a.SlotStart,
		End:          a.SlotEnd,
		Status:       string(a.Status),
		Amount:       a.Amount,
		Currency:     a.Currency,
		PaymentRef:   a.PaymentIntentRef,
		ClosedReason: a.ClosedReason,
		CreatedAt:    a.CreatedAt,
	}
}

func toAdminAppointmentResponse(a *appointment.Appointment) AdminAppointmentResponse {
	return AdminAppointmentResponse{
		AppointmentResponse:    toAppointmentResponse(a),
		PatientName:            a.PatientName,
		PatientContact:         a.PatientContact,
		Reason:                 a.Reason,
		PaymentConfirmationRef: a.PaymentConfirmationRef,
	}
}

func toBookingResponse(b *appointment.Booking) BookingResponse {
	resp := BookingResponse{AppointmentResponse: toAppointmentResponse(b.Appointment)}
	if b.Intent != nil {
		resp.PaymentURL = b.Intent.RedirectURL
		if resp.PaymentRef == nil {
			ref := b.Intent.Ref
			resp.PaymentRef = &ref
		}
	}
	return resp
}

func toProviderResponse(p *provider.Provider) ProviderResponse {
	return ProviderResponse{
		ID:          p.ID,
		Name:        p.Name,
		Specialty:   p.Specialty,
		Price:       p.Price,
		Currency:    p.Currency,
		SlotMinutes: p.SlotMinutes,
		WorkStart:   p.WorkStart,
		WorkEnd:     p.WorkEnd,
		Active:      p.Active,
	}
}
