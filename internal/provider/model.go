package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/slot"
)

const DefaultSlotMinutes = 30

var ErrInvalidProvider = errors.New("invalid provider")

type Provider struct {
	ID          uuid.UUID
	Name        string
	Specialty   string
	Email       string
	Price       int64 // minor units of Currency
	Currency    string
	SlotMinutes int
	WorkStart   slot.Clock
	WorkEnd     slot.Clock
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Provider) Window() slot.Window {
	return slot.Window{Start: p.WorkStart, End: p.WorkEnd}
}

// Registration is the validated input of an administrative registration.
type Registration struct {
	Name        string
	Specialty   string
	Email       string
	Price       int64
	Currency    string
	SlotMinutes int
	WorkStart   slot.Clock
	WorkEnd     slot.Clock
}

// Validate checks the registration. An empty working window is allowed and
// simply produces no slots.
func (r *Registration) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Specialty = strings.TrimSpace(r.Specialty)
	r.Email = strings.TrimSpace(r.Email)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))

	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProvider)
	}
	if r.Specialty == "" {
		return fmt.Errorf("%w: specialty is required", ErrInvalidProvider)
	}
	if r.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidProvider)
	}
	if r.SlotMinutes == 0 {
		r.SlotMinutes = DefaultSlotMinutes
	}
	if r.SlotMinutes < 0 {
		return fmt.Errorf("%w: slot duration must be > 0", ErrInvalidProvider)
	}
	return nil
}
