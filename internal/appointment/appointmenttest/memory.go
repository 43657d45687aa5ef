// Package appointmenttest provides in-memory collaborators for exercising the
// appointment lifecycle without PostgreSQL.
package appointmenttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/slot"
)

type slotKey struct {
	provider uuid.UUID
	date     string
	start    slot.Clock
}

// Store is an appointment.Repository kept in memory. It enforces the same
// no-overlapping-live-holds rule the database constraints do.
type Store struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]*appointment.Appointment
	active  map[slotKey]uuid.UUID
	events  []appointment.EventLog
	now     func() time.Time
	reserve atomic.Int64
}

func NewStore() *Store {
	return &Store{
		appts:  map[uuid.UUID]*appointment.Appointment{},
		active: map[slotKey]uuid.UUID{},
		now:    time.Now,
	}
}

// SetNow overrides the clock used for created_at and updated_at.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ReserveCalls counts Reserve invocations, successful or not.
func (s *Store) ReserveCalls() int64 {
	return s.reserve.Load()
}

func keyOf(providerID uuid.UUID, date time.Time, start slot.Clock) slotKey {
	return slotKey{provider: providerID, date: date.Format(time.DateOnly), start: start}
}

func (s *Store) Reserve(_ context.Context, d appointment.Draft) (*appointment.Appointment, error) {
	s.reserve.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(d.ProviderID, d.Date, d.SlotStart)
	if _, held := s.active[k]; held {
		return nil, appointment.ErrSlotConflict
	}
	want := slot.Window{Start: d.SlotStart, End: d.SlotEnd}
	if want.OverlapsAny(s.heldLocked(d.ProviderID, k.date)) {
		return nil, appointment.ErrSlotConflict
	}

	now := s.now()
	a := &appointment.Appointment{
		ID:             uuid.New(),
		ProviderID:     d.ProviderID,
		PatientName:    d.PatientName,
		PatientContact: d.PatientContact,
		Reason:         d.Reason,
		Date:           d.Date,
		SlotStart:      d.SlotStart,
		SlotEnd:        d.SlotEnd,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Status:         appointment.StatusReserved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.appts[a.ID] = a
	s.active[k] = a.ID

	cp := *a
	return &cp, nil
}

func (s *Store) Release(_ context.Context, id uuid.UUID, reason appointment.ReleaseReason) (*appointment.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, false, appointment.ErrAppointmentNotFound
	}
	if a.Status != appointment.StatusReserved {
		cp := *a
		return &cp, false, nil
	}

	r := string(reason)
	a.Status = reason.TargetStatus()
	a.ClosedReason = &r
	a.UpdatedAt = s.now()
	delete(s.active, keyOf(a.ProviderID, a.Date, a.SlotStart))

	cp := *a
	return &cp, true, nil
}

func (s *Store) MarkPaid(_ context.Context, id uuid.UUID, paymentRef string) (*appointment.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, false, appointment.ErrAppointmentNotFound
	}
	if a.Status != appointment.StatusReserved {
		cp := *a
		return &cp, false, nil
	}

	ref := paymentRef
	a.Status = appointment.StatusPaid
	a.PaymentConfirmationRef = &ref
	a.UpdatedAt = s.now()

	cp := *a
	return &cp, true, nil
}

func (s *Store) AttachPaymentIntent(_ context.Context, id uuid.UUID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	r := ref
	a.PaymentIntentRef = &r
	a.UpdatedAt = s.now()
	return nil
}

func (s *Store) FindByPaymentRef(_ context.Context, ref string) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.appts {
		if (a.PaymentIntentRef != nil && *a.PaymentIntentRef == ref) ||
			(a.PaymentConfirmationRef != nil && *a.PaymentConfirmationRef == ref) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListHeldIntervals(_ context.Context, providerID uuid.UUID, date time.Time) ([]slot.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.heldLocked(providerID, date.Format(time.DateOnly)), nil
}

func (s *Store) heldLocked(providerID uuid.UUID, day string) []slot.Window {
	var held []slot.Window
	for k, id := range s.active {
		if k.provider == providerID && k.date == day {
			a := s.appts[id]
			held = append(held, slot.Window{Start: a.SlotStart, End: a.SlotEnd})
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Start < held[j].Start })
	return held
}

func (s *Store) ListByProviderAndDate(_ context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := date.Format(time.DateOnly)
	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.ProviderID == providerID && a.Date.Format(time.DateOnly) == day {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotStart != out[j].SlotStart {
			return out[i].SlotStart < out[j].SlotStart
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) FindExpiredReserved(_ context.Context, cutoff time.Time, limit int) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.Status == appointment.StatusReserved && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// Events returns the recorded event log entries of the given type, or all of
// them when eventType is empty.
func (s *Store) Events(eventType string) []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.EventLog
	for _, ev := range s.events {
		if eventType == "" || ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Catalog is a provider catalog whose entries tests may replace.
type Catalog struct {
	mu        sync.Mutex
	providers map[uuid.UUID]provider.Provider
}

func NewCatalog(providers ...provider.Provider) *Catalog {
	c := &Catalog{providers: map[uuid.UUID]provider.Provider{}}
	for _, p := range providers {
		c.providers[p.ID] = p
	}
	return c
}

func (c *Catalog) GetActive(_ context.Context, id uuid.UUID) (*provider.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.providers[id]
	if !ok || !p.Active {
		return nil, provider.ErrProviderNotFound
	}
	return &p, nil
}

// Put adds or replaces a provider, as an administrative update would.
func (c *Catalog) Put(p provider.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.ID] = p
}

// NewProvider returns an active provider working start-end with the given
// slot length, priced at 1500.00 ARS.
func NewProvider(start, end string, minutes int) provider.Provider {
	return provider.Provider{
		ID:          uuid.New(),
		Name:        "Dra. Test",
		Specialty:   "Clinical",
		Price:       150000,
		Currency:    "ARS",
		SlotMinutes: minutes,
		WorkStart:   slot.MustClock(start),
		WorkEnd:     slot.MustClock(end),
		Active:      true,
	}
}

// Intents is an IntentCreator that attaches predictable references to the
// store, or fails when Err is set.
type Intents struct {
	Store *Store
	Err   error

	mu    sync.Mutex
	calls int
}

func (i *Intents) CreateIntent(ctx context.Context, appt *appointment.Appointment) (*appointment.PaymentIntent, error) {
	i.mu.Lock()
	i.calls++
	n := i.calls
	fail := i.Err
	i.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	ref := fmt.Sprintf("intent-%d-%s", n, appt.ID)
	if i.Store != nil {
		if err := i.Store.AttachPaymentIntent(ctx, appt.ID, ref); err != nil {
			return nil, err
		}
	}
	return &appointment.PaymentIntent{Ref: ref, RedirectURL: "https://pay.test/" + ref}, nil
}

// Calls reports how many intents were requested.
func (i *Intents) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}
