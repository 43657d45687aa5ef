// Package slot derives bookable time slots from a provider's working hours.
//
// All values are wall-clock times in the provider's fixed local time. No
// timezone conversion happens here.
package slot

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidClock = errors.New("invalid clock value, expected HH:MM")

// Clock is a time of day expressed in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day so a
// working window can run until midnight.
func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return Clock(minutesPerDay), nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// Scan accepts "HH:MM" or "HH:MM:SS" text.
func (c *Clock) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return fmt.Errorf("%w: null", ErrInvalidClock)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidClock, src)
	}
	if len(s) > 5 {
		s = s[:5]
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a half-open range [Start, End), used both for working hours and
// for the interval a held appointment occupies.
type Window struct {
	Start Clock
	End   Clock
}

// Overlaps reports whether w and o share any minute. Adjacent windows do not
// overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

// OverlapsAny reports whether w overlaps any of held.
func (w Window) OverlapsAny(held []Window) bool {
	for _, h := range held {
		if w.Overlaps(h) {
			return true
		}
	}
	return false
}

// Slot is a derived, non-persistent candidate appointment time.
type Slot struct {
	ProviderID uuid.UUID
	Date       time.Time
	Start      Clock
	End        Clock
}

// Availability is a slot annotated against existing holds.
type Availability struct {
	Start     Clock `json:"start"`
	End       Clock `json:"end"`
	Available bool  `json:"available"`
}

// Starts yields t0, t0+d, t0+2d, ... while t+d <= w.End. It yields nothing
// for a non-positive duration or an empty window. Each call to the returned
// sequence starts over.
func Starts(w Window, minutes int) iter.Seq[Clock] {
	return func(yield func(Clock) bool) {
		if minutes <= 0 || w.End <= w.Start || w.Start < 0 || w.End > minutesPerDay {
			return
		}
		for t := w.Start; t.Add(minutes) <= w.End; t = t.Add(minutes) {
			if !yield(t) {
				return
			}
		}
	}
}

// Generate materializes the slot grid for one provider and date.
func Generate(providerID uuid.UUID, date time.Time, w Window, minutes int) []Slot {
	var out []Slot
	for start := range Starts(w, minutes) {
		out = append(out, Slot{
			ProviderID: providerID,
			Date:       date,
			Start:      start,
			End:        start.Add(minutes),
		})
	}
	return out
}

// Contains reports whether start is on the grid generated for w and minutes.
func Contains(w Window, minutes int, start Clock) bool {
	for t := range Starts(w, minutes) {
		if t == start {
			return true
		}
		if t > start {
			return false
		}
	}
	return false
}

// Annotate marks each slot taken when it overlaps an interval held by a live
// appointment. Holds made under a previous slot length may straddle several
// slots of the current grid.
func Annotate(slots []Slot, held []Window) []Availability {
	out := make([]Availability, 0, len(slots))
	for _, s := range slots {
		out = append(out, Availability{
			Start:     s.Start,
			End:       s.End,
			Available: !Window{Start: s.Start, End: s.End}.OverlapsAny(held),
		})
	}
	return out
}

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}
