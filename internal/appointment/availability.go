package appointment

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultHorizonDays = 14
	DefaultLeadTime    = 30 * time.Minute
)

// Policy holds the booking window rules shared by the evaluator and the guard.
type Policy struct {
	HorizonDays int
	LeadTime    time.Duration
	Location    *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		HorizonDays: DefaultHorizonDays,
		LeadTime:    DefaultLeadTime,
		Location:    time.UTC,
	}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Day anchors the calendar date of d (its year, month and day as written) at
// midnight in the policy location.
func (p Policy) Day(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, p.location())
}

// Today is the calendar day containing now in the policy location.
func (p Policy) Today(now time.Time) time.Time {
	return startOfDay(now, p.location())
}

// CheckDate applies the weekend, past-date and horizon rules in that order.
func (p Policy) CheckDate(date, now time.Time) error {
	day := p.Day(date)
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return ErrWeekend
	}

	today := p.Today(now)
	if day.Before(today) {
		return ErrPastDate
	}
	if day.After(today.AddDate(0, 0, p.HorizonDays)) {
		return ErrBeyondHorizon
	}
	return nil
}

// CheckLeadTime rejects a slot on today's date that starts less than LeadTime from now.
func (p Policy) CheckLeadTime(date time.Time, slot Slot, now time.Time) error {
	day := p.Day(date)
	if !day.Equal(p.Today(now)) {
		return nil
	}
	start, err := slot.StartOn(day)
	if err != nil {
		return ErrUnknownSlot
	}
	if start.Sub(now) < p.LeadTime {
		return ErrTooSoon
	}
	return nil
}

type AvailabilityQuery struct {
	ProviderID uuid.UUID
	Date       time.Time
	Booked     []BookedInterval
	Now        time.Time
	Policy     Policy
}

// AvailabilityView is the computed set of offerable slots for a provider and day.
type AvailabilityView struct {
	ProviderID uuid.UUID
	Date       time.Time
	Morning    []Slot
	Afternoon  []Slot
}

// Contains reports whether a slot with the same bounds is offered.
func (v AvailabilityView) Contains(slot Slot) bool {
	for _, s := range v.Morning {
		if s.Matches(slot.Start, slot.End) {
			return true
		}
	}
	for _, s := range v.Afternoon {
		if s.Matches(slot.Start, slot.End) {
			return true
		}
	}
	return false
}

func (v AvailabilityView) Empty() bool {
	return len(v.Morning) == 0 && len(v.Afternoon) == 0
}

// ComputeAvailability returns the catalog slots still offerable for the query.
// A date that fails the policy yields an empty view and a validation error.
func ComputeAvailability(q AvailabilityQuery) (AvailabilityView, error) {
	view := AvailabilityView{
		ProviderID: q.ProviderID,
		Date:       q.Policy.Day(q.Date),
		Morning:    []Slot{},
		Afternoon:  []Slot{},
	}

	if err := q.Policy.CheckDate(q.Date, q.Now); err != nil {
		return view, err
	}

	taken := make(map[[2]string]bool, len(q.Booked))
	for _, b := range q.Booked {
		if b.Status.Active() {
			taken[[2]string{b.Start, b.End}] = true
		}
	}

	keep := func(slots []Slot) []Slot {
		out := make([]Slot, 0, len(slots))
		for _, s := range slots {
			if taken[[2]string{s.Start, s.End}] {
				continue
			}
			if q.Policy.CheckLeadTime(q.Date, s, q.Now) != nil {
				continue
			}
			out = append(out, s)
		}
		return out
	}

	view.Morning = keep(morningSlots)
	view.Afternoon = keep(afternoonSlots)
	return view, nil
}
