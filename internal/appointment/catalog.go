package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	morningSlots = []Slot{
		{Start: "08:00", End: "09:00", Label: "8:00-9:00 AM"},
		{Start: "09:00", End: "10:00", Label: "9:00-10:00 AM"},
		{Start: "10:00", End: "11:00", Label: "10:00-11:00 AM"},
		{Start: "11:00", End: "12:00", Label: "11:00-12:00 PM"},
	}
	afternoonSlots = []Slot{
		{Start: "13:00", End: "14:00", Label: "1:00-2:00 PM"},
		{Start: "14:00", End: "15:00", Label: "2:00-3:00 PM"},
		{Start: "15:00", End: "16:00", Label: "3:00-4:00 PM"},
		{Start: "16:00", End: "17:00", Label: "4:00-5:00 PM"},
	}
)

// Morning returns a copy of the morning slots in start order.
func Morning() []Slot {
	return append([]Slot(nil), morningSlots...)
}

// Afternoon returns a copy of the afternoon slots in start order.
func Afternoon() []Slot {
	return append([]Slot(nil), afternoonSlots...)
}

// Slots returns the whole daily catalog, morning first.
func Slots() []Slot {
	out := make([]Slot, 0, len(morningSlots)+len(afternoonSlots))
	out = append(out, morningSlots...)
	return append(out, afternoonSlots...)
}

// LookupSlot finds the catalog slot with exactly these bounds.
func LookupSlot(start, end string) (Slot, bool) {
	for _, s := range Slots() {
		if s.Matches(start, end) {
			return s, true
		}
	}
	return Slot{}, false
}

// clockOffset parses "HH:MM" into an offset from midnight.
func clockOffset(hhmm string) (time.Duration, error) {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// StartOn returns the instant the slot begins on the given day.
func (s Slot) StartOn(day time.Time) (time.Time, error) {
	off, err := clockOffset(s.Start)
	if err != nil {
		return time.Time{}, err
	}
	return startOfDay(day, day.Location()).Add(off), nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}
