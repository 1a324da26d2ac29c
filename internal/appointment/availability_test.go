package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Monday 2025-06-09, midday UTC.
var monday = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func starts(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestComputeAvailability_ExcludesBookedSlot(t *testing.T) {
	view, err := ComputeAvailability(AvailabilityQuery{
		ProviderID: uuid.New(),
		Date:       day(2025, 6, 10),
		Booked:     []BookedInterval{{Start: "09:00", End: "10:00", Status: StatusConfirmed}},
		Now:        monday,
		Policy:     DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := starts(view.Morning), []string{"08:00", "10:00", "11:00"}; !equalStrings(got, want) {
		t.Fatalf("morning = %v, want %v", got, want)
	}
	if got, want := starts(view.Afternoon), []string{"13:00", "14:00", "15:00", "16:00"}; !equalStrings(got, want) {
		t.Fatalf("afternoon = %v, want %v", got, want)
	}
}

func TestComputeAvailability_IgnoresReleasedBookings(t *testing.T) {
	view, err := ComputeAvailability(AvailabilityQuery{
		Date: day(2025, 6, 10),
		Booked: []BookedInterval{
			{Start: "08:00", End: "09:00", Status: StatusCancelled},
			{Start: "13:00", End: "14:00", Status: StatusCompleted},
			{Start: "14:00", End: "15:00", Status: StatusPending},
		},
		Now:    monday,
		Policy: DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Morning) != 4 {
		t.Fatalf("expected all 4 morning slots, got %v", starts(view.Morning))
	}
	if got, want := starts(view.Afternoon), []string{"13:00", "15:00", "16:00"}; !equalStrings(got, want) {
		t.Fatalf("afternoon = %v, want %v", got, want)
	}
}

func TestComputeAvailability_PartialOverlapIsNotExactMatch(t *testing.T) {
	// only exact catalog bounds occupy a slot
	view, err := ComputeAvailability(AvailabilityQuery{
		Date:   day(2025, 6, 10),
		Booked: []BookedInterval{{Start: "09:30", End: "10:30", Status: StatusPending}},
		Now:    monday,
		Policy: DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Morning) != 4 {
		t.Fatalf("expected 4 morning slots, got %v", starts(view.Morning))
	}
}

func TestComputeAvailability_DateRejections(t *testing.T) {
	cases := []struct {
		name string
		date time.Time
		want error
	}{
		{"saturday", day(2025, 6, 14), ErrWeekend},
		{"sunday", day(2025, 6, 15), ErrWeekend},
		{"past weekday", day(2025, 6, 6), ErrPastDate},
		{"past weekend reports weekend first", day(2025, 6, 7), ErrWeekend},
		{"one day past horizon", day(2025, 6, 24), ErrBeyondHorizon},
		{"far future weekend reports weekend first", day(2025, 7, 5), ErrWeekend},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view, err := ComputeAvailability(AvailabilityQuery{Date: tc.date, Now: monday, Policy: DefaultPolicy()})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected a validation error, got %v", err)
			}
			if !view.Empty() {
				t.Fatalf("expected empty view, got %+v", view)
			}
			if view.Morning == nil || view.Afternoon == nil {
				t.Fatal("empty view should carry empty, non-nil slot lists")
			}
		})
	}
}

func TestComputeAvailability_AcceptsTodayAndHorizonBoundary(t *testing.T) {
	for _, d := range []time.Time{day(2025, 6, 9), day(2025, 6, 23)} {
		if _, err := ComputeAvailability(AvailabilityQuery{Date: d, Now: monday, Policy: DefaultPolicy()}); err != nil {
			t.Fatalf("%s: unexpected error: %v", DateKey(d), err)
		}
	}
}

func TestComputeAvailability_TodayLeadTime(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 45, 0, 0, time.UTC)
	view, err := ComputeAvailability(AvailabilityQuery{Date: day(2025, 6, 10), Now: now, Policy: DefaultPolicy()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := starts(view.Morning), []string{"10:00", "11:00"}; !equalStrings(got, want) {
		t.Fatalf("morning = %v, want %v", got, want)
	}
	if len(view.Afternoon) != 4 {
		t.Fatalf("expected 4 afternoon slots, got %v", starts(view.Afternoon))
	}
}

func TestComputeAvailability_LeadTimeBoundaryIsInclusive(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)
	view, err := ComputeAvailability(AvailabilityQuery{Date: day(2025, 6, 10), Now: now, Policy: DefaultPolicy()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := starts(view.Morning), []string{"09:00", "10:00", "11:00"}; !equalStrings(got, want) {
		t.Fatalf("morning = %v, want %v", got, want)
	}
}

func TestComputeAvailability_TodayUsesPolicyLocation(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	policy := DefaultPolicy()
	policy.Location = est

	// 02:00 UTC on the 10th is still the evening of the 9th in EST
	now := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)

	view, err := ComputeAvailability(AvailabilityQuery{Date: day(2025, 6, 9), Now: now, Policy: policy})
	if err != nil {
		t.Fatalf("the 9th is today in EST, got %v", err)
	}
	if !view.Empty() {
		t.Fatalf("every slot today has already started, got %+v", view)
	}

	view, err = ComputeAvailability(AvailabilityQuery{Date: day(2025, 6, 10), Now: now, Policy: policy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Morning)+len(view.Afternoon) != 8 {
		t.Fatalf("tomorrow should be fully open, got %+v", view)
	}
}

func TestComputeAvailability_KeepsCatalogOrder(t *testing.T) {
	view, err := ComputeAvailability(AvailabilityQuery{Date: day(2025, 6, 11), Now: monday, Policy: DefaultPolicy()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := append(append([]Slot(nil), view.Morning...), view.Afternoon...)
	for i := 1; i < len(all); i++ {
		if all[i-1].Start >= all[i].Start {
			t.Fatalf("slots out of order at %d: %v", i, starts(all))
		}
	}
	if !view.Contains(Slot{Start: "16:00", End: "17:00"}) {
		t.Fatal("expected 16:00-17:00 to be offered")
	}
}
