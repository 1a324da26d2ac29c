package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// racingRepo lets another writer change the row once before the first update lands.
type racingRepo struct {
	*MemoryRepository
	raced bool
	to    AppointmentStatus
}

func (r *racingRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, ev *EventLog) (*Appointment, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.MemoryRepository.UpdateAppointmentStatus(ctx, id, from, r.to, nil); err != nil {
			return nil, err
		}
	}
	return r.MemoryRepository.UpdateAppointmentStatus(ctx, id, from, to, ev)
}

// alwaysStaleRepo reports every compare-and-set as lost.
type alwaysStaleRepo struct {
	*MemoryRepository
}

func (alwaysStaleRepo) UpdateAppointmentStatus(context.Context, uuid.UUID, AppointmentStatus, AppointmentStatus, *EventLog) (*Appointment, error) {
	return nil, ErrAppointmentNotFound
}

func bookOne(t *testing.T, svc *Service) *Appointment {
	t.Helper()
	appt, err := svc.Book(context.Background(), validRequest(uuid.New()))
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	return appt
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, true},
		{StatusConfirmed, StatusPending, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusCancelled, StatusCancelled, true},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusPending, AppointmentStatus("archived"), false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSetStatus_ConfirmKeepsSlotTaken(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	appt := bookOne(t, svc)

	updated, err := svc.SetStatus(ctx, appt.ID, StatusConfirmed, appt.ProviderID)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}

	view, _ := svc.Availability(ctx, appt.ProviderID, appt.Date)
	if view.Contains(Slot{Start: appt.StartTime, End: appt.EndTime}) {
		t.Fatal("a confirmed appointment still occupies its slot")
	}

	events := repo.Events()
	if len(events) != 2 || events[1].EventType != EventAppointmentStatusChanged {
		t.Fatalf("expected created and status changed events, got %+v", events)
	}
}

func TestSetStatus_TerminalStatusReleasesSlot(t *testing.T) {
	for _, terminal := range []AppointmentStatus{StatusCompleted, StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			svc := newTestService(NewMemoryRepository(), nil)
			ctx := context.Background()
			appt := bookOne(t, svc)

			if _, err := svc.SetStatus(ctx, appt.ID, terminal, appt.ProviderID); err != nil {
				t.Fatalf("SetStatus failed: %v", err)
			}

			view, err := svc.Availability(ctx, appt.ProviderID, appt.Date)
			if err != nil {
				t.Fatalf("Availability failed: %v", err)
			}
			if !view.Contains(Slot{Start: appt.StartTime, End: appt.EndTime}) {
				t.Fatalf("slot should be offered again after %s", terminal)
			}
		})
	}
}

func TestSetStatus_TerminalIsFinal(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	ctx := context.Background()
	appt := bookOne(t, svc)

	if _, err := svc.SetStatus(ctx, appt.ID, StatusCompleted, appt.ProviderID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	_, err := svc.SetStatus(ctx, appt.ID, StatusPending, appt.ProviderID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := svc.GetAppointment(ctx, appt.ID, appt.ProviderID)
	if got.Status != StatusCompleted {
		t.Fatalf("status must stay completed, got %s", got.Status)
	}

	// re-applying the terminal status is a no-op, not an error
	if _, err := svc.SetStatus(ctx, appt.ID, StatusCompleted, appt.ProviderID); err != nil {
		t.Fatalf("idempotent update failed: %v", err)
	}
}

func TestSetStatus_OnlyOwningProvider(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	appt := bookOne(t, svc)

	for name, actor := range map[string]uuid.UUID{
		"other provider": uuid.New(),
		"requester":      appt.RequesterID,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SetStatus(ctx, appt.ID, StatusConfirmed, actor)
			if !errors.Is(err, ErrNotPermitted) {
				t.Fatalf("expected ErrNotPermitted, got %v", err)
			}
		})
	}

	got, _ := repo.GetAppointmentByID(ctx, appt.ID)
	if got.Status != StatusPending {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
	if len(repo.Events()) != 1 {
		t.Fatalf("rejected updates must not write events, got %d", len(repo.Events()))
	}
}

func TestSetStatus_InvalidStatusAndMissingAppointment(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	ctx := context.Background()
	appt := bookOne(t, svc)

	if _, err := svc.SetStatus(ctx, appt.ID, AppointmentStatus("no_show"), appt.ProviderID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, uuid.New(), StatusConfirmed, appt.ProviderID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestSetStatus_RetriesAfterConcurrentChange(t *testing.T) {
	mem := NewMemoryRepository()
	seed := newTestService(mem, nil)
	appt := bookOne(t, seed)

	t.Run("new state still allows the change", func(t *testing.T) {
		repo := &racingRepo{MemoryRepository: mem, to: StatusConfirmed}
		svc := newTestService(repo, nil)

		updated, err := svc.SetStatus(context.Background(), appt.ID, StatusCompleted, appt.ProviderID)
		if err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		if updated.Status != StatusCompleted {
			t.Fatalf("expected completed, got %s", updated.Status)
		}
	})

	t.Run("new state is terminal", func(t *testing.T) {
		other := bookOne(t, seed)
		repo := &racingRepo{MemoryRepository: mem, to: StatusCancelled}
		svc := newTestService(repo, nil)

		_, err := svc.SetStatus(context.Background(), other.ID, StatusConfirmed, other.ProviderID)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition after losing to a cancel, got %v", err)
		}
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		svc := newTestService(alwaysStaleRepo{mem}, nil)
		other := bookOne(t, seed)

		_, err := svc.SetStatus(context.Background(), other.ID, StatusConfirmed, other.ProviderID)
		if !errors.Is(err, ErrStatusChanged) {
			t.Fatalf("expected ErrStatusChanged, got %v", err)
		}
	})
}
