package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. It enforces the same
// active-slot uniqueness as the postgres schema, so the guard behaves
// identically against it.
type MemoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	nextEventID  int64
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		now:          time.Now,
	}
}

func sameDay(a, b time.Time) bool {
	return DateKey(a) == DateKey(b)
}

func (r *MemoryRepository) ListBookedIntervals(_ context.Context, providerID uuid.UUID, date time.Time) ([]BookedInterval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []BookedInterval
	for _, a := range r.appointments {
		if a.ProviderID == providerID && sameDay(a.Date, date) && a.Status.Active() {
			result = append(result, BookedInterval{Start: a.StartTime, End: a.EndTime, Status: a.Status})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	return result, nil
}

func (r *MemoryRepository) CreatePendingAppointment(_ context.Context, a Appointment, ev *EventLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.appointments {
		if existing.ProviderID == a.ProviderID &&
			sameDay(existing.Date, a.Date) &&
			existing.StartTime == a.StartTime &&
			existing.Status.Active() {
			return nil, ErrSlotAlreadyBooked
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now()
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := a
	r.appointments[a.ID] = &stored
	if ev != nil {
		r.appendEvent(a.ID, *ev)
	}
	out := stored
	return &out, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, ev *EventLog) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now()
	if ev != nil {
		r.appendEvent(id, *ev)
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) ListUpcomingByRequester(_ context.Context, requesterID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fromKey := DateKey(from)
	var result []Appointment
	for _, a := range r.appointments {
		if a.RequesterID == requesterID && DateKey(a.Date) >= fromKey {
			result = append(result, *a)
		}
	}
	sortByDayAndStart(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) ListByProviderDate(_ context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.ProviderID == providerID && sameDay(a.Date, date) {
			result = append(result, *a)
		}
	}
	sortByDayAndStart(result)
	return result, nil
}

func sortByDayAndStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		di, dj := DateKey(appts[i].Date), DateKey(appts[j].Date)
		if di != dj {
			return di < dj
		}
		if appts[i].StartTime != appts[j].StartTime {
			return appts[i].StartTime < appts[j].StartTime
		}
		return appts[i].CreatedAt.Before(appts[j].CreatedAt)
	})
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendEvent(uuid.Nil, ev)
	return nil
}

// appendEvent stores ev, attaching it to appointmentID unless that is nil. Callers hold mu.
func (r *MemoryRepository) appendEvent(appointmentID uuid.UUID, ev EventLog) {
	if appointmentID != uuid.Nil {
		id := appointmentID
		ev.AppointmentID = &id
	}
	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
}

func (r *MemoryRepository) DrainEvents(ctx context.Context, limit int, publish func(ctx context.Context, events []EventLog) error) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx []int
	for i, ev := range r.events {
		if ev.PublishedAt == nil {
			idx = append(idx, i)
			if len(idx) == limit {
				break
			}
		}
	}
	if len(idx) == 0 {
		return 0, nil
	}

	batch := make([]EventLog, len(idx))
	for i, j := range idx {
		batch[i] = r.events[j]
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	now := r.now()
	for _, j := range idx {
		r.events[j].PublishedAt = &now
	}
	return len(batch), nil
}

// Events returns a copy of the outbox, published or not.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}
