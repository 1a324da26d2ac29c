package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
)

// -- Test doubles --

// staleReadRepo never reports existing bookings, so only the insert backstop can catch a conflict.
type staleReadRepo struct {
	*MemoryRepository
}

func (staleReadRepo) ListBookedIntervals(context.Context, uuid.UUID, time.Time) ([]BookedInterval, error) {
	return nil, nil
}

type failingRepo struct {
	*MemoryRepository
	err error
}

func (r failingRepo) ListBookedIntervals(context.Context, uuid.UUID, time.Time) ([]BookedInterval, error) {
	return nil, r.err
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type countingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *countingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

func newTestService(repo Repository, locker redisclient.Locker) *Service {
	return NewService(repo, locker, DefaultPolicy(), zerolog.Nop()).WithClock(func() time.Time { return monday })
}

func validRequest(providerID uuid.UUID) BookingRequest {
	return BookingRequest{
		RequesterID: uuid.New(),
		ProviderID:  providerID,
		Date:        day(2025, 6, 10),
		Slot:        Slot{Start: "09:00", End: "10:00"},
		Category:    "Routine Check-Ups & Screenings",
		Type:        "Annual pelvic exam",
		Reason:      "yearly visit",
	}
}

// -- Booking --

func TestBook_CreatesPendingAppointment(t *testing.T) {
	repo := NewMemoryRepository()
	locker := &countingLocker{}
	svc := newTestService(repo, locker)
	provider := uuid.New()

	appt, err := svc.Book(context.Background(), validRequest(provider))
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if appt.Status != StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if appt.StartTime != "09:00" || appt.EndTime != "10:00" || DateKey(appt.Date) != "2025-06-10" {
		t.Fatalf("unexpected slot on created appointment: %+v", appt)
	}
	if appt.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	if len(locker.keys) != 1 || locker.keys[0] != "slot:"+provider.String()+":2025-06-10:09:00" {
		t.Fatalf("unexpected lock keys %v", locker.keys)
	}

	events := repo.Events()
	if len(events) != 1 || events[0].EventType != EventAppointmentCreated {
		t.Fatalf("expected one created event, got %+v", events)
	}
}

func TestBook_MissingFields(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	provider := uuid.New()

	cases := map[string]func(*BookingRequest){
		"requester": func(r *BookingRequest) { r.RequesterID = uuid.Nil },
		"provider":  func(r *BookingRequest) { r.ProviderID = uuid.Nil },
		"date":      func(r *BookingRequest) { r.Date = time.Time{} },
		"slot":      func(r *BookingRequest) { r.Slot = Slot{} },
		"reason":    func(r *BookingRequest) { r.Reason = "   " },
		"category":  func(r *BookingRequest) { r.Category = "" },
		"type":      func(r *BookingRequest) { r.Type = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest(provider)
			mutate(&req)
			_, err := svc.Book(context.Background(), req)
			if !errors.Is(err, ErrMissingField) || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected missing field error, got %v", err)
			}
		})
	}
}

func TestBook_RejectsOutOfPolicyRequests(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	provider := uuid.New()

	cases := []struct {
		name   string
		mutate func(*BookingRequest)
		want   error
	}{
		{"non catalog slot", func(r *BookingRequest) { r.Slot = Slot{Start: "12:00", End: "13:00"} }, ErrUnknownSlot},
		{"type outside category", func(r *BookingRequest) { r.Type = "Prenatal care" }, ErrUnknownType},
		{"weekend", func(r *BookingRequest) { r.Date = day(2025, 6, 14) }, ErrWeekend},
		{"past", func(r *BookingRequest) { r.Date = day(2025, 6, 6) }, ErrPastDate},
		{"beyond horizon", func(r *BookingRequest) { r.Date = day(2025, 6, 30) }, ErrBeyondHorizon},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(provider)
			tc.mutate(&req)
			if _, err := svc.Book(context.Background(), req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBook_TooSoonToday(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil).
		WithClock(func() time.Time { return time.Date(2025, 6, 10, 8, 45, 0, 0, time.UTC) })

	req := validRequest(uuid.New())
	if _, err := svc.Book(context.Background(), req); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("expected ErrTooSoon for 09:00 at 08:45, got %v", err)
	}

	req.Slot = Slot{Start: "10:00", End: "11:00"}
	if _, err := svc.Book(context.Background(), req); err != nil {
		t.Fatalf("10:00 should be bookable at 08:45: %v", err)
	}
}

func TestBook_ConflictWhenSlotTaken(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	provider := uuid.New()

	if _, err := svc.Book(context.Background(), validRequest(provider)); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	_, err := svc.Book(context.Background(), validRequest(provider))
	if !errors.Is(err, ErrSlotAlreadyBooked) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected slot already booked conflict, got %v", err)
	}

	// same slot with another provider is independent
	if _, err := svc.Book(context.Background(), validRequest(uuid.New())); err != nil {
		t.Fatalf("other provider's slot should be free: %v", err)
	}
}

func TestBook_BackstopRejectionIsConflict(t *testing.T) {
	mem := NewMemoryRepository()
	svc := newTestService(staleReadRepo{mem}, nil)
	provider := uuid.New()

	if _, err := svc.Book(context.Background(), validRequest(provider)); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	_, err := svc.Book(context.Background(), validRequest(provider))
	if !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected the storage backstop to surface as a conflict, got %v", err)
	}
}

func TestBook_ConcurrentRequestsBookOnce(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, nil)
	provider := uuid.New()

	const clients = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), validRequest(provider))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if created != 1 || conflicts != clients-1 || len(others) != 0 {
		t.Fatalf("created=%d conflicts=%d others=%v", created, conflicts, others)
	}

	booked, _ := repo.ListBookedIntervals(context.Background(), provider, day(2025, 6, 10))
	if len(booked) != 1 {
		t.Fatalf("expected exactly one persisted booking, got %d", len(booked))
	}
}

func TestBook_LockHeldElsewhereIsConflict(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), busyLocker{})

	_, err := svc.Book(context.Background(), validRequest(uuid.New()))
	if !errors.Is(err, ErrSlotBeingBooked) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected slot being booked conflict, got %v", err)
	}
}

func TestBook_BackendFailureIsNotDomainError(t *testing.T) {
	boom := errors.New("connection refused")
	svc := newTestService(failingRepo{NewMemoryRepository(), boom}, nil)

	_, err := svc.Book(context.Background(), validRequest(uuid.New()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if IsDomainError(err) {
		t.Fatalf("backend failure must not look like a domain error: %v", err)
	}
}

func TestBook_CancelledSlotCanBeRebooked(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	provider := uuid.New()
	ctx := context.Background()

	first, err := svc.Book(ctx, validRequest(provider))
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if _, err := svc.SetStatus(ctx, first.ID, StatusCancelled, provider); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.Book(ctx, validRequest(provider)); err != nil {
		t.Fatalf("cancelled slot should be bookable: %v", err)
	}
}

// -- Availability through the service --

func TestServiceAvailability_ReflectsBookings(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	provider := uuid.New()
	ctx := context.Background()

	before, err := svc.Availability(ctx, provider, day(2025, 6, 10))
	if err != nil || !before.Contains(Slot{Start: "09:00", End: "10:00"}) {
		t.Fatalf("expected 09:00 to be open, err=%v view=%+v", err, before)
	}

	if _, err := svc.Book(ctx, validRequest(provider)); err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	after, err := svc.Availability(ctx, provider, day(2025, 6, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Contains(Slot{Start: "09:00", End: "10:00"}) {
		t.Fatal("booked slot must not be offered")
	}
	if len(after.Morning)+len(after.Afternoon) != 7 {
		t.Fatalf("expected 7 remaining slots, got %+v", after)
	}
}

func TestServiceAvailability_WeekendSkipsStore(t *testing.T) {
	svc := newTestService(failingRepo{NewMemoryRepository(), errors.New("should not be called")}, nil)

	view, err := svc.Availability(context.Background(), uuid.New(), day(2025, 6, 14))
	if !errors.Is(err, ErrWeekend) || !view.Empty() {
		t.Fatalf("expected weekend rejection with empty view, got %v %+v", err, view)
	}
}

// -- Reads --

func TestListUpcomingForRequester(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	ctx := context.Background()
	requester := uuid.New()

	book := func(d time.Time, start, end string) {
		req := validRequest(uuid.New())
		req.RequesterID = requester
		req.Date = d
		req.Slot = Slot{Start: start, End: end}
		if _, err := svc.Book(ctx, req); err != nil {
			t.Fatalf("Book %s %s failed: %v", DateKey(d), start, err)
		}
	}
	book(day(2025, 6, 12), "14:00", "15:00")
	book(day(2025, 6, 10), "16:00", "17:00")
	book(day(2025, 6, 10), "08:00", "09:00")

	appts, err := svc.ListUpcomingForRequester(ctx, requester, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(appts) != 3 {
		t.Fatalf("expected 3 appointments, got %d", len(appts))
	}
	if appts[0].StartTime != "08:00" || appts[1].StartTime != "16:00" || DateKey(appts[2].Date) != "2025-06-12" {
		t.Fatalf("unexpected order: %+v", appts)
	}

	limited, _ := svc.ListUpcomingForRequester(ctx, requester, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestGetAppointment_OnlyParticipantsMaySee(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), nil)
	ctx := context.Background()
	req := validRequest(uuid.New())

	appt, err := svc.Book(ctx, req)
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	for _, viewer := range []uuid.UUID{req.ProviderID, req.RequesterID} {
		if _, err := svc.GetAppointment(ctx, appt.ID, viewer); err != nil {
			t.Fatalf("participant %s should see the appointment: %v", viewer, err)
		}
	}
	if _, err := svc.GetAppointment(ctx, appt.ID, uuid.New()); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if _, err := svc.GetAppointment(ctx, uuid.New(), req.ProviderID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestBook_EventCommittedWithAppointment(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(staleReadRepo{repo}, nil)
	ctx := context.Background()
	provider := uuid.New()

	appt, err := svc.Book(ctx, validRequest(provider))
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	// the stale read lets the second attempt reach the backstop
	if _, err := svc.Book(ctx, validRequest(provider)); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected backstop conflict, got %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("a rejected insert must not leave an event, got %d", len(events))
	}
	if events[0].AppointmentID == nil || *events[0].AppointmentID != appt.ID {
		t.Fatalf("event not tied to the booking: %+v", events[0])
	}

	var payload map[string]string
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["provider_id"] != provider.String() || payload["date"] != "2025-06-10" || payload["start_time"] != "09:00" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
