package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/metrics"
	redisclient "github.com/hackgods/femcare-appointments/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

const (
	defaultUpcomingLimit = 5
	maxListLimit         = 100
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	policy Policy
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, policy Policy, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Service{
		repo:   repo,
		locker: locker,
		policy: policy,
		log:    logger.With().Str("component", "appointment").Logger(),
		now:    time.Now,
	}
}

// WithClock replaces the wall clock, for tests and simulations.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Availability reads the provider-day's current bookings and evaluates them.
func (s *Service) Availability(ctx context.Context, providerID uuid.UUID, date time.Time) (AvailabilityView, error) {
	now := s.now()

	// cheap date checks first so a weekend never costs a query
	if err := s.policy.CheckDate(date, now); err != nil {
		metrics.RecordAvailability(false)
		return ComputeAvailability(AvailabilityQuery{ProviderID: providerID, Date: date, Now: now, Policy: s.policy})
	}

	booked, err := s.repo.ListBookedIntervals(ctx, providerID, s.policy.Day(date))
	if err != nil {
		return AvailabilityView{}, fmt.Errorf("load booked slots: %w", err)
	}

	view, err := ComputeAvailability(AvailabilityQuery{
		ProviderID: providerID,
		Date:       date,
		Booked:     booked,
		Now:        now,
		Policy:     s.policy,
	})
	metrics.RecordAvailability(err == nil)
	return view, err
}

func validateBooking(req BookingRequest) (Slot, error) {
	switch {
	case req.RequesterID == uuid.Nil:
		return Slot{}, missingField("requester")
	case req.ProviderID == uuid.Nil:
		return Slot{}, missingField("provider")
	case req.Date.IsZero():
		return Slot{}, missingField("date")
	case req.Slot.Start == "" || req.Slot.End == "":
		return Slot{}, missingField("slot")
	case strings.TrimSpace(req.Reason) == "":
		return Slot{}, missingField("reason")
	case strings.TrimSpace(req.Category) == "":
		return Slot{}, missingField("category")
	case strings.TrimSpace(req.Type) == "":
		return Slot{}, missingField("type")
	}

	slot, ok := LookupSlot(req.Slot.Start, req.Slot.End)
	if !ok {
		return Slot{}, fmt.Errorf("%w: %s-%s", ErrUnknownSlot, req.Slot.Start, req.Slot.End)
	}
	if err := ValidateType(req.Category, req.Type); err != nil {
		return Slot{}, err
	}
	return slot, nil
}

// Book is the only way an appointment gets created. It re-reads the slot's
// occupants under a per-slot lock and inserts a pending row; a storage
// uniqueness violation during the insert is reported as a conflict like any
// other taken slot.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	slot, err := validateBooking(req)
	if err != nil {
		metrics.RecordBooking(metrics.BookingRejected)
		return nil, err
	}

	now := s.now()
	day := s.policy.Day(req.Date)
	if err := s.policy.CheckDate(day, now); err != nil {
		metrics.RecordBooking(metrics.BookingRejected)
		return nil, err
	}
	if err := s.policy.CheckLeadTime(day, slot, now); err != nil {
		metrics.RecordBooking(metrics.BookingRejected)
		return nil, err
	}

	apptID := uuid.New()
	ev := s.newEvent(EventAppointmentCreated, map[string]any{
		"provider_id":  req.ProviderID.String(),
		"requester_id": req.RequesterID.String(),
		"date":         DateKey(day),
		"start_time":   slot.Start,
		"end_time":     slot.End,
		"status":       string(StatusPending),
	})

	var booked *Appointment
	lockKey := redisclient.SlotLockKey(req.ProviderID.String(), DateKey(day), slot.Start)

	err = s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		taken, err := s.repo.ListBookedIntervals(lockCtx, req.ProviderID, day)
		if err != nil {
			return fmt.Errorf("re-check booked slots: %w", err)
		}
		for _, b := range taken {
			if b.Status.Active() && slot.Matches(b.Start, b.End) {
				return ErrSlotAlreadyBooked
			}
		}

		appt, err := s.repo.CreatePendingAppointment(lockCtx, Appointment{
			ID:          apptID,
			ProviderID:  req.ProviderID,
			RequesterID: req.RequesterID,
			Date:        day,
			StartTime:   slot.Start,
			EndTime:     slot.End,
			Status:      StatusPending,
			Category:    req.Category,
			Type:        req.Type,
			Reason:      strings.TrimSpace(req.Reason),
		}, ev)
		if err != nil {
			if errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrUnknownParty) {
				return err
			}
			return fmt.Errorf("create pending appointment: %w", err)
		}
		booked = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		if errors.Is(err, ErrConflict) {
			metrics.RecordBooking(metrics.BookingConflict)
			s.log.Info().
				Str("provider_id", req.ProviderID.String()).
				Str("date", DateKey(day)).
				Str("start_time", slot.Start).
				Err(err).
				Msg("booking conflict")
			return nil, err
		}
		if errors.Is(err, ErrValidation) {
			metrics.RecordBooking(metrics.BookingRejected)
			return nil, err
		}
		metrics.RecordBooking(metrics.BookingFailed)
		return nil, err
	}

	metrics.RecordBooking(metrics.BookingCreated)
	s.log.Info().
		Str("appointment_id", booked.ID.String()).
		Str("provider_id", booked.ProviderID.String()).
		Str("date", DateKey(day)).
		Str("start_time", booked.StartTime).
		Msg("appointment booked")

	return booked, nil
}

// GetAppointment returns the appointment if viewerID is its provider or requester.
func (s *Service) GetAppointment(ctx context.Context, id, viewerID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if viewerID != appt.ProviderID && viewerID != appt.RequesterID {
		return nil, ErrNotPermitted
	}
	return appt, nil
}

// ListUpcomingForRequester lists the requester's appointments from today on.
func (s *Service) ListUpcomingForRequester(ctx context.Context, requesterID uuid.UUID, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	appts, err := s.repo.ListUpcomingByRequester(ctx, requesterID, s.policy.Today(s.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return appts, nil
}

// ListForProvider lists every appointment on the provider's calendar for a day.
func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListByProviderDate(ctx, providerID, s.policy.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list provider appointments: %w", err)
	}
	return appts, nil
}

// newEvent builds the outbox row written together with the change it describes.
func (s *Service) newEvent(eventType string, payload map[string]any) *EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	return &EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: s.now(),
	}
}
