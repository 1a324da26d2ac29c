package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	// Fresh read of the slot-occupying appointments for a provider-day.
	ListBookedIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]BookedInterval, error)

	// CreatePendingAppointment inserts a pending row and, when ev is not nil,
	// its outbox event in the same transaction. The store's uniqueness backstop
	// rejects a second active row for the same provider, day and start with
	// ErrSlotAlreadyBooked.
	CreatePendingAppointment(ctx context.Context, a Appointment, ev *EventLog) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on status, writing ev with it
	// when not nil. It returns ErrAppointmentNotFound when no row with that id is
	// currently in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, ev *EventLog) (*Appointment, error)

	ListUpcomingByRequester(ctx context.Context, requesterID uuid.UUID, from time.Time, limit int) ([]Appointment, error)
	ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)

	// Outbox
	InsertEvent(ctx context.Context, ev EventLog) error
	// DrainEvents hands up to limit unpublished events to publish and marks
	// them published only if publish succeeds.
	DrainEvents(ctx context.Context, limit int, publish func(ctx context.Context, events []EventLog) error) (int, error)
}
