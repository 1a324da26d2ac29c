package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ActiveStatuses are the statuses that occupy a slot.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether an appointment in this status blocks its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Slot is a bookable one-hour interval. Start and End are "HH:MM" in the clinic's timezone.
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

// Matches compares slot bounds only; labels are presentation.
func (s Slot) Matches(start, end string) bool {
	return s.Start == start && s.End == end
}

type Appointment struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	RequesterID uuid.UUID
	Date        time.Time // calendar day, midnight in the clinic location
	StartTime   string
	EndTime     string
	Status      AppointmentStatus
	Category    string
	Type        string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BookedInterval is the projection of an appointment the evaluator and the guard work on.
type BookedInterval struct {
	Start  string
	End    string
	Status AppointmentStatus
}

type BookingRequest struct {
	RequesterID uuid.UUID
	ProviderID  uuid.UUID
	Date        time.Time
	Slot        Slot
	Category    string
	Type        string
	Reason      string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// DateKey formats a calendar day the way it is stored and sent over the wire.
func DateKey(d time.Time) string {
	return d.Format(DateLayout)
}

const DateLayout = "2006-01-02"
