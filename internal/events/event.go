package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/hackgods/femcare-appointments/internal/appointment"
)

// Event is an outbox row as it leaves the process.
type Event struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	ProviderID    string          `json:"provider_id,omitempty"`
	Date          string          `json:"date,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (e Event) Key() string {
	if e.AppointmentID != "" {
		return e.AppointmentID
	}
	return strconv.FormatInt(e.ID, 10)
}

// FromLog converts an outbox row. Provider and date are lifted out of the
// payload so notifiers can route without decoding it again.
func FromLog(l appointment.EventLog) Event {
	ev := Event{
		ID:        l.ID,
		Type:      l.EventType,
		Payload:   json.RawMessage(l.Payload),
		CreatedAt: l.CreatedAt,
	}
	if l.AppointmentID != nil {
		ev.AppointmentID = l.AppointmentID.String()
	}

	var route struct {
		ProviderID string `json:"provider_id"`
		Date       string `json:"date"`
	}
	if len(l.Payload) > 0 && json.Unmarshal(l.Payload, &route) == nil {
		ev.ProviderID = route.ProviderID
		ev.Date = route.Date
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, []Event) error { return nil }

// Multi fans a batch out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events []Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
