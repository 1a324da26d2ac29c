package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/femcare-appointments/internal/metrics"
)

// Bounded retries for the compare-and-set status update.
const maxStatusAttempts = 3

// CanTransition reports whether a provider may move an appointment from one status to another.
// Completed and cancelled are terminal; re-applying the current status is always allowed.
func CanTransition(from, to AppointmentStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return from == to
	}
	return true
}

// SetStatus applies a provider's status decision. It never re-runs the overlap
// check: the row already holds its slot, and moving between pending and
// confirmed keeps it, while completed and cancelled release it.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, newStatus AppointmentStatus, actingProviderID uuid.UUID) (*Appointment, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load appointment: %w", err)
		}

		if appt.ProviderID != actingProviderID {
			s.log.Warn().
				Str("appointment_id", id.String()).
				Str("acting_provider_id", actingProviderID.String()).
				Msg("status change by non-owning provider rejected")
			return nil, ErrNotPermitted
		}

		if !CanTransition(appt.Status, newStatus) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, newStatus)
		}

		var ev *EventLog
		if appt.Status != newStatus {
			ev = s.newEvent(EventAppointmentStatusChanged, map[string]any{
				"provider_id": appt.ProviderID.String(),
				"date":        DateKey(appt.Date),
				"start_time":  appt.StartTime,
				"from":        string(appt.Status),
				"to":          string(newStatus),
			})
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, newStatus, ev)
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved between the read and the update; decide again on the fresh row
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update appointment status: %w", err)
		}

		if appt.Status != newStatus {
			metrics.RecordStatusChange(string(appt.Status), string(newStatus))
			s.log.Info().
				Str("appointment_id", id.String()).
				Str("from", string(appt.Status)).
				Str("to", string(newStatus)).
				Msg("appointment status changed")
		}

		return updated, nil
	}

	return nil, ErrStatusChanged
}
