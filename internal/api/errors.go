package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/appointment"
)

const codeBackendUnavailable = "backend_unavailable"

// Most specific first: every code below maps back to exactly one sentinel.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{appointment.ErrWeekend, http.StatusUnprocessableEntity, "weekend"},
	{appointment.ErrPastDate, http.StatusUnprocessableEntity, "past_date"},
	{appointment.ErrBeyondHorizon, http.StatusUnprocessableEntity, "beyond_horizon"},
	{appointment.ErrTooSoon, http.StatusUnprocessableEntity, "too_soon"},
	{appointment.ErrMissingField, http.StatusUnprocessableEntity, "missing_field"},
	{appointment.ErrUnknownSlot, http.StatusUnprocessableEntity, "unknown_slot"},
	{appointment.ErrUnknownType, http.StatusUnprocessableEntity, "unknown_type"},
	{appointment.ErrInvalidStatus, http.StatusUnprocessableEntity, "invalid_status"},
	{appointment.ErrUnknownParty, http.StatusUnprocessableEntity, "unknown_party"},
	{appointment.ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
	{appointment.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{appointment.ErrConflict, http.StatusConflict, "booking_conflict"},
	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{appointment.ErrStatusChanged, http.StatusConflict, "status_changed"},
	{appointment.ErrNotPermitted, http.StatusForbidden, "not_permitted"},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
}

// classify maps a service error to its HTTP status and wire code. Anything
// unrecognised is a backend failure.
func classify(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusServiceUnavailable, codeBackendUnavailable
}

// ErrorForCode is the inverse of the server's mapping, for HTTP clients.
// It returns nil for codes the server never emits for domain errors.
func ErrorForCode(code string) error {
	for _, e := range errorCodes {
		if e.code == code {
			return e.err
		}
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusServiceUnavailable {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeErrorResponse(w, status, ErrorResponse{Error: code, Details: "temporarily unavailable, please retry"})
		return
	}

	writeErrorResponse(w, status, ErrorResponse{
		Error:    code,
		Details:  err.Error(),
		Reselect: errors.Is(err, appointment.ErrConflict),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeErrorResponse(w, status, ErrorResponse{Error: code, Details: details})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
