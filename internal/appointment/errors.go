package appointment

import (
	"errors"
	"fmt"
)

// Error classes. Every domain error below wraps exactly one of these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("booking conflict")
	ErrNotPermitted      = errors.New("not permitted")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var (
	ErrMissingField  = fmt.Errorf("%w: missing field", ErrValidation)
	ErrWeekend       = fmt.Errorf("%w: appointments are not available on weekends", ErrValidation)
	ErrPastDate      = fmt.Errorf("%w: cannot book appointments for past dates", ErrValidation)
	ErrBeyondHorizon = fmt.Errorf("%w: cannot book appointments that far in advance", ErrValidation)
	ErrTooSoon       = fmt.Errorf("%w: slot starts too soon to be booked", ErrValidation)
	ErrUnknownSlot   = fmt.Errorf("%w: not a bookable slot", ErrValidation)
	ErrUnknownType   = fmt.Errorf("%w: unknown appointment category or type", ErrValidation)
	ErrInvalidStatus = fmt.Errorf("%w: unknown appointment status", ErrValidation)
	ErrUnknownParty  = fmt.Errorf("%w: unknown provider or requester", ErrValidation)
)

var (
	ErrSlotAlreadyBooked = fmt.Errorf("%w: slot already booked", ErrConflict)
	ErrSlotBeingBooked   = fmt.Errorf("%w: slot is currently being booked", ErrConflict)
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStatusChanged       = errors.New("appointment status changed concurrently")
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// IsDomainError reports whether err is an expected, user-correctable outcome
// rather than a backend failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotPermitted) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAppointmentNotFound)
}
