package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/identity"
)

type handlers struct {
	svc *appointment.Service
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(appointment.DateLayout, raw)
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func principal(r *http.Request) identity.Principal {
	// routes that call this sit behind identity.Require
	p, _ := identity.FromContext(r.Context())
	return p
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SlotCatalogResponse{
		Morning:   appointment.Morning(),
		Afternoon: appointment.Afternoon(),
	})
}

func (h *handlers) listAppointmentTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, appointment.Categories())
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := parseUUIDParam(w, r, "providerID")
	if !ok {
		return
	}

	rawDate := r.URL.Query().Get("date")
	if rawDate == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_field", "date is required")
		return
	}
	date, err := parseDate(rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	view, err := h.svc.Availability(r.Context(), providerID, date)
	if err != nil {
		if errors.Is(err, appointment.ErrValidation) {
			status, code := classify(err)
			resp := toAvailabilityResponse(providerID, rawDate, view)
			resp.Error = code
			resp.Details = err.Error()
			writeJSON(w, status, resp)
			return
		}
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAvailabilityResponse(providerID, rawDate, view))
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var providerID uuid.UUID
	if req.ProviderID != "" {
		id, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		providerID = id
	}

	var date time.Time
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookingRequest{
		RequesterID: principal(r).UserID,
		ProviderID:  providerID,
		Date:        date,
		Slot:        appointment.Slot{Start: req.StartTime, End: req.EndTime},
		Category:    req.Category,
		Type:        req.Type,
		Reason:      req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.SetStatus(r.Context(), id, appointment.AppointmentStatus(req.Status), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id, principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// listAppointments serves the requester's upcoming list and the provider's day calendar.
func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	q := r.URL.Query()

	var (
		appts []appointment.Appointment
		err   error
	)

	switch p.Role {
	case identity.RoleRequester:
		if scope := q.Get("scope"); scope != "" && scope != "upcoming" {
			writeError(w, http.StatusBadRequest, "invalid_scope", "scope must be upcoming")
			return
		}
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
		}
		appts, err = h.svc.ListUpcomingForRequester(r.Context(), p.UserID, limit)

	case identity.RoleProvider:
		rawDate := q.Get("date")
		if rawDate == "" {
			writeError(w, http.StatusUnprocessableEntity, "missing_field", "date is required")
			return
		}
		date, perr := parseDate(rawDate)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		appts, err = h.svc.ListForProvider(r.Context(), p.UserID, date)
	}

	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
