package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/femcare-appointments/internal/appointment"
)

type CreateAppointmentRequest struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Category   string `json:"appointment_category"`
	Type       string `json:"appointment_type"`
	Reason     string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	Date        string    `json:"appointment_date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Status      string    `json:"status"`
	Category    string    `json:"appointment_category"`
	Type        string    `json:"appointment_type"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		ProviderID:  a.ProviderID,
		RequesterID: a.RequesterID,
		Date:        appointment.DateKey(a.Date),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      string(a.Status),
		Category:    a.Category,
		Type:        a.Type,
		Reason:      a.Reason,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

// AvailabilityResponse carries error fields only when the date was rejected;
// the slot lists are then empty.
type AvailabilityResponse struct {
	ProviderID uuid.UUID          `json:"provider_id"`
	Date       string             `json:"date"`
	Morning    []appointment.Slot `json:"morning"`
	Afternoon  []appointment.Slot `json:"afternoon"`
	Error      string             `json:"error,omitempty"`
	Details    string             `json:"details,omitempty"`
}

func toAvailabilityResponse(providerID uuid.UUID, date string, v appointment.AvailabilityView) AvailabilityResponse {
	resp := AvailabilityResponse{
		ProviderID: providerID,
		Date:       date,
		Morning:    v.Morning,
		Afternoon:  v.Afternoon,
	}
	if resp.Morning == nil {
		resp.Morning = []appointment.Slot{}
	}
	if resp.Afternoon == nil {
		resp.Afternoon = []appointment.Slot{}
	}
	return resp
}

type SlotCatalogResponse struct {
	Morning   []appointment.Slot `json:"morning"`
	Afternoon []appointment.Slot `json:"afternoon"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Reselect bool   `json:"reselect,omitempty"`
}
