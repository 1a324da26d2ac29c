package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/femcare-appointments/internal/api"
	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/identity"
)

// HTTPError is a non-domain failure reported by the server.
type HTTPError struct {
	Status  int
	Code    string
	Details string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Details)
}

// Client talks to the api-server. It satisfies refresh.Source.
type Client struct {
	baseURL string
	http    *http.Client
	as      *identity.Principal
	token   string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithPrincipal sends the trusted identity headers.
func WithPrincipal(p identity.Principal) Option {
	return func(cl *Client) { cl.as = &p }
}

func WithBearerToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Availability(ctx context.Context, providerID uuid.UUID, date time.Time) (appointment.AvailabilityView, error) {
	path := fmt.Sprintf("/providers/%s/availability?date=%s", providerID, appointment.DateKey(date))

	var resp api.AvailabilityResponse
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return appointment.AvailabilityView{}, err
	}

	view := appointment.AvailabilityView{
		ProviderID: providerID,
		Date:       date,
		Morning:    resp.Morning,
		Afternoon:  resp.Afternoon,
	}
	if status != http.StatusOK {
		// rejected dates carry an empty view in the body alongside the error code
		return view, decodeError(status, resp.Error, resp.Details)
	}
	return view, nil
}

func (c *Client) Book(ctx context.Context, req api.CreateAppointmentRequest) (api.AppointmentResponse, error) {
	var resp api.AppointmentResponse
	if err := c.expect(ctx, http.MethodPost, "/appointments", req, &resp, http.StatusCreated); err != nil {
		return api.AppointmentResponse{}, err
	}
	return resp, nil
}

// BookSlot books through the API and maps the response back to the domain type.
func (c *Client) BookSlot(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error) {
	resp, err := c.Book(ctx, api.CreateAppointmentRequest{
		ProviderID: req.ProviderID.String(),
		Date:       appointment.DateKey(req.Date),
		StartTime:  req.Slot.Start,
		EndTime:    req.Slot.End,
		Category:   req.Category,
		Type:       req.Type,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, err
	}
	return toAppointment(resp)
}

func toAppointment(r api.AppointmentResponse) (*appointment.Appointment, error) {
	date, err := time.Parse(appointment.DateLayout, r.Date)
	if err != nil {
		return nil, fmt.Errorf("decode appointment date %q: %w", r.Date, err)
	}
	return &appointment.Appointment{
		ID:          r.ID,
		ProviderID:  r.ProviderID,
		RequesterID: r.RequesterID,
		Date:        date,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      appointment.AppointmentStatus(r.Status),
		Category:    r.Category,
		Type:        r.Type,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (c *Client) SetStatus(ctx context.Context, id uuid.UUID, status appointment.AppointmentStatus) (api.AppointmentResponse, error) {
	var resp api.AppointmentResponse
	body := api.UpdateStatusRequest{Status: string(status)}
	if err := c.expect(ctx, http.MethodPatch, "/appointments/"+id.String()+"/status", body, &resp, http.StatusOK); err != nil {
		return api.AppointmentResponse{}, err
	}
	return resp, nil
}

func (c *Client) ProviderCalendar(ctx context.Context, date time.Time) ([]api.AppointmentResponse, error) {
	var resp api.AppointmentListResponse
	if err := c.expect(ctx, http.MethodGet, "/appointments?date="+appointment.DateKey(date), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Appointments, nil
}

// Upcoming lists the requester's own pending and confirmed appointments from today on.
func (c *Client) Upcoming(ctx context.Context, limit int) ([]api.AppointmentResponse, error) {
	path := "/appointments?scope=upcoming"
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var resp api.AppointmentListResponse
	if err := c.expect(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Appointments, nil
}

// expect performs the request and turns any status other than want into an error.
func (c *Client) expect(ctx context.Context, method, path string, body, out any, want int) error {
	raw := json.RawMessage{}
	status, err := c.do(ctx, method, path, body, &raw)
	if err != nil {
		return err
	}
	if status != want {
		var e api.ErrorResponse
		_ = json.Unmarshal(raw, &e)
		return decodeError(status, e.Error, e.Details)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.as != nil:
		req.Header.Set(identity.HeaderUserID, c.as.UserID.String())
		req.Header.Set(identity.HeaderUserRole, string(c.as.Role))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, &HTTPError{Status: resp.StatusCode, Details: http.StatusText(resp.StatusCode)}
		}
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

// remoteError keeps the server's message while matching the sentinel with errors.Is.
type remoteError struct {
	sentinel error
	details  string
}

func (e *remoteError) Error() string {
	if e.details == "" {
		return e.sentinel.Error()
	}
	return e.details
}

func (e *remoteError) Unwrap() error { return e.sentinel }

// decodeError maps a wire error code back to the sentinel the server started from.
func decodeError(status int, code, details string) error {
	if sentinel := api.ErrorForCode(code); sentinel != nil {
		return &remoteError{sentinel: sentinel, details: details}
	}
	return &HTTPError{Status: status, Code: code, Details: details}
}
