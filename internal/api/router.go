package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/appointment"
	"github.com/hackgods/femcare-appointments/internal/identity"
	"github.com/hackgods/femcare-appointments/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	HealthChecks []HealthCheck
	Identity     identity.Config
	Logger       zerolog.Logger
	BookingRate  float64 // per client per second, 0 disables
	BookingBurst int
	TrustProxy   bool // honour X-Forwarded-For when keying the booking limit
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{svc: cfg.Service}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(cfg.Logger))
	r.Use(Metrics)

	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/catalog/slots", h.listSlots)
	r.Get("/catalog/appointment-types", h.listAppointmentTypes)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Identity))

		r.Get("/providers/{providerID}/availability", h.getAvailability)

		r.Route("/appointments", func(r chi.Router) {
			r.With(identity.Require()).Get("/", h.listAppointments)
			r.With(identity.Require()).Get("/{id}", h.getAppointment)
			r.With(identity.Require(identity.RoleProvider)).Patch("/{id}/status", h.updateStatus)

			book := r.With(identity.Require(identity.RoleRequester))
			if cfg.BookingRate > 0 {
				book = book.With(NewClientRateLimiter(cfg.BookingRate, cfg.BookingBurst, cfg.TrustProxy).Middleware)
			}
			book.Post("/", h.createAppointment)
		})
	})

	return r
}
