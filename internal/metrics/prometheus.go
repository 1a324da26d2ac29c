package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes.
const (
	BookingCreated  = "created"
	BookingConflict = "conflict"
	BookingRejected = "rejected"
	BookingFailed   = "failed"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	bookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	statusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_status_changes_total",
			Help: "Applied appointment status changes",
		},
		[]string{"from_status", "to_status"},
	)

	availabilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_checks_total",
			Help: "Availability evaluations by result",
		},
		[]string{"result"},
	)

	eventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_relayed_total",
			Help: "Outbox events handed to publishers",
		},
		[]string{"result"},
	)
)

func RecordBooking(outcome string) {
	bookingsTotal.WithLabelValues(outcome).Inc()
}

func RecordStatusChange(from, to string) {
	statusChanges.WithLabelValues(from, to).Inc()
}

func RecordAvailability(ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	availabilityChecks.WithLabelValues(result).Inc()
}

func RecordRelay(n int, err error) {
	if err != nil {
		eventsRelayed.WithLabelValues("error").Inc()
		return
	}
	eventsRelayed.WithLabelValues("published").Add(float64(n))
}

// ObserveHTTP records one finished request. route is the matched pattern, not the raw path.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
