package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"studiobook/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studiobook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	bookingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_events_total",
			Help:      "Booking lifecycle events by type.",
		},
		[]string{"type"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, bookingEvents)
	})
}

// IncHTTP counts a finished request.
func IncHTTP(endpoint string, status int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// ObserveHTTP records request latency.
func ObserveHTTP(endpoint string, d time.Duration) {
	httpDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SubscribeEvents counts every booking event published on bus.
func SubscribeEvents(bus *events.EventBus) {
	bus.SubscribeAll(func(event *events.Event) error {
		bookingEvents.WithLabelValues(event.Type).Inc()
		return nil
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
