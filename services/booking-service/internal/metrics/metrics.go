// Package metrics holds the booking service's Prometheus collectors on a
// dedicated registry served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	handler       http.Handler
	bookings      *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	proposals     *prometheus.CounterVec
	events        *prometheus.CounterVec
	slotQueries   prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_appointments_total",
		Help: "Appointment mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_reschedule_confirmations_total",
		Help: "Reschedule confirmations by outcome",
	}, []string{"outcome"})

	proposals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_reschedule_proposals_total",
		Help: "Provider reschedule proposals by outcome",
	}, []string{"outcome"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_events_emitted_total",
		Help: "Domain events handed to the outbox by type and result",
	}, []string{"event_type", "result"})

	slotQueries := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_slot_generation_seconds",
		Help:    "Time spent generating a provider's slot calendar",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	registry.MustRegister(
		bookings, confirmations, proposals, events, slotQueries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		bookings:      bookings,
		confirmations: confirmations,
		proposals:     proposals,
		events:        events,
		slotQueries:   slotQueries,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// The recorders below are nil-safe so callers may run without metrics.

func (m *Metrics) Booking(operation, outcome string) {
	if m != nil {
		m.bookings.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) Confirmation(outcome string) {
	if m != nil {
		m.confirmations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Proposal(outcome string) {
	if m != nil {
		m.proposals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Event(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObserveSlotGeneration(seconds float64) {
	if m != nil {
		m.slotQueries.Observe(seconds)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
