// Package metrics exposes registration and scheduling counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	Registrations        *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	Cancellations        prometheus.Counter
	Promotions           prometheus.Counter
	OccurrencesGenerated prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "club_events_registrations_total",
			Help: "Registrations accepted, by resulting status",
		}, []string{"status"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "club_events_registration_rejections_total",
			Help: "Registration attempts refused, by reason",
		}, []string{"reason"}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "club_events_cancellations_total",
			Help: "Registrations cancelled",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "club_events_promotions_total",
			Help: "Waiting-list registrations promoted to registered",
		}),
		OccurrencesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "club_events_occurrences_generated_total",
			Help: "Occurrences materialized from recurring series",
		}),
	}
}

// Rejection reasons.
const (
	ReasonNotEligible       = "not_eligible"
	ReasonAlreadyRegistered = "already_registered"
	ReasonCapacityExceeded  = "capacity_exceeded"
)

func (m *Metrics) Registered(status string) {
	if m != nil {
		m.Registrations.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Cancelled() {
	if m != nil {
		m.Cancellations.Inc()
	}
}

func (m *Metrics) Promoted(n int) {
	if m != nil {
		m.Promotions.Add(float64(n))
	}
}

func (m *Metrics) Generated(n int) {
	if m != nil {
		m.OccurrencesGenerated.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
