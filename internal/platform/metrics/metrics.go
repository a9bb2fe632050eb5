// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	MessagesValidated *prometheus.CounterVec
	Observations      *prometheus.CounterVec
	ObservationErrors *prometheus.CounterVec
	ImportDuration    prometheus.Histogram
	Analyses          *prometheus.CounterVec
	CacheBreakerState prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacetrack_messages_validated_total",
			Help: "HL7 messages checked by the validator, by outcome",
		}, []string{"outcome"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacetrack_observations_total",
			Help: "Observations persisted, by whether the vendor code was mapped",
		}, []string{"mapped"}),
		ObservationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacetrack_observation_errors_total",
			Help: "Field-level observation failures, by kind",
		}, []string{"kind"}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pacetrack_import_duration_seconds",
			Help:    "Time to validate, parse and persist one transmission",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacetrack_analysis_total",
			Help: "Analyses run, by kind",
		}, []string{"kind"}),
		CacheBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pacetrack_cache_breaker_state",
			Help: "Trend cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	reg.MustRegister(
		m.MessagesValidated,
		m.Observations,
		m.ObservationErrors,
		m.ImportDuration,
		m.Analyses,
		m.CacheBreakerState,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Validated(outcome string) {
	if m == nil {
		return
	}
	m.MessagesValidated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Observation(mapped bool) {
	if m == nil {
		return
	}
	label := "false"
	if mapped {
		label = "true"
	}
	m.Observations.WithLabelValues(label).Inc()
}

func (m *Metrics) ObservationError(kind string) {
	if m == nil {
		return
	}
	m.ObservationErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ImportTook(d time.Duration) {
	if m == nil {
		return
	}
	m.ImportDuration.Observe(d.Seconds())
}

func (m *Metrics) Analysis(kind string) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(kind).Inc()
}

// BreakerChanged matches cache.BreakerConfig.OnStateChange.
func (m *Metrics) BreakerChanged(_, to gobreaker.State) {
	if m == nil {
		return
	}
	switch to {
	case gobreaker.StateOpen:
		m.CacheBreakerState.Set(1)
	case gobreaker.StateHalfOpen:
		m.CacheBreakerState.Set(2)
	default:
		m.CacheBreakerState.Set(0)
	}
}
