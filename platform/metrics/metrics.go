// Package metrics owns the Prometheus registry and the pipeline's collectors.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadpipeline"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	rateLimitDecisions   *prometheus.CounterVec
	rateLimitFailOpen    *prometheus.CounterVec
	enrichmentAttempts   *prometheus.CounterVec
	enrichmentDuration   *prometheus.HistogramVec
	lifecycleTransitions *prometheus.CounterVec
	sweepDuration        prometheus.Histogram
	goalRecomputes       *prometheus.CounterVec
}

// New creates a registry with Go and process collectors plus ours.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by route class and outcome.",
		}, []string{"route_class", "outcome"}),
		rateLimitFailOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_fail_open_total",
			Help:      "Requests admitted because the counter store was unavailable.",
		}, []string{"route_class"}),
		enrichmentAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_results_total",
			Help:      "Enrichment provider results by provider and status.",
		}, []string{"provider", "status"}),
		enrichmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Wall time of a bounded provider call including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		lifecycleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Engagement state transitions applied by sweeps.",
		}, []string{"to"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_sweep_duration_seconds",
			Help:      "Duration of a tenant lifecycle sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		goalRecomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goal_recomputes_total",
			Help:      "Goal progress recomputations by resulting status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.rateLimitDecisions,
		m.rateLimitFailOpen,
		m.enrichmentAttempts,
		m.enrichmentDuration,
		m.lifecycleTransitions,
		m.sweepDuration,
		m.goalRecomputes,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RateLimitDecision counts an admit or deny.
func (m *Metrics) RateLimitDecision(routeClass string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.rateLimitDecisions.WithLabelValues(routeClass, outcome).Inc()
}

// RateLimitFailOpen counts an admit caused by a store failure.
func (m *Metrics) RateLimitFailOpen(routeClass string) {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.WithLabelValues(routeClass).Inc()
}

// EnrichmentResult records one provider outcome and its duration.
func (m *Metrics) EnrichmentResult(provider, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.enrichmentAttempts.WithLabelValues(provider, status).Inc()
	m.enrichmentDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// LifecycleTransition counts a state change.
func (m *Metrics) LifecycleTransition(to string) {
	if m == nil {
		return
	}
	m.lifecycleTransitions.WithLabelValues(to).Inc()
}

// SweepDuration records how long a sweep took.
func (m *Metrics) SweepDuration(took time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
}

// GoalRecomputed counts a goal progress update.
func (m *Metrics) GoalRecomputed(status string) {
	if m == nil {
		return
	}
	m.goalRecomputes.WithLabelValues(status).Inc()
}
