// Package metrics holds the Prometheus collectors of the service. All methods
// are safe on a nil *Metrics so components can be built without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unified_ai"

// Metrics groups HTTP and domain collectors registered on one registry.
type Metrics struct {
	registry prometheus.Gatherer

	HTTPInFlight        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	loginAttempts     *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	syncEvents        *prometheus.CounterVec
	conflictsDetected prometheus.Counter
	conflictsResolved *prometheus.CounterVec
	publishFailures   prometheus.Counter
	permissionChecks  *prometheus.CounterVec
	sweepDeletedTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_refresh_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_recorded_total",
			Help:      "Sync events appended, by operation.",
		}, []string{"operation"}),
		conflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_detected_total",
			Help:      "Conflict groups found by detection.",
		}),
		conflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_resolved_total",
			Help:      "Resolved conflicts by strategy.",
		}, []string{"strategy"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_publish_failures_total",
			Help:      "Sync events that could not be fanned out.",
		}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Permission checks by decision and deciding source.",
		}, []string{"decision", "source"}),
		sweepDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_rows_total",
			Help:      "Rows removed by the hygiene worker.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.HTTPInFlight, m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.loginAttempts, m.refreshes, m.syncEvents, m.conflictsDetected,
		m.conflictsResolved, m.publishFailures, m.permissionChecks, m.sweepDeletedTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m != nil {
		m.loginAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SyncEventRecorded(operation string) {
	if m != nil {
		m.syncEvents.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) ConflictsDetected(n int) {
	if m != nil && n > 0 {
		m.conflictsDetected.Add(float64(n))
	}
}

func (m *Metrics) ConflictResolved(strategy string) {
	if m != nil {
		m.conflictsResolved.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *Metrics) PermissionCheck(allowed bool, source string) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.permissionChecks.WithLabelValues(decision, source).Inc()
}

func (m *Metrics) SweepDeleted(table string, n int64) {
	if m != nil && n > 0 {
		m.sweepDeletedTotal.WithLabelValues(table).Add(float64(n))
	}
}
