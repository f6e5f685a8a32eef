package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tenancy metrics
	TenantResolutionsTotal *prometheus.CounterVec

	// Auth metrics
	AuthOperationsTotal      *prometheus.CounterVec
	RefreshTokensPurgedTotal prometheus.Counter

	// Permission metrics
	PermissionChecksTotal *prometheus.CounterVec

	// Billing sweep metrics
	SweepRunsTotal       *prometheus.CounterVec
	SweepCandidatesTotal *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_tenant_resolutions_total",
				Help: "Tenant resolutions by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		AuthOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_auth_operations_total",
				Help: "Staff authentication operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RefreshTokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clinicore_refresh_tokens_purged_total",
				Help: "Expired refresh tokens deleted by housekeeping",
			},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_permission_checks_total",
				Help: "Module permission checks by result",
			},
			[]string{"module", "action", "result"},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_subscription_sweep_runs_total",
				Help: "Subscription sweep runs by status",
			},
			[]string{"status"},
		),
		SweepCandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicore_subscription_sweep_candidates_total",
				Help: "Subscription sweep candidates by sweep and result",
			},
			[]string{"sweep", "result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clinicore_subscription_sweep_duration_seconds",
				Help:    "Duration of a full subscription sweep",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TenantResolutionsTotal,
		m.AuthOperationsTotal,
		m.RefreshTokensPurgedTotal,
		m.PermissionChecksTotal,
		m.SweepRunsTotal,
		m.SweepCandidatesTotal,
		m.SweepDuration,
	)

	return m
}

// RegisterGaugeFunc registers a gauge whose value is read on every scrape
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTenantResolution records where a tenant came from and whether it resolved
func (m *Metrics) RecordTenantResolution(source, outcome string) {
	if m == nil {
		return
	}
	m.TenantResolutionsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordAuthOperation records the outcome of a login, refresh, logout or password operation
func (m *Metrics) RecordAuthOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRefreshTokensPurged adds to the purged token counter
func (m *Metrics) RecordRefreshTokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RefreshTokensPurgedTotal.Add(float64(n))
}

// RecordPermissionCheck records a permission decision
func (m *Metrics) RecordPermissionCheck(module, action string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(module, action, result).Inc()
}

// RecordSweep records a finished sweep run
func (m *Metrics) RecordSweep(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordSweepCandidates adds per-sweep candidate results
func (m *Metrics) RecordSweepCandidates(sweep string, applied, failed int) {
	if m == nil {
		return
	}
	m.SweepCandidatesTotal.WithLabelValues(sweep, "applied").Add(float64(applied))
	m.SweepCandidatesTotal.WithLabelValues(sweep, "failed").Add(float64(failed))
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
