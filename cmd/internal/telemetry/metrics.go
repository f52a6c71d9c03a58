// Package telemetry exposes latch's Prometheus counters.
//
// All recording methods are nil-safe so services can run without metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "latch"

// Verification results.
const (
	ResultMatch     = "match"
	ResultMismatch  = "mismatch"
	ResultUnknown   = "unknown_account"
	ResultNoDigest  = "no_digest"
	ResultBadDigest = "invalid_digest"
	ResultError     = "error"
)

// Metrics groups every counter latch records.
type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	passwordSets  prometheus.Counter
	rehashes      prometheus.Counter
	sessionsBegun *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	sessionsEnded *prometheus.CounterVec
	sessionsSwept prometheus.Counter
}

// New registers latch's counters (plus Go and process collectors) on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers latch's counters on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "verifications_total",
			Help:      "Password verifications by result.",
		}, []string{"result"}),
		passwordSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "password_sets_total",
			Help:      "Password digests written.",
		}),
		rehashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "rehashes_total",
			Help:      "Digests upgraded to current parameters after a successful login.",
		}),
		sessionsBegun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "begun_total",
			Help:      "Sessions issued, by remember-me flag.",
		}, []string{"remember"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Token resolutions by resulting identity.",
		}, []string{"identity"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Session end requests by reason.",
		}, []string{"reason"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Expired sessions deactivated by the sweeper.",
		}),
	}

	reg.MustRegister(
		m.verifications,
		m.passwordSets,
		m.rehashes,
		m.sessionsBegun,
		m.resolutions,
		m.sessionsEnded,
		m.sessionsSwept,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) PasswordSet() {
	if m == nil {
		return
	}
	m.passwordSets.Inc()
}

func (m *Metrics) Rehash() {
	if m == nil {
		return
	}
	m.rehashes.Inc()
}

func (m *Metrics) SessionBegun(remember bool) {
	if m == nil {
		return
	}
	label := "false"
	if remember {
		label = "true"
	}
	m.sessionsBegun.WithLabelValues(label).Inc()
}

// Resolution records the identity kind a token resolved to ("error" on store failure).
func (m *Metrics) Resolution(kind string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}
