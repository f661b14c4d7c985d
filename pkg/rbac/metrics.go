package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the authorization engine and role management.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Checks        *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheErrors   prometheus.Counter
	Mutations     *prometheus.CounterVec
	LookupLatency prometheus.Histogram
}

// NewMetrics creates and registers the RBAC metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_rbac_checks_total",
				Help: "Total number of permission checks by result",
			},
			[]string{"result"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tourdesk_rbac_cache_hits_total",
				Help: "Effective permission lookups served from cache",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tourdesk_rbac_cache_misses_total",
				Help: "Effective permission lookups that queried the store",
			},
		),
		CacheErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tourdesk_rbac_cache_errors_total",
				Help: "Permission cache operations that failed",
			},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourdesk_rbac_mutations_total",
				Help: "Role management mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		LookupLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tourdesk_rbac_lookup_duration_seconds",
				Help:    "Store latency of effective permission lookups",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.Checks,
			m.CacheHits,
			m.CacheMisses,
			m.CacheErrors,
			m.Mutations,
			m.LookupLatency,
		)
	}

	return m
}

func (m *Metrics) recordCheck(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.Checks.WithLabelValues("allowed").Inc()
	} else {
		m.Checks.WithLabelValues("denied").Inc()
	}
}

func (m *Metrics) recordCheckError() {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues("error").Inc()
}

func (m *Metrics) recordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) recordCacheError() {
	if m == nil {
		return
	}
	m.CacheErrors.Inc()
}

func (m *Metrics) recordMutation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Mutations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeLookup(start time.Time) {
	if m == nil {
		return
	}
	m.LookupLatency.Observe(time.Since(start).Seconds())
}
