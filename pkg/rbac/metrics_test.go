package rbac

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.recordCheck(true)
		m.recordCheckError()
		m.recordCache(false)
		m.recordCacheError()
		m.recordMutation("create_role", nil)
		m.observeLookup(time.Now())
	})
}

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.recordCheck(true)
	m.recordCheck(true)
	m.recordCheck(false)
	m.recordCheckError()
	m.recordCache(true)
	m.recordCache(false)
	m.recordCacheError()
	m.recordMutation("assign_role", nil)
	m.recordMutation("assign_role", errors.New("boom"))
	m.observeLookup(time.Now())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Checks.WithLabelValues("allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checks.WithLabelValues("denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checks.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Mutations.WithLabelValues("assign_role", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Mutations.WithLabelValues("assign_role", "error")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "tourdesk_rbac_lookup_duration_seconds")
	assert.Contains(t, names, "tourdesk_rbac_checks_total")
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m)
	m.recordCheck(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checks.WithLabelValues("allowed")))
}
