package metrics

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("depflow", reg, zap.NewNop()), reg
}

// =============================================================================
// HTTP
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/tasks", 200, 10*time.Millisecond, 0, 512)
	c.RecordHTTPRequest("GET", "/api/v1/tasks", 201, 5*time.Millisecond, 0, 128)
	c.RecordHTTPRequest("POST", "/api/v1/tasks", 409, 5*time.Millisecond, 64, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tasks", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/tasks", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "status %d", code)
	}
}

// =============================================================================
// Graph observer
// =============================================================================

func TestCollector_ObserveOperation(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveOperation("AddDependency", time.Millisecond, nil)
	c.ObserveOperation("AddDependency", time.Millisecond, types.NewError(types.ErrCycleDetected, "cycle"))
	c.ObserveOperation("AddDependency", time.Millisecond, errors.New("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.graphOperationsTotal.WithLabelValues("AddDependency", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.graphOperationsTotal.WithLabelValues("AddDependency", "CYCLE_DETECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.graphOperationsTotal.WithLabelValues("AddDependency", "error")))
}

func TestCollector_CacheAndOverrides(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveCacheLookup("desc", true)
	c.ObserveCacheLookup("desc", true)
	c.ObserveCacheLookup("desc", false)
	c.ObserveOverride(types.OverrideForced, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("desc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("desc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.graphOverridesTotal.WithLabelValues("forced", "true")))
}

// =============================================================================
// Breaker and gauge functions
// =============================================================================

func TestCollector_BreakerTransitions(t *testing.T) {
	c, _ := newTestCollector(t)
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:          "graph-store",
		Threshold:     1,
		OnStateChange: c.ObserveBreakerTransition,
	}, nil)

	_ = cb.Call(t.Context(), func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("graph-store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerTransitions.WithLabelValues("graph-store", "closed", "open")))

	cb.Reset()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("graph-store")))
}

func TestCollector_RegisterCacheStats(t *testing.T) {
	c, reg := newTestCollector(t)
	bc, err := cache.New[string, []byte](cache.Config{MaxBytes: 100}, func(_ string, v []byte) int64 { return int64(len(v)) })
	require.NoError(t, err)
	c.RegisterCacheStats(bc.Statistics)

	require.NoError(t, bc.Set("a", make([]byte, 60)))
	require.NoError(t, bc.Set("b", make([]byte, 60)))

	expected := `
# HELP depflow_cache_entries Number of entries in the query cache
# TYPE depflow_cache_entries gauge
depflow_cache_entries 1
# HELP depflow_cache_evictions_total Total number of query cache evictions
# TYPE depflow_cache_evictions_total counter
depflow_cache_evictions_total 1
# HELP depflow_cache_size_bytes Accounted size of the query cache in bytes
# TYPE depflow_cache_size_bytes gauge
depflow_cache_size_bytes 60
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"depflow_cache_entries", "depflow_cache_evictions_total", "depflow_cache_size_bytes")
	assert.NoError(t, err)
}

func TestCollector_RegisterDBStats(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RegisterDBStats("primary", func() sql.DBStats { return sql.DBStats{OpenConnections: 4, Idle: 3} })

	expected := `
# HELP depflow_db_connections_idle Number of idle database connections
# TYPE depflow_db_connections_idle gauge
depflow_db_connections_idle{database="primary"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "depflow_db_connections_idle"))
}
