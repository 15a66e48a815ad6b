package metrics

import (
	"database/sql"
	"time"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector records depflow metrics.
type Collector struct {
	namespace string
	factory   promauto.Factory

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Graph engine
	graphOperationsTotal   *prometheus.CounterVec
	graphOperationDuration *prometheus.HistogramVec
	graphOverridesTotal    *prometheus.CounterVec

	// Query cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Circuit breaker
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metrics on reg. A nil reg uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		namespace: namespace,
		factory:   factory,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.graphOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_operations_total",
			Help:      "Total number of graph engine operations by result code",
		},
		[]string{"operation", "code"},
	)

	// Engine operations target sub-50ms at the 95th percentile.
	c.graphOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_operation_duration_seconds",
			Help:      "Graph engine operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"operation"},
	)

	c.graphOverridesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_overrides_total",
			Help:      "Total number of emergency dependency overrides",
		},
		[]string{"action", "cycle_introduced"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of query cache hits",
		},
		[]string{"query"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of query cache misses",
		},
		[]string{"query"},
	)

	c.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// HTTP
// =============================================================================

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// Graph engine (graph.Observer)
// =============================================================================

// ObserveOperation implements graph.Observer.
func (c *Collector) ObserveOperation(op string, duration time.Duration, err error) {
	code := "ok"
	if err != nil {
		code = string(types.GetErrorCode(err))
		if code == "" {
			code = "error"
		}
	}
	c.graphOperationsTotal.WithLabelValues(op, code).Inc()
	c.graphOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveCacheLookup implements graph.Observer.
func (c *Collector) ObserveCacheLookup(query string, hit bool) {
	if hit {
		c.cacheHits.WithLabelValues(query).Inc()
		return
	}
	c.cacheMisses.WithLabelValues(query).Inc()
}

// ObserveOverride implements graph.Observer.
func (c *Collector) ObserveOverride(action types.OverrideAction, cycleIntroduced bool) {
	cycle := "false"
	if cycleIntroduced {
		cycle = "true"
	}
	c.graphOverridesTotal.WithLabelValues(string(action), cycle).Inc()
}

// =============================================================================
// Circuit breaker
// =============================================================================

// ObserveBreakerTransition matches circuitbreaker.Config.OnStateChange.
func (c *Collector) ObserveBreakerTransition(name string, from, to circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
	c.breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	c.logger.Debug("breaker transition recorded",
		zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
}

// =============================================================================
// Gauge functions
// =============================================================================

// RegisterCacheStats exports the query cache's statistics, read on every scrape.
func (c *Collector) RegisterCacheStats(stats func() cache.Statistics) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "cache_size_bytes",
		Help:      "Accounted size of the query cache in bytes",
	}, func() float64 { return float64(stats().CurrentSize) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "cache_max_bytes",
		Help:      "Byte budget of the query cache",
	}, func() float64 { return float64(stats().MaxBytes) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "cache_entries",
		Help:      "Number of entries in the query cache",
	}, func() float64 { return float64(stats().Entries) })

	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of query cache evictions",
	}, func() float64 { return float64(stats().Evictions) })
}

// RegisterDBStats exports connection pool gauges for the named database.
func (c *Collector) RegisterDBStats(database string, stats func() sql.DBStats) {
	labels := prometheus.Labels{"database": database}

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Name:        "db_connections_open",
		Help:        "Number of open database connections",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().OpenConnections) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Name:        "db_connections_idle",
		Help:        "Number of idle database connections",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Idle) })
}

// =============================================================================
// Helpers
// =============================================================================

// statusCode buckets an HTTP status into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
