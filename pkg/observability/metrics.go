package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission resolver metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec
	BatchFilterDuration prometheus.Histogram
	BatchFilterNodes    prometheus.Histogram
	DecisionCacheHits   *prometheus.CounterVec
	DecisionCacheMisses *prometheus.CounterVec

	// Hierarchy metrics
	HierarchyOpsTotal   *prometheus.CounterVec
	HierarchyOpDuration *prometheus.HistogramVec

	// Policy metrics
	PolicyWritesTotal  *prometheus.CounterVec
	PoliciesSweptTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_access_checks_total",
				Help: "Total number of permission checks by outcome and rule source",
			},
			[]string{"outcome", "source"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_access_check_duration_seconds",
				Help:    "Single permission check duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"action"},
		),
		BatchFilterDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trellis_batch_filter_duration_seconds",
				Help:    "Batch visibility filter duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		BatchFilterNodes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trellis_batch_filter_nodes",
				Help:    "Number of candidate nodes per batch filter call",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		DecisionCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_decision_cache_hits_total",
				Help: "Total number of decision cache hits",
			},
			[]string{"backend"},
		),
		DecisionCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_decision_cache_misses_total",
				Help: "Total number of decision cache misses",
			},
			[]string{"backend"},
		),

		HierarchyOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_hierarchy_operations_total",
				Help: "Total number of hierarchy store operations",
			},
			[]string{"operation", "status"},
		),
		HierarchyOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_hierarchy_operation_duration_seconds",
				Help:    "Hierarchy store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		PolicyWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_policy_writes_total",
				Help: "Total number of policy mutations",
			},
			[]string{"operation", "status"},
		),
		PoliciesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_policies_swept_total",
				Help: "Total number of expired policies physically removed",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.BatchFilterDuration,
		m.BatchFilterNodes,
		m.DecisionCacheHits,
		m.DecisionCacheMisses,
		m.HierarchyOpsTotal,
		m.HierarchyOpDuration,
		m.PolicyWritesTotal,
		m.PoliciesSweptTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveAccessCheck records the outcome of one permission check.
func (m *Metrics) ObserveAccessCheck(action string, allowed bool, source string, duration time.Duration) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.AccessChecksTotal.WithLabelValues(outcome, source).Inc()
	m.AccessCheckDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveBatchFilter records one batch filter call.
func (m *Metrics) ObserveBatchFilter(candidates int, duration time.Duration) {
	m.BatchFilterNodes.Observe(float64(candidates))
	m.BatchFilterDuration.Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// CollectDBStats copies connection pool stats into the gauges. Meant
// to be called periodically.
func (m *Metrics) CollectDBStats(open, idle int) {
	m.DBConnectionsActive.Set(float64(open - idle))
	m.DBConnectionsIdle.Set(float64(idle))
}
