// Package metrics provides internal metrics collection for the router
// daemon. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector collects the Prometheus metrics exposed at GET /metrics/cloud.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Fleet metrics
	nodesRegistered  prometheus.Gauge
	nodesOnline      prometheus.Gauge
	nodesOffline     prometheus.Gauge
	proxyRequests    *prometheus.CounterVec
	proxyLatency     *prometheus.HistogramVec
	selectionOutcome *prometheus.CounterVec

	// Download task metrics
	tasksByStatus *prometheus.GaugeVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Database metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec
}

// NewCollector creates and registers the metrics collector under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		nodesRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_registered",
			Help:      "Total number of registered nodes",
		}),
		nodesOnline: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_online",
			Help:      "Number of online nodes",
		}),
		nodesOffline: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_offline",
			Help:      "Number of offline nodes",
		}),

		proxyRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of inference proxy requests",
		}, []string{"request_type", "outcome"}),

		proxyLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Inference proxy request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 600},
		}, []string{"request_type"}),

		selectionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_selection_total",
			Help:      "Agent selection outcomes (capable vs round_robin vs no_agents)",
		}, []string{"strategy"}),

		tasksByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_tasks",
			Help:      "Current number of download tasks by status",
		}, []string{"status"}),

		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"cache_type"}),

		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"cache_type"}),

		dbConnectionsOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		}, []string{"database"}),

		dbConnectionsIdle: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		}, []string{"database"}),

		dbQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
	}

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetFleetSize updates the registered/online/offline node gauges.
func (c *Collector) SetFleetSize(total, online, offline int) {
	c.nodesRegistered.Set(float64(total))
	c.nodesOnline.Set(float64(online))
	c.nodesOffline.Set(float64(offline))
}

// RecordProxyRequest records the outcome of one proxied inference request.
func (c *Collector) RecordProxyRequest(requestType, outcome string, duration time.Duration) {
	c.proxyRequests.WithLabelValues(requestType, outcome).Inc()
	c.proxyLatency.WithLabelValues(requestType).Observe(duration.Seconds())
}

// RecordSelection records which selection strategy satisfied a request.
func (c *Collector) RecordSelection(strategy string) {
	c.selectionOutcome.WithLabelValues(strategy).Inc()
}

// SetTaskCounts updates the per-status download task gauges.
func (c *Collector) SetTaskCounts(counts map[string]int) {
	for status, n := range counts {
		c.tasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordCacheHit records a cache hit for cacheType.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for cacheType.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections records the current open/idle pool size.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one query's duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func statusClass(code int) string {
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
