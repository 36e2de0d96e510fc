package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Analysis metrics
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_analyses_total",
			Help: "Total number of crisis analyses by outcome",
		},
		[]string{"severity", "degraded"},
	)

	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Signal source metrics
	sourceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_source_calls_total",
			Help: "Total signal source invocations by status",
		},
		[]string{"source", "status"},
	)

	sourceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_source_latency_seconds",
			Help:    "Signal source inference latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"},
	)

	// Decision metrics
	conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_conflicts_total",
			Help: "Total detected signal conflicts by kind",
		},
		[]string{"kind"},
	)

	agreementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_agreement_total",
			Help: "Consensus agreement level distribution",
		},
		[]string{"level"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Alerts dispatched by kind",
		},
		[]string{"kind"},
	)

	configReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_config_reloads_total",
			Help: "Configuration reload attempts by result",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			analysesTotal,
			analysisDuration,
			sourceCallsTotal,
			sourceLatency,
			conflictsTotal,
			agreementTotal,
			alertsTotal,
			configReloadsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAnalysis records one completed analysis
func RecordAnalysis(severity string, degraded bool, duration time.Duration) {
	d := "false"
	if degraded {
		d = "true"
	}
	analysesTotal.WithLabelValues(severity, d).Inc()
	analysisDuration.Observe(duration.Seconds())
}

// RecordSourceCall records a signal source invocation
func RecordSourceCall(source, status string, latency time.Duration) {
	sourceCallsTotal.WithLabelValues(source, status).Inc()
	sourceLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordConflict records a detected conflict
func RecordConflict(kind string) {
	conflictsTotal.WithLabelValues(kind).Inc()
}

// RecordAgreement records the consensus agreement level
func RecordAgreement(level string) {
	agreementTotal.WithLabelValues(level).Inc()
}

// RecordAlert records a dispatched alert
func RecordAlert(kind string) {
	alertsTotal.WithLabelValues(kind).Inc()
}

// RecordConfigReload records a reload attempt
func RecordConfigReload(ok bool) {
	result := "rejected"
	if ok {
		result = "applied"
	}
	configReloadsTotal.WithLabelValues(result).Inc()
}
