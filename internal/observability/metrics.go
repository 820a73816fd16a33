// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is used when NewMetrics receives an empty namespace.
const DefaultNamespace = "signal_lab"

// Metrics holds all Prometheus metrics for the application.
// All Record* methods are safe on a nil receiver so components can run unwired.
type Metrics struct {
	registry prometheus.Gatherer

	// Pipeline metrics
	PipelineRunsTotal      *prometheus.CounterVec
	PipelineDuration       prometheus.Histogram
	ItemsTotal             *prometheus.CounterVec
	RunnerConfidence       prometheus.Histogram
	ProgressEventsDropped  prometheus.Counter
	LastSuccessfulPipeline prometheus.Gauge

	// Source metrics
	SourceCalls   *prometheus.CounterVec
	SourceLatency *prometheus.HistogramVec
	SourceRetries *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	CacheLookups  *prometheus.CounterVec

	// Feed metrics
	FeedMessages   *prometheus.CounterVec
	FeedReconnects prometheus.Counter

	// Notification metrics
	AlertsSent *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewMetricsWith(namespace, reg, reg)
}

// NewMetricsWith registers metrics on reg and serves them from gatherer.
func NewMetricsWith(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: gatherer,

		PipelineRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by entry point and status",
		}, []string{"entry", "status"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Total number of pipeline items by outcome",
		}, []string{"outcome"}),
		RunnerConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runner_confidence",
			Help:      "Distribution of computed runner confidence",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		ProgressEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "progress_events_dropped_total",
			Help:      "Progress events dropped because the observer buffer was full",
		}),
		LastSuccessfulPipeline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pipeline_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),

		SourceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "source_calls_total",
			Help:      "Total number of enrichment source calls by result",
		}, []string{"source", "result"}),
		SourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "source_latency_seconds",
			Help:      "Enrichment source call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		SourceRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "source_retries_total",
			Help:      "Total number of retried source calls by reason",
		}, []string{"source", "reason"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		}, []string{"source"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by source and result",
		}, []string{"source", "result"}),

		FeedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Inbound feed messages by result",
		}, []string{"result"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),

		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "alerts_total",
			Help:      "Alerts delivered by notifier and result",
		}, []string{"notifier", "result"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPipelineRun records a finished pipeline run.
func (m *Metrics) RecordPipelineRun(entry, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(entry, status).Inc()
	m.PipelineDuration.Observe(d.Seconds())
	if status == "complete" {
		m.LastSuccessfulPipeline.Set(float64(time.Now().Unix()))
	}
}

// RecordItem records one pipeline item outcome.
func (m *Metrics) RecordItem(outcome string, confidence float64) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
	if outcome == "enriched" || outcome == "degraded" {
		m.RunnerConfidence.Observe(confidence)
	}
}

// RecordProgressDropped counts a progress event the observer could not take.
func (m *Metrics) RecordProgressDropped() {
	if m == nil {
		return
	}
	m.ProgressEventsDropped.Inc()
}

// RecordSourceCall records a source call result and latency.
func (m *Metrics) RecordSourceCall(source, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceCalls.WithLabelValues(source, result).Inc()
	m.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordSourceRetry counts a retry of a source call.
func (m *Metrics) RecordSourceRetry(source, reason string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(source, reason).Inc()
}

// SetBreakerState publishes a circuit breaker state.
func (m *Metrics) SetBreakerState(source string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(source).Set(float64(state))
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(source string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(source, result).Inc()
}

// RecordFeedMessage records an inbound feed message result (accepted, malformed).
func (m *Metrics) RecordFeedMessage(result string) {
	if m == nil {
		return
	}
	m.FeedMessages.WithLabelValues(result).Inc()
}

// RecordFeedReconnect counts a feed reconnect attempt.
func (m *Metrics) RecordFeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// RecordAlert records an alert delivery.
func (m *Metrics) RecordAlert(notifier string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.AlertsSent.WithLabelValues(notifier, result).Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
