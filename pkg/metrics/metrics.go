package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Fetch Metrics
	FetchDuration    prometheus.Histogram
	FetchErrorsTotal *prometheus.CounterVec

	// Ingestion Metrics
	RowsParsedTotal      prometheus.Counter
	RowsMalformedTotal   prometheus.Counter
	RecordsIngestedTotal *prometheus.CounterVec
	RecordsRejectedTotal *prometheus.CounterVec
	IngestionDuration    prometheus.Histogram
	IngestionRunsTotal   *prometheus.CounterVec

	// Aggregation Metrics
	AggregationDuration    *prometheus.HistogramVec
	AggregatesWrittenTotal *prometheus.CounterVec

	// Cache Metrics
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
	CacheKeysInvalidated    prometheus.Counter

	// Queue Metrics
	QueueDepth prometheus.Gauge
	TasksTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Duration of upstream source fetches in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		FetchErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_errors_total",
				Help:      "Total number of upstream fetch failures by reason",
			},
			[]string{"reason"},
		),

		RowsParsedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_parsed_total",
				Help:      "Total number of source data rows parsed",
			},
		),

		RowsMalformedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_malformed_total",
				Help:      "Total number of structurally malformed source rows skipped",
			},
		),

		RecordsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_ingested_total",
				Help:      "Total number of records persisted by upsert outcome",
			},
			[]string{"outcome"}, // "created", "updated", "unchanged"
		),

		RecordsRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_rejected_total",
				Help:      "Total number of candidate records rejected by reason",
			},
			[]string{"reason"},
		),

		IngestionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of ingestion runs in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		IngestionRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_runs_total",
				Help:      "Total number of ingestion runs by terminal status",
			},
			[]string{"status"},
		),

		AggregationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of aggregate recomputation in seconds by granularity",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
			},
			[]string{"aggregate_type"},
		),

		AggregatesWrittenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregates_written_total",
				Help:      "Total number of aggregate rows written by granularity",
			},
			[]string{"aggregate_type"},
		),

		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
		),

		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
		),

		CacheInvalidationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Total number of prefix invalidation calls",
			},
		),

		CacheKeysInvalidated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_keys_invalidated_total",
				Help:      "Total number of cache keys removed by invalidation",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "work_queue_depth",
				Help:      "Number of tasks waiting in the work queue",
			},
		),

		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "work_tasks_total",
				Help:      "Total number of work-queue tasks by kind and result",
			},
			[]string{"kind", "result"}, // result: "ok", "error", "retried", "dropped"
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordFetchError increments fetch error counter
func (c *Collector) RecordFetchError(reason string) {
	c.FetchErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordUpsertOutcome increments the ingested-records counter
func (c *Collector) RecordUpsertOutcome(outcome string) {
	c.RecordsIngestedTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection increments the rejection counter
func (c *Collector) RecordRejection(reason string) {
	c.RecordsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordTask increments the work-queue task counter
func (c *Collector) RecordTask(kind, result string) {
	c.TasksTotal.WithLabelValues(kind, result).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
