package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedstash_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ExtractionsTotal counts post extractions by host and outcome.
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_extractions_total",
		Help: "Total number of post extractions by host and outcome",
	}, []string{"host", "outcome"})

	// DedupSkipsTotal counts content items dropped because an equivalent
	// row was already archived for the author.
	DedupSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedstash_dedup_skips_total",
		Help: "Total content items skipped by duplicate detection",
	})

	// DownloadsTotal counts content downloads by host and outcome.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_downloads_total",
		Help: "Total number of content downloads by host and outcome",
	}, []string{"host", "outcome"})

	// DownloadBytes counts bytes written to disk by host.
	DownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_download_bytes_total",
		Help: "Total bytes downloaded by host",
	}, []string{"host"})

	// DownloadDuration records per-item download duration by host.
	DownloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedstash_download_duration_seconds",
		Help:    "Content download duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"host"})

	// WorkersBusy is the per-pool gauge of workers currently holding an item.
	WorkersBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedstash_workers_busy",
		Help: "Number of pool workers currently processing an item",
	}, []string{"pool"})

	// RunsActive is the gauge of orchestration runs currently in flight.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedstash_runs_active",
		Help: "Number of orchestration runs currently in flight",
	})

	// RunsTotal counts finished orchestration runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_runs_total",
		Help: "Total finished orchestration runs by outcome",
	}, []string{"outcome"})

	// RunDuration records end-to-end orchestration run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedstash_run_duration_seconds",
		Help:    "End-to-end orchestration run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// ProgressSubscribers is the gauge of connected progress stream subscribers.
	ProgressSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedstash_progress_subscribers",
		Help: "Number of connected progress stream subscribers",
	})

	// ProgressEventsTotal counts progress events broadcast by type.
	ProgressEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedstash_progress_events_total",
		Help: "Total progress events broadcast by type",
	}, []string{"event_type"})
)

// Metric label values for extraction and download outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metric label values for the worker pools.
const (
	PoolExtraction = "extraction"
	PoolDownload   = "download"
)

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct {
	db *gorm.DB
}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics(db *gorm.DB) *DatabaseMetrics {
	return &DatabaseMetrics{db: db}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}

// RecordExtraction increments the extraction counter for the host.
func RecordExtraction(host string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	ExtractionsTotal.WithLabelValues(host, outcome).Inc()
}

// RecordDownload increments download counters for one finished item.
func RecordDownload(host string, bytes int64, elapsed time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	DownloadsTotal.WithLabelValues(host, outcome).Inc()
	if err == nil {
		DownloadBytes.WithLabelValues(host).Add(float64(bytes))
		DownloadDuration.WithLabelValues(host).Observe(elapsed.Seconds())
	}
}
