package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StorageOperationsTotal   *prometheus.CounterVec
	StorageReadFallbacks     prometheus.Counter
	BackupRunsTotal          *prometheus.CounterVec
	BackupSizeBytes          prometheus.Histogram
	BackupRetriesTotal       prometheus.Counter
	RateLimitRejectionsTotal *prometheus.CounterVec
	ErasureKeyFailuresTotal  prometheus.Counter
	ExportDurationSeconds    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		StorageOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finvault_storage_operations_total",
			Help: "Total encrypted store operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		StorageReadFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finvault_storage_read_fallbacks_total",
			Help: "Total reads that degraded to the caller-supplied default",
		}),
		BackupRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finvault_backup_runs_total",
			Help: "Total backup attempts by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		BackupSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finvault_backup_size_bytes",
			Help:    "Size of committed backup entries in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		BackupRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finvault_backup_retries_total",
			Help: "Total retried backup persistence attempts",
		}),
		RateLimitRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finvault_ratelimit_rejections_total",
			Help: "Total calls rejected by the fixed-window rate limiter",
		}, []string{"action"}),
		ErasureKeyFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finvault_erasure_key_failures_total",
			Help: "Total keys that failed to erase during compliance erasure",
		}),
		ExportDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "finvault_export_duration_seconds",
			Help: "Duration of full data exports in seconds",
		}),
	}
}

func (m *Metrics) IncStorageOp(operation, outcome string) {
	m.StorageOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncReadFallback() {
	m.StorageReadFallbacks.Inc()
}

func (m *Metrics) IncBackupRun(trigger, outcome string) {
	m.BackupRunsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) ObserveBackupSize(sizeBytes int) {
	m.BackupSizeBytes.Observe(float64(sizeBytes))
}

func (m *Metrics) IncBackupRetry() {
	m.BackupRetriesTotal.Inc()
}

func (m *Metrics) IncRateLimitRejection(action string) {
	m.RateLimitRejectionsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncErasureKeyFailure() {
	m.ErasureKeyFailuresTotal.Inc()
}

func (m *Metrics) ObserveExportDuration(seconds float64) {
	m.ExportDurationSeconds.Observe(seconds)
}
