// Package metrics exposes Prometheus instrumentation for the backup
// engine, following the teacher's registration and Timer-helper pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilesScannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_files_scanned_total",
			Help: "Total number of source files examined by the classifier",
		},
		[]string{"storage_def"},
	)

	FilesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_files_uploaded_total",
			Help: "Total number of files uploaded as new physical objects",
		},
		[]string{"storage_def"},
	)

	FilesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_files_skipped_total",
			Help: "Total number of files skipped as unchanged",
		},
		[]string{"storage_def"},
	)

	FilesDuplicatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_files_duplicated_total",
			Help: "Total number of files recorded as duplicates of an existing digest",
		},
		[]string{"storage_def"},
	)

	FilesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_files_failed_total",
			Help: "Total number of files that failed classification or upload",
		},
		[]string{"storage_def", "stage"},
	)

	BitrotWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_bitrot_warnings_total",
			Help: "Total number of bitrot detections (mtime/size matched a prior record but digest differed)",
		},
		[]string{"storage_def"},
	)

	BytesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_bytes_uploaded_total",
			Help: "Total ciphertext bytes uploaded to object storage",
		},
		[]string{"storage_def"},
	)

	BytesRestoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_bytes_restored_total",
			Help: "Total plaintext bytes written during restore",
		},
		[]string{"storage_def"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atbu_object_store_retries_total",
			Help: "Total number of object-store call retries",
		},
		[]string{"storage_def", "operation"},
	)

	PipelineItemsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atbu_pipeline_items_in_flight",
			Help: "Number of work items currently advancing through the pipeline",
		},
		[]string{"storage_def"},
	)

	BackupRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atbu_backup_run_duration_seconds",
			Help:    "Wall-clock duration of a complete backup run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"storage_def", "backup_type"},
	)

	ClassifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atbu_classify_duration_seconds",
			Help:    "Duration of a single file's S1 classification stage",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atbu_upload_duration_seconds",
			Help:    "Duration of a single file's S2/S3 encrypt-and-upload stages",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(FilesScannedTotal)
	prometheus.MustRegister(FilesUploadedTotal)
	prometheus.MustRegister(FilesSkippedTotal)
	prometheus.MustRegister(FilesDuplicatedTotal)
	prometheus.MustRegister(FilesFailedTotal)
	prometheus.MustRegister(BitrotWarningsTotal)
	prometheus.MustRegister(BytesUploadedTotal)
	prometheus.MustRegister(BytesRestoredTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(PipelineItemsInFlight)
	prometheus.MustRegister(BackupRunDuration)
	prometheus.MustRegister(ClassifyDuration)
	prometheus.MustRegister(UploadDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
