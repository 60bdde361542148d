package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ckptfs/pkg/backup"
	"github.com/marmos91/ckptfs/pkg/metrics"
)

// backupMetrics is the Prometheus implementation of backup.Metrics.
type backupMetrics struct {
	uploads         *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	uploadBytes     *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	stageConflicts  *prometheus.CounterVec
	preloads        *prometheus.CounterVec
	preloadDuration prometheus.Histogram
	preloadBytes    prometheus.Counter
	preloadShards   prometheus.Histogram
}

// NewBackupMetrics creates a Prometheus-backed backup.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBackupMetrics() backup.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &backupMetrics{
		uploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_uploads_total",
				Help: "Total number of upload attempts by target and status",
			},
			[]string{"target", "status"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ckptfs_backup_upload_duration_milliseconds",
				Help:    "Duration of uploads in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"target"},
		),
		uploadBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_uploaded_bytes_total",
				Help: "Total bytes committed to each target",
			},
			[]string{"target"},
		),
		skipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_uploads_skipped_total",
				Help: "Total number of uploads skipped because the target already held the version",
			},
			[]string{"target"},
		),
		stageConflicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_stage_conflicts_total",
				Help: "Total number of uploads that found a stage owned by another writer",
			},
			[]string{"target"},
		),
		preloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_preloads_total",
				Help: "Total number of finished preloads by status",
			},
			[]string{"status"},
		),
		preloadDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ckptfs_backup_preload_duration_milliseconds",
				Help:    "Duration of preloads in milliseconds",
				Buckets: durationBuckets,
			},
		),
		preloadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ckptfs_backup_preloaded_bytes_total",
				Help: "Total bytes loaded into memfs by successful preloads",
			},
		),
		preloadShards: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ckptfs_backup_preload_shards",
				Help:    "Number of shards per preload",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
	}
}

func (m *backupMetrics) ObserveUpload(target string, bytes uint64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(target, statusOf(err)).Inc()
	m.uploadDuration.WithLabelValues(target).Observe(float64(duration.Milliseconds()))
	if err == nil {
		m.uploadBytes.WithLabelValues(target).Add(float64(bytes))
	}
}

func (m *backupMetrics) RecordUploadSkipped(target string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(target).Inc()
}

func (m *backupMetrics) RecordStageConflict(target string) {
	if m == nil {
		return
	}
	m.stageConflicts.WithLabelValues(target).Inc()
}

func (m *backupMetrics) ObservePreload(bytes uint64, shards int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.preloads.WithLabelValues(statusOf(err)).Inc()
	m.preloadDuration.Observe(float64(duration.Milliseconds()))
	m.preloadShards.Observe(float64(shards))
	if err == nil {
		m.preloadBytes.Add(float64(bytes))
	}
}
