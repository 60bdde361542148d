package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ckptfs/pkg/memfs"
	"github.com/marmos91/ckptfs/pkg/metrics"
)

// memfsMetrics is the Prometheus implementation of memfs.Metrics.
type memfsMetrics struct {
	operations        *prometheus.CounterVec
	blocks            *prometheus.GaugeVec
	openFiles         prometheus.Gauge
	evictionPasses    prometheus.Counter
	evictedFiles      prometheus.Counter
	evictedBytes      prometheus.Counter
	evictionDurations prometheus.Histogram
}

// NewMemfsMetrics creates a Prometheus-backed memfs.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewMemfsMetrics() memfs.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &memfsMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_memfs_operations_total",
				Help: "Total number of memfs namespace operations by operation and result errno",
			},
			[]string{"operation", "status"},
		),
		blocks: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ckptfs_memfs_blocks",
				Help: "Number of memfs pool blocks by state",
			},
			[]string{"state"}, // "used", "free"
		),
		openFiles: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ckptfs_memfs_open_files",
				Help: "Number of allocated memfs file descriptors",
			},
		),
		evictionPasses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ckptfs_memfs_eviction_passes_total",
				Help: "Total number of eviction passes",
			},
		),
		evictedFiles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ckptfs_memfs_evicted_files_total",
				Help: "Total number of files dropped from memory by the evictor",
			},
		),
		evictedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ckptfs_memfs_evicted_bytes_total",
				Help: "Total bytes returned to the pool by the evictor",
			},
		),
		evictionDurations: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ckptfs_memfs_eviction_duration_milliseconds",
				Help:    "Duration of eviction passes in milliseconds",
				Buckets: durationBuckets,
			},
		),
	}
}

func (m *memfsMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, errnoLabel(err)).Inc()
}

func (m *memfsMetrics) RecordBlocks(used, free uint64) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues("used").Set(float64(used))
	m.blocks.WithLabelValues("free").Set(float64(free))
}

func (m *memfsMetrics) RecordOpenFiles(n int) {
	if m == nil {
		return
	}
	m.openFiles.Set(float64(n))
}

func (m *memfsMetrics) ObserveEviction(files int, bytes uint64, duration time.Duration) {
	if m == nil {
		return
	}
	m.evictionPasses.Inc()
	m.evictedFiles.Add(float64(files))
	m.evictedBytes.Add(float64(bytes))
	m.evictionDurations.Observe(float64(duration.Milliseconds()))
}
