package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ckptfs/pkg/backup/retry"
	"github.com/marmos91/ckptfs/pkg/metrics"
)

// retryMetrics is the Prometheus implementation of retry.Metrics.
type retryMetrics struct {
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
	ccae         *prometheus.GaugeVec
	discarded    *prometheus.CounterVec
}

// NewRetryMetrics creates a Prometheus-backed retry.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRetryMetrics() retry.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &retryMetrics{
		tasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_retry_task_runs_total",
				Help: "Total number of task runs by pool and outcome",
			},
			[]string{"pool", "status"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ckptfs_retry_task_duration_milliseconds",
				Help:    "Duration of task runs in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"pool"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ckptfs_retry_queue_depth",
				Help: "Number of queued and delayed tasks",
			},
			[]string{"pool"},
		),
		ccae: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ckptfs_retry_ccae_alarm",
				Help: "1 while the pool has raised its CCAE alarm",
			},
			[]string{"pool"},
		),
		discarded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_retry_discarded_tasks_total",
				Help: "Total number of tasks dropped after exhausting their retries",
			},
			[]string{"pool"},
		),
	}
}

func (m *retryMetrics) ObserveTask(pool string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !ok {
		status = statusError
	}
	m.tasks.WithLabelValues(pool, status).Inc()
	m.taskDuration.WithLabelValues(pool).Observe(float64(duration.Milliseconds()))
}

func (m *retryMetrics) RecordQueueDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(pool).Set(float64(depth))
}

func (m *retryMetrics) SetCCAE(pool string, raised bool) {
	if m == nil {
		return
	}
	v := 0.0
	if raised {
		v = 1
	}
	m.ccae.WithLabelValues(pool).Set(v)
}

func (m *retryMetrics) RecordDiscarded(pool string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(pool).Inc()
}
