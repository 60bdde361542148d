package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ckptfs/pkg/metrics"
	"github.com/marmos91/ckptfs/pkg/ufs/s3"
)

// s3Metrics is the Prometheus implementation of s3.Metrics.
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewS3Metrics creates a Prometheus-backed s3.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewS3Metrics() s3.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_s3_operations_total",
				Help: "Total number of S3 operations by store, operation type and status",
			},
			[]string{"store", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ckptfs_s3_operation_duration_milliseconds",
				Help: "Duration of S3 operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - fast metadata operations
					50,    // 50ms - small object operations
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s - medium objects
					5000,  // 5s - large objects
					10000, // 10s
					30000, // 30s - very large operations
				},
			},
			[]string{"store", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ckptfs_s3_bytes_transferred_total",
				Help: "Total bytes transferred via S3 operations",
			},
			[]string{"store", "direction"},
		),
	}
}

func (m *s3Metrics) ObserveRequest(store, operation string, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(store, operation, statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(store, operation).Observe(float64(duration.Milliseconds()))

	if err != nil || bytes <= 0 {
		return
	}
	switch operation {
	case "GetObject":
		m.bytesTransferred.WithLabelValues(store, "read").Add(float64(bytes))
	case "PutObject":
		m.bytesTransferred.WithLabelValues(store, "write").Add(float64(bytes))
	}
}
