package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/ckptfs/pkg/metrics"
)

// LedgerSizer reports the on-disk footprint of the view ledger.
// The badger backend implements it.
type LedgerSizer interface {
	Size() (lsm, vlog int64)
}

// RegisterLedgerMetrics exports the BadgerDB LSM and value log sizes of l.
// The gauges are read at scrape time. Does nothing when metrics are not
// enabled.
func RegisterLedgerMetrics(l LedgerSizer) {
	if !metrics.IsEnabled() || l == nil {
		return
	}

	reg := metrics.GetRegistry()

	for _, part := range []string{"lsm", "vlog"} {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "ckptfs_ledger_size_bytes",
				Help:        "BadgerDB size of the view ledger by component",
				ConstLabels: prometheus.Labels{"component": part},
			},
			func() float64 {
				lsm, vlog := l.Size()
				if part == "lsm" {
					return float64(lsm)
				}
				return float64(vlog)
			},
		)
	}
}
