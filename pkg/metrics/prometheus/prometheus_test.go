package prometheus

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/metrics"
)

// withRegistry gives a test its own enabled registry.
func withRegistry(t *testing.T) {
	t.Helper()
	metrics.Reset()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)
}

func TestConstructorsReturnNilWhenDisabled(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, NewMemfsMetrics())
	assert.Nil(t, NewRetryMetrics())
	assert.Nil(t, NewBackupMetrics())
	assert.Nil(t, NewS3Metrics())
	RegisterLedgerMetrics(fixedSizer{})
}

func TestMemfsMetrics(t *testing.T) {
	withRegistry(t)
	m := NewMemfsMetrics().(*memfsMetrics)

	m.ObserveOperation("create", nil)
	m.ObserveOperation("create", fserrors.NewNoSpaceError(4, 1))
	m.ObserveOperation("create", errors.New("opaque"))
	m.RecordBlocks(3, 5)
	m.RecordOpenFiles(2)
	m.ObserveEviction(2, 4096, 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "ENOSPC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "EIO")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.blocks.WithLabelValues("used")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.blocks.WithLabelValues("free")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openFiles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evictedFiles))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.evictedBytes))
}

func TestRetryMetrics(t *testing.T) {
	withRegistry(t)
	m := NewRetryMetrics().(*retryMetrics)

	m.ObserveTask("backup", true, time.Millisecond)
	m.ObserveTask("backup", false, time.Millisecond)
	m.ObserveTask("backup", false, time.Millisecond)
	m.RecordQueueDepth("backup", 7)
	m.SetCCAE("backup", true)
	m.RecordDiscarded("backup")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("backup", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("backup", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("backup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ccae.WithLabelValues("backup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discarded.WithLabelValues("backup")))

	m.SetCCAE("backup", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ccae.WithLabelValues("backup")))
}

func TestBackupMetrics(t *testing.T) {
	withRegistry(t)
	m := NewBackupMetrics().(*backupMetrics)

	m.ObserveUpload("s3", 100, time.Millisecond, nil)
	m.ObserveUpload("s3", 50, time.Millisecond, syscall.EIO)
	m.RecordUploadSkipped("s3")
	m.RecordStageConflict("local")
	m.ObservePreload(64, 4, time.Millisecond, nil)
	m.ObservePreload(64, 4, time.Millisecond, syscall.EIO)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("s3", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("s3", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.uploadBytes.WithLabelValues("s3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("s3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageConflicts.WithLabelValues("local")))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.preloadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.preloads.WithLabelValues("error")))
}

func TestS3Metrics(t *testing.T) {
	withRegistry(t)
	m := NewS3Metrics().(*s3Metrics)

	m.ObserveRequest("remote", "PutObject", 10, time.Millisecond, nil)
	m.ObserveRequest("remote", "GetObject", 4, time.Millisecond, nil)
	m.ObserveRequest("remote", "GetObject", 4, time.Millisecond, errors.New("boom"))
	m.ObserveRequest("remote", "HeadObject", 0, time.Millisecond, nil)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("remote", "write")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("remote", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("remote", "GetObject", "error")))
}

type fixedSizer struct{}

func (fixedSizer) Size() (int64, int64) { return 11, 22 }

func TestLedgerMetrics(t *testing.T) {
	withRegistry(t)
	RegisterLedgerMetrics(fixedSizer{})

	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "ckptfs_ledger_size_bytes" {
			continue
		}
		for _, m := range f.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"lsm": 11, "vlog": 22}, got)
}
