package runtime

import (
	"context"
	"fmt"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup"
	"github.com/marmos91/ckptfs/pkg/backup/ledger"
	"github.com/marmos91/ckptfs/pkg/backup/retry"
	"github.com/marmos91/ckptfs/pkg/config"
	"github.com/marmos91/ckptfs/pkg/memfs"
	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
	"github.com/marmos91/ckptfs/pkg/metrics/prometheus"
)

// init builds the components in dependency order. Every step stores its
// result on r before the next one runs so Close can release a partial
// runtime.
func (r *Runtime) init(ctx context.Context) error {
	cfg := r.cfg

	// 1. memfs
	allocator, err := poolAllocator(cfg.Memfs.Allocator)
	if err != nil {
		return err
	}
	r.mem = memfs.NewContext(memfs.ContextConfig{
		FileSystem: memfs.Config{
			BlockSize:    cfg.Memfs.BlockSize.Uint64(),
			BlockCount:   cfg.Memfs.BlockCount,
			MaxOpenFiles: cfg.Memfs.MaxOpenFiles,
		},
		Evictor: evictorConfig(cfg.Memfs),
	}, memfs.WithPoolAllocator(allocator), memfs.WithMetrics(prometheus.NewMemfsMetrics()))
	if err := r.mem.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize memfs: %w", err)
	}
	logger.Info("memfs initialized", "capacity", cfg.Memfs.Capacity().String(), "allocator", cfg.Memfs.Allocator)

	// 2. View ledger
	if cfg.Backup.Ledger.Enabled {
		r.ledger, err = ledger.Open(ledger.Options{
			Backend:      cfg.Backup.Ledger.Backend,
			Path:         cfg.Backup.Ledger.Path,
			SyncWrites:   cfg.Backup.Ledger.SyncWrites,
			DSN:          cfg.Backup.Ledger.DSN,
			MaxOpenConns: cfg.Backup.Ledger.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		if sizer, ok := r.ledger.(prometheus.LedgerSizer); ok {
			prometheus.RegisterLedgerMetrics(sizer)
		}
	}

	// 3. Targets
	r.targets, err = config.OpenTargets(ctx, cfg, prometheus.NewS3Metrics())
	if err != nil {
		return err
	}
	opts := []backup.Option{backup.WithMetrics(prometheus.NewBackupMetrics())}
	if r.ledger != nil {
		opts = append(opts, backup.WithLedger(r.ledger))
	}
	r.target = backup.NewBackupTarget(r.mem, backup.Config{
		Shards: backup.ShardConfig{
			MinShardSize: cfg.Backup.Shard.MinShardSize.Uint64(),
			MaxShards:    cfg.Backup.Shard.MaxShards,
		},
		StageMtimeTimeout: cfg.Backup.StageMtimeTimeout,
		StagePollInterval: cfg.Backup.StagePollInterval,
	}, opts...)
	if err := r.target.Initialize(r.targets...); err != nil {
		r.target = nil
		return fmt.Errorf("failed to initialize backup targets: %w", err)
	}
	// The backup target closes them from now on.
	r.targets = nil

	// 4. Retry pool
	rc := cfg.Backup.Retry
	r.pool = retry.NewPool(retry.Config{
		Name:                         rc.Name,
		Threads:                      rc.Threads,
		RetryTimes:                   rc.RetryTimes,
		RetryInterval:                rc.RetryInterval,
		MaxRetryInterval:             rc.MaxRetryInterval,
		FirstWait:                    rc.FirstWait,
		MaxFailCountForUnserviceable: rc.MaxFailCountForUnserviceable,
		AutoEvictFile:                rc.AutoEvictFile.Uint64(),
		WorkPath:                     cfg.WorkPath,
	}, r.mem, retry.WithMetrics(prometheus.NewRetryMetrics()))
	r.pool.Start(ctx)

	// 5. Initiator
	r.initiator = backup.NewMemFsBackupInitiator(r.mem, r.target, r.pool, backup.InitiatorConfig{
		ShardRetryTimes: cfg.Backup.ShardRetryTimes,
	})
	if err := r.mem.RegisterNotify(r.initiator); err != nil {
		return fmt.Errorf("failed to register backup initiator: %w", err)
	}
	r.mem.RegisterBackup(r.initiator.BackupForEviction)
	return nil
}

// poolAllocator maps the configured allocator name to a block pool
// allocator. "mmap" falls back to the heap where mmap is unavailable.
func poolAllocator(name string) (bmm.PoolAllocator, error) {
	switch name {
	case "", "mmap":
		return bmm.DefaultAllocator, nil
	case "heap":
		return bmm.HeapAllocator, nil
	default:
		return nil, fmt.Errorf("unknown memfs allocator %q", name)
	}
}

// evictorConfig converts the watermark setting. A watermark of 1 never
// triggers, so it disables the background loop.
func evictorConfig(c config.MemfsConfig) memfs.EvictorConfig {
	wm := c.EvictWatermark
	if wm >= 1 {
		wm = 0
	}
	return memfs.EvictorConfig{Watermark: wm, Interval: c.EvictInterval}
}
