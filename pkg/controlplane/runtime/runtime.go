package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup"
	"github.com/marmos91/ckptfs/pkg/backup/ledger"
	"github.com/marmos91/ckptfs/pkg/backup/retry"
	"github.com/marmos91/ckptfs/pkg/config"
	"github.com/marmos91/ckptfs/pkg/controlplane/runtime/lifecycle"
	"github.com/marmos91/ckptfs/pkg/memfs"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

// DefaultShutdownTimeout is the default time granted to queued backup work
// on shutdown.
const DefaultShutdownTimeout = lifecycle.DefaultShutdownTimeout

// AuxiliaryServer is an interface for auxiliary HTTP servers (API, Metrics)
// that are managed alongside the backup pipeline.
type AuxiliaryServer = lifecycle.AuxiliaryServer

// drainPollInterval is how often Drain checks the retry pool.
const drainPollInterval = 50 * time.Millisecond

var (
	// ErrTargetNotFound is returned for an unknown target name.
	ErrTargetNotFound = errors.New("target not found")

	// ErrSuspended is returned for work refused while the initiator is
	// suspended.
	ErrSuspended = errors.New("backup initiator is suspended")
)

// Runtime owns one memfs instance and the backup pipeline around it: the
// targets, the optional view ledger, the retry pool and the initiator that
// connects memfs events to the targets.
//
// Components are built in dependency order by New and released in reverse
// order by Close.
type Runtime struct {
	cfg *config.Config

	mem       *memfs.Context
	ledger    ledger.Store
	targets   []ufs.FileSystem
	target    *backup.BackupTarget
	pool      *retry.Pool
	initiator *backup.MemFsBackupInitiator

	lifecycleSvc *lifecycle.Service
	startedAt    time.Time

	closeOnce sync.Once
	closeErr  error
}

// New builds and starts every component described by cfg. On failure the
// components built so far are released.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{
		cfg:          cfg,
		lifecycleSvc: lifecycle.New(cfg.ShutdownTimeout),
		startedAt:    time.Now(),
	}
	if err := rt.init(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("Runtime initialized",
		"targets", len(rt.Targets()),
		"block_size", cfg.Memfs.BlockSize.String(),
		"block_count", cfg.Memfs.BlockCount,
		"ledger", rt.ledger != nil)
	return rt, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Memfs returns the memfs context.
func (r *Runtime) Memfs() *memfs.Context { return r.mem }

// BackupTarget returns the replication target set.
func (r *Runtime) BackupTarget() *backup.BackupTarget { return r.target }

// Pool returns the retry pool running backup work.
func (r *Runtime) Pool() *retry.Pool { return r.pool }

// Initiator returns the memfs event consumer.
func (r *Runtime) Initiator() *backup.MemFsBackupInitiator { return r.initiator }

// Ledger returns the view ledger, or nil when it is disabled.
func (r *Runtime) Ledger() ledger.Store { return r.ledger }

// Targets returns the under file systems in replication order.
func (r *Runtime) Targets() []ufs.FileSystem {
	if r.target == nil {
		return nil
	}
	return r.target.Targets()
}

// StartedAt returns the construction time of the runtime.
func (r *Runtime) StartedAt() time.Time { return r.startedAt }

// ============================================================================
// Lifecycle: Serve, shutdown
// ============================================================================

// SetAPIServer sets the REST API HTTP server for the runtime.
func (r *Runtime) SetAPIServer(server AuxiliaryServer) {
	r.lifecycleSvc.SetAPIServer(server)
}

// SetMetricsServer sets the Prometheus scrape server for the runtime.
func (r *Runtime) SetMetricsServer(server AuxiliaryServer) {
	r.lifecycleSvc.SetMetricsServer(server)
}

// Serve starts the auxiliary servers and blocks until ctx is cancelled.
// The runtime is closed when Serve returns.
func (r *Runtime) Serve(ctx context.Context) error {
	return r.lifecycleSvc.Serve(ctx, r, r)
}

// Drain suspends the initiator and waits up to timeout for the retry pool
// to empty before stopping it. Tasks still queued at the deadline are
// dropped and their files stay dirty in memfs.
func (r *Runtime) Drain(timeout time.Duration) {
	if r.initiator != nil {
		r.initiator.Mark()
	}
	if r.pool == nil {
		return
	}
	deadline := time.Now().Add(timeout)
	if pending := r.pool.Pending(); pending > 0 {
		logger.Info("Waiting for queued backup tasks", "pending", pending)
	}
	for r.pool.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
	r.pool.Stop(max(time.Until(deadline), time.Second))
}

// Close releases every component in reverse order of construction. It is
// safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.initiator != nil {
			r.initiator.Mark()
		}
		if r.pool != nil {
			r.pool.Stop(r.lifecycleSvc.ShutdownTimeout())
		}
		if r.target != nil {
			if err := r.target.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("destroy backup target: %w", err))
			}
		}
		config.CloseTargets(r.targets)
		if r.ledger != nil {
			if err := r.ledger.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close ledger: %w", err))
			}
		}
		if r.mem != nil {
			if err := r.mem.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("destroy memfs: %w", err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
