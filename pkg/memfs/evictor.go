package memfs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
)

// BackupFunc synchronously persists one dirty file before the evictor drops
// it from memory.
type BackupFunc func(ctx context.Context, path string, inode uint64) error

// EvictorConfig controls background recycling.
type EvictorConfig struct {
	// Watermark is the fraction of used blocks above which the background
	// loop recycles down to the watermark. Zero disables the loop; the
	// allocation-failure hook still runs.
	Watermark float64

	// Interval between watermark checks.
	Interval time.Duration
}

// InodeEvictor frees memory by dropping cold, closed regular files.
//
// Eviction is backup-then-drop: a dirty file is first handed to the
// registered BackupFunc, then its name is unlinked and its blocks return to
// the pool. A later preload restores the file from the backup. The evictor
// never waits on an inode lock and skips files that are open or being
// written.
type InodeEvictor struct {
	fs  *FileSystem
	cfg EvictorConfig

	backupMu sync.RWMutex
	backup   BackupFunc

	passMu sync.Mutex

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewInodeEvictor creates an evictor for fs. Nothing runs until Initialize.
func NewInodeEvictor(fs *FileSystem, cfg EvictorConfig) *InodeEvictor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &InodeEvictor{fs: fs, cfg: cfg}
}

// SetBackup registers the function used for dirty candidates. Without one,
// dirty files are never evicted.
func (e *InodeEvictor) SetBackup(fn BackupFunc) {
	e.backupMu.Lock()
	defer e.backupMu.Unlock()
	e.backup = fn
}

func (e *InodeEvictor) backupFunc() BackupFunc {
	e.backupMu.RLock()
	defer e.backupMu.RUnlock()
	return e.backup
}

// Initialize hooks the evictor into block allocation and starts the
// watermark loop if configured.
func (e *InodeEvictor) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.fs.setReclaimer(func(need uint64) {
		if _, _, err := e.RecycleInodes(context.Background(), need); err != nil {
			logger.Warn("reclaim on allocation failure", logger.KeyError, err)
		}
	})

	e.stopCh = make(chan struct{})
	e.running = true
	if e.cfg.Watermark > 0 && e.cfg.Watermark < 1 {
		e.wg.Add(1)
		go e.loop()
	}
	return nil
}

// Destroy stops the loop and unhooks the evictor. It waits for a running
// pass to finish.
func (e *InodeEvictor) Destroy() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.fs.setReclaimer(nil)
}

func (e *InodeEvictor) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			target := e.overWatermark()
			if target == 0 {
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-e.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, _, err := e.RecycleInodes(ctx, target); err != nil {
				logger.Debug("watermark recycle", logger.KeyError, err)
			}
			cancel()
		}
	}
}

// overWatermark returns how many bytes must be freed to get back under the
// watermark, or zero.
func (e *InodeEvictor) overWatermark() uint64 {
	if !e.fs.Initialized() {
		return 0
	}
	blockSize, total := e.fs.ShareFileCfg()
	used := total - e.fs.FreeBlocks()
	limit := uint64(float64(total) * e.cfg.Watermark)
	if used <= limit {
		return 0
	}
	return (used - limit) * blockSize
}

// RecycleInodes evicts cold files until at least targetFreeBytes have been
// released or no candidate remains. It returns the bytes freed and the
// number of files evicted. The only error returned is ctx's.
func (e *InodeEvictor) RecycleInodes(ctx context.Context, targetFreeBytes uint64) (uint64, int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	candidates := e.fs.regularInodes()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Load() < candidates[j].lastAccess.Load()
	})

	backup := e.backupFunc()
	var freed uint64
	evicted := 0
	for _, in := range candidates {
		if freed >= targetFreeBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			observeEviction(e.fs.metrics, evicted, freed, time.Since(start))
			return freed, evicted, err
		}
		if in.openCount.Load() != 0 {
			continue
		}
		meta := in.Meta()
		if meta.Writing || meta.Nlink != 1 {
			continue
		}
		if meta.Dirty {
			if backup == nil {
				continue
			}
			p, err := e.fs.PathOf(in.id)
			if err != nil {
				continue
			}
			if err := backup(ctx, p, in.id); err != nil {
				logger.Warn("evictor backup failed", logger.KeyPath, p, logger.KeyInode, in.id, logger.KeyError, err)
				continue
			}
		}
		n, ok := e.fs.evictInode(in)
		if !ok {
			continue
		}
		freed += n
		evicted++
	}

	observeEviction(e.fs.metrics, evicted, freed, time.Since(start))
	if evicted > 0 {
		logger.Info("memfs recycled inodes",
			logger.KeyEvicted, evicted,
			logger.KeyFreed, freed,
			logger.KeyDurationMs, logger.Duration(start))
	}
	return freed, evicted, nil
}

// evictInode unlinks a clean, closed, single-link file and frees its blocks.
// It reports false without waiting if any lock is contended or the inode no
// longer qualifies.
func (fs *FileSystem) evictInode(in *Inode) (uint64, bool) {
	in.mu.RLock()
	parentID, name := in.parent, in.name
	in.mu.RUnlock()

	parent := fs.getInode(parentID)
	if parent == nil {
		return 0, false
	}
	unlock, ok := tryLockInodes(parent, in)
	if !ok {
		return 0, false
	}
	if in.removed || in.writing || in.dirty || in.nlink != 1 ||
		in.openCount.Load() != 0 || in.parent != parentID || !dentryIs(parent, name, in) {
		unlock()
		return 0, false
	}
	if _, err := parent.RemoveDentry(name); err != nil {
		unlock()
		return 0, false
	}
	in.removed = true
	in.nlink = 0
	freed := in.blocks.Capacity()
	unlock()

	fs.destroy(in)
	logger.Debug("memfs evicted inode", logger.KeyInode, in.id, logger.KeySize, freed)
	return freed, true
}
