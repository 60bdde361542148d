package backup

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/internal/telemetry"
	"github.com/marmos91/ckptfs/pkg/backup/retry"
	"github.com/marmos91/ckptfs/pkg/memfs"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

const (
	defaultShardRetryTimes = 3
	defaultMemfsDirMode    = 0o755

	// pathLockStripes is the number of locks serializing the tasks of a path.
	pathLockStripes = 64
)

// InitiatorConfig configures a MemFsBackupInitiator.
type InitiatorConfig struct {
	// ShardRetryTimes is the number of attempts a preload shard gets before
	// the whole preload fails.
	ShardRetryTimes int

	// DirMode is used for memfs directories created by a preload.
	DirMode uint32
}

// fileRecord is the last identity seen for a path.
type fileRecord struct {
	inode      uint64
	generation uint64
	uploaded   uint64
}

// MemFsBackupInitiator turns memfs events into backup work. A writable open
// announces a new version with a stage file, the matching close uploads it,
// and a new link does both. PreloadFileNotify goes the other way and loads a
// UFS file into memfs in parallel shards.
//
// All scheduled work runs on the retry pool and is checked against the
// current inode and generation of its path when it runs, so work for a
// superseded version completes without doing anything.
type MemFsBackupInitiator struct {
	*Mover

	mem    MemFS
	target *BackupTarget
	pool   *retry.Pool
	cfg    InitiatorConfig

	marked atomic.Bool

	// pathLocks keeps the stage and upload tasks of one path from running
	// on two workers at once.
	pathLocks [pathLockStripes]sync.Mutex

	mu         sync.Mutex
	files      map[string]fileRecord
	preloading map[string]struct{}
}

var (
	_ memfs.FileOpNotify  = (*MemFsBackupInitiator)(nil)
	_ memfs.CloseNotifier = (*MemFsBackupInitiator)(nil)
)

// NewMemFsBackupInitiator returns an initiator that schedules work for
// target on pool.
func NewMemFsBackupInitiator(mem MemFS, target *BackupTarget, pool *retry.Pool, cfg InitiatorConfig) *MemFsBackupInitiator {
	if cfg.ShardRetryTimes <= 0 {
		cfg.ShardRetryTimes = defaultShardRetryTimes
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = defaultMemfsDirMode
	}
	return &MemFsBackupInitiator{
		Mover:      target.Mover(),
		mem:        mem,
		target:     target,
		pool:       pool,
		cfg:        cfg,
		files:      make(map[string]fileRecord),
		preloading: make(map[string]struct{}),
	}
}

// Mark suspends the initiator. Notifications are accepted and ignored until
// Unmark.
func (i *MemFsBackupInitiator) Mark() { i.marked.Store(true) }

// Unmark resumes the initiator.
func (i *MemFsBackupInitiator) Unmark() { i.marked.Store(false) }

// Marked reports whether the initiator is suspended.
func (i *MemFsBackupInitiator) Marked() bool { return i.marked.Load() }

// Generation returns the current generation of path.
func (i *MemFsBackupInitiator) Generation(path string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.files[path].generation
}

// record starts a new generation of path owned by inode. A path seen for
// the first time continues from the newest generation any target recorded.
func (i *MemFsBackupInitiator) record(path string, inode uint64) FileTrace {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.files[path]
	if !ok {
		r.generation = i.recordedGeneration(path)
	}
	r.inode = inode
	r.generation++
	i.files[path] = r
	return NewFileTrace(path, r.generation)
}

func (i *MemFsBackupInitiator) recordedGeneration(path string) uint64 {
	var gen uint64
	for _, u := range i.target.Targets() {
		if v := i.target.View(u.Name()); v != nil {
			if e, ok := v.Lookup(path); ok && e.Generation > gen {
				gen = e.Generation
			}
		}
	}
	return gen
}

// traceOf returns the current trace of path, starting one if inode is new.
func (i *MemFsBackupInitiator) traceOf(path string, inode uint64) FileTrace {
	i.mu.Lock()
	r, ok := i.files[path]
	i.mu.Unlock()
	if ok && r.inode == inode {
		return NewFileTrace(path, r.generation)
	}
	return i.record(path, inode)
}

// superseded reports whether work for trace on inode is out of date.
func (i *MemFsBackupInitiator) superseded(trace FileTrace, inode uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.files[trace.Path]
	return !ok || r.inode != inode || r.generation != trace.Generation
}

// markUploaded records that generation of path reached every target.
func (i *MemFsBackupInitiator) markUploaded(trace FileTrace) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if r, ok := i.files[trace.Path]; ok && trace.Generation > r.uploaded {
		r.uploaded = trace.Generation
		i.files[trace.Path] = r
	}
}

// pendingTrace returns the trace of the write on inode that opened path,
// if that version has not been uploaded.
func (i *MemFsBackupInitiator) pendingTrace(path string, inode uint64) (FileTrace, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.files[path]
	if !ok || r.inode != inode || r.uploaded >= r.generation {
		return FileTrace{}, false
	}
	return NewFileTrace(path, r.generation), true
}

func (i *MemFsBackupInitiator) isUploaded(trace FileTrace) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.files[trace.Path].uploaded >= trace.Generation
}

func (i *MemFsBackupInitiator) lockPath(path string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	mu := &i.pathLocks[h.Sum32()%pathLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (i *MemFsBackupInitiator) isPreloading(path string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.preloading[path]
	return ok
}

func (i *MemFsBackupInitiator) beginPreload(path string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.preloading[path]; ok {
		return false
	}
	i.preloading[path] = struct{}{}
	return true
}

func (i *MemFsBackupInitiator) endPreload(path string) {
	i.mu.Lock()
	delete(i.preloading, path)
	i.mu.Unlock()
}

func isWrite(flags int) bool {
	return flags&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC) != 0
}

// submit schedules fn on the retry pool with a log context for trace.
func (i *MemFsBackupInitiator) submit(op string, trace FileTrace, inode, size uint64, fn func(context.Context) bool) error {
	lc := logger.NewLogContext(op).WithPath(trace.Path, inode).WithGeneration(trace.Generation)
	task := &retry.Task{
		Name: op + ":" + trace.Path,
		Size: size,
		Run: func(ctx context.Context) bool {
			unlock := i.lockPath(trace.Path)
			defer unlock()
			return fn(logger.WithContext(ctx, lc))
		},
		OnDiscard: func() {
			logger.Error("backup task discarded", logger.KeyOperation, op, logger.KeyPath, trace.Path,
				logger.KeyGeneration, trace.Generation, logger.KeySize, size)
		},
	}
	if err := i.pool.Submit(task); err != nil {
		return fmt.Errorf("schedule %s of %s: %w", op, trace.Path, err)
	}
	return nil
}

// ============================================================================
// memfs notifications
// ============================================================================

// GetAttribute returns the memfs attributes of path.
func (i *MemFsBackupInitiator) GetAttribute(path string) (memfs.Meta, error) {
	meta, err := i.mem.GetMeta(path)
	if err != nil {
		return memfs.Meta{}, fmt.Errorf("get attribute of %s: %w", path, err)
	}
	return meta, nil
}

// identify checks that path still names inode.
func (i *MemFsBackupInitiator) identify(path string, inode uint64) (memfs.Meta, error) {
	meta, err := i.GetAttribute(path)
	if err != nil {
		return meta, err
	}
	if meta.Inode != inode {
		return meta, fserrors.NewStaleError(path, fmt.Sprintf("path names inode %d, event carries %d", meta.Inode, inode))
	}
	return meta, nil
}

// OpenFileNotify implements memfs.FileOpNotify. A writable open starts a new
// generation and schedules its stage file.
func (i *MemFsBackupInitiator) OpenFileNotify(fd int, path string, flags int, inode uint64) error {
	if i.Marked() {
		return nil
	}
	meta, err := i.identify(path, inode)
	if err != nil {
		return err
	}
	if !isWrite(flags) || i.isPreloading(path) {
		return nil
	}
	trace := i.record(path, inode)
	logger.Debug("write open", logger.KeyPath, path, logger.KeyFD, fd, logger.KeyInode, inode, logger.KeyGeneration, trace.Generation)
	return i.submit("stage", trace, inode, meta.Size, func(ctx context.Context) bool {
		return i.stageTask(ctx, trace, inode)
	})
}

// CloseFileNotify implements memfs.CloseNotifier. Closing a writable
// descriptor schedules the upload of the version it wrote.
func (i *MemFsBackupInitiator) CloseFileNotify(fd int, path string, inode uint64) error {
	if i.isPreloading(path) {
		return nil
	}
	if i.Marked() {
		// The write may have been opened, and staged, before Mark.
		trace, ok := i.pendingTrace(path, inode)
		if !ok {
			return nil
		}
		return i.submit("unstage", trace, inode, 0, func(ctx context.Context) bool {
			return i.unstageTask(ctx, trace, inode)
		})
	}
	trace := i.traceOf(path, inode)
	var size uint64
	if meta, err := i.mem.GetMeta(path); err == nil {
		size = meta.Size
	}
	logger.Debug("write close", logger.KeyPath, path, logger.KeyFD, fd, logger.KeyInode, inode, logger.KeyGeneration, trace.Generation)
	return i.submit("upload", trace, inode, size, func(ctx context.Context) bool {
		return i.uploadTask(ctx, trace, inode)
	})
}

// NewFileNotify implements memfs.FileOpNotify. A new name is staged and
// uploaded at once since its content already exists.
func (i *MemFsBackupInitiator) NewFileNotify(path string, inode uint64) error {
	if i.Marked() {
		return nil
	}
	meta, err := i.identify(path, inode)
	if err != nil {
		return err
	}
	trace := i.record(path, inode)
	return i.submit("link", trace, inode, meta.Size, func(ctx context.Context) bool {
		if !i.stageTask(ctx, trace, inode) {
			return false
		}
		return i.uploadTask(ctx, trace, inode)
	})
}

// unstageTask removes the stage of a version that will not be uploaded.
func (i *MemFsBackupInitiator) unstageTask(ctx context.Context, trace FileTrace, inode uint64) bool {
	if i.superseded(trace, inode) || i.isUploaded(trace) {
		return true
	}
	if err := i.target.RemoveStageFileFromUfs(ctx, trace.Path); err != nil {
		logger.WarnCtx(ctx, "unstage failed", logger.KeyPath, trace.Path, logger.KeyError, err)
		return false
	}
	return true
}

func (i *MemFsBackupInitiator) stageTask(ctx context.Context, trace FileTrace, inode uint64) bool {
	if i.superseded(trace, inode) || i.isUploaded(trace) {
		return true
	}
	err := i.target.CreateFileAndStageSync(ctx, trace)
	if err == nil {
		return true
	}
	if fserrors.IsNotFoundError(err) {
		return true
	}
	logger.WarnCtx(ctx, "stage creation failed", logger.KeyError, err)
	return false
}

func (i *MemFsBackupInitiator) uploadTask(ctx context.Context, trace FileTrace, inode uint64) bool {
	if i.superseded(trace, inode) {
		return true
	}
	meta, err := i.mem.GetMeta(trace.Path)
	if fserrors.IsNotFoundError(err) {
		// Removed before it was uploaded: only the stage is left behind.
		if err := i.target.RemoveStageFileFromUfs(ctx, trace.Path); err != nil {
			logger.WarnCtx(ctx, "stage cleanup failed", logger.KeyError, err)
		}
		return true
	}
	if err != nil {
		return false
	}
	// A newer writer uploads on its own close.
	if meta.Inode != inode || meta.Writing {
		return true
	}
	err = i.target.UploadFile(ctx, trace, meta, false)
	switch {
	case err == nil:
		i.markUploaded(trace)
		return true
	case fserrors.IsStaleError(err), fserrors.IsNotFoundError(err):
		logger.DebugCtx(ctx, "upload superseded", logger.KeyError, err)
		return true
	default:
		logger.WarnCtx(ctx, "upload failed", logger.KeyError, err)
		return false
	}
}

// BackupForEviction uploads a dirty file synchronously so the evictor can
// drop it. It is registered with memfs.Context.RegisterBackup.
func (i *MemFsBackupInitiator) BackupForEviction(ctx context.Context, path string, inode uint64) (err error) {
	meta, err := i.identify(path, inode)
	if err != nil {
		return err
	}
	trace := i.traceOf(path, inode)
	ctx, span := telemetry.StartBackupSpan(ctx, telemetry.SpanEvictBackup, path, trace.Generation, telemetry.Inode(inode))
	defer func() { telemetry.EndSpan(span, err) }()

	ctx = logger.WithContext(ctx, logger.NewLogContext("evict").WithPath(path, inode).WithGeneration(trace.Generation))
	return i.target.UploadFile(ctx, trace, meta, false)
}

// BackupFile uploads the current content of path to every target and
// waits for the commit. With force an unchanged file is uploaded again.
func (i *MemFsBackupInitiator) BackupFile(ctx context.Context, path string, force bool) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	if i.isPreloading(path) {
		return fserrors.NewBusyError(path, "preload in progress")
	}
	meta, err := i.GetAttribute(path)
	if err != nil {
		return err
	}
	if meta.IsDir() {
		return fserrors.NewIsDirectoryError(path)
	}
	if meta.Writing {
		return fserrors.NewBusyError(path, "file is open for writing")
	}

	unlock := i.lockPath(path)
	defer unlock()

	trace := i.traceOf(path, meta.Inode)
	ctx = logger.WithContext(ctx, logger.NewLogContext("backup").WithPath(path, meta.Inode).WithGeneration(trace.Generation))
	if err := i.target.UploadFile(ctx, trace, meta, force); err != nil {
		return err
	}
	i.markUploaded(trace)
	return nil
}

// RemoveFile drops path from memfs, when present, and from every target
// together with its stage. Work still queued for path is superseded.
func (i *MemFsBackupInitiator) RemoveFile(ctx context.Context, path string) (err error) {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	if i.isPreloading(path) {
		return fserrors.NewBusyError(path, "preload in progress")
	}

	unlock := i.lockPath(path)
	defer unlock()

	if err := i.mem.RemoveFile(path); err != nil && !fserrors.IsNotFoundError(err) {
		return fmt.Errorf("remove %s from memfs: %w", path, err)
	}

	i.mu.Lock()
	gen := i.files[path].generation
	delete(i.files, path)
	i.mu.Unlock()
	if gen == 0 {
		gen = i.recordedGeneration(path)
	}

	trace := NewFileTrace(path, gen+1)
	ctx, span := telemetry.StartBackupSpan(ctx, telemetry.SpanRemove, path, trace.Generation)
	defer func() { telemetry.EndSpan(span, err) }()

	ctx = logger.WithContext(ctx, logger.NewLogContext("remove").WithPath(path, 0).WithGeneration(trace.Generation))
	if err := i.target.RemoveFileAndStageSync(ctx, trace); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "file removed")
	return nil
}

// ============================================================================
// Preload
// ============================================================================

// PreloadFileNotify loads path from the targets into memfs. The file is
// created and fully allocated up front, then filled by parallel shards on
// the retry pool. The returned context reports completion; it is nil when
// the initiator is suspended.
func (i *MemFsBackupInitiator) PreloadFileNotify(ctx context.Context, path string) (*ParallelLoadContext, error) {
	if i.Marked() {
		return nil, nil
	}
	if err := fserrors.CheckPath(path); err != nil {
		return nil, err
	}
	fi, err := i.target.StatFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("preload %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fserrors.NewIsDirectoryError(path)
	}
	size := uint64(fi.Size)

	blockSize, _ := i.mem.GetShareFileCfg()
	if blockSize == 0 {
		return nil, fserrors.NewNotInitializedError("memfs block pool")
	}
	need := (size + blockSize - 1) / blockSize
	if free := i.mem.FreeBlocks(); need > free {
		return nil, fserrors.Wrap(fserrors.ErrNoSpace, path, fserrors.NewNoSpaceError(need, free),
			fmt.Sprintf("preload of %s does not fit", humanize.IBytes(size)))
	}

	if !i.beginPreload(path) {
		return nil, fserrors.NewBusyError(path, "preload already in progress")
	}
	fd, inode, err := i.createPreloadFile(path, fi.Mode, size)
	if err != nil {
		i.endPreload(path)
		return nil, err
	}

	trace := i.record(path, inode)
	telemetry.AddEvent(ctx, telemetry.SpanPreload, telemetry.Path(path), telemetry.Size(size))
	logger.Info("preload started", logger.KeyPath, path, logger.KeySize, humanize.IBytes(size), logger.KeyInode, inode)
	return i.SplitAndSubmitTask(fd, size, trace, inode), nil
}

// createPreloadFile creates path in memfs with blocks for size bytes and
// returns its writable descriptor.
func (i *MemFsBackupInitiator) createPreloadFile(path string, mode fs.FileMode, size uint64) (int, uint64, error) {
	if err := i.mem.MkdirAll(parentDir(path), i.cfg.DirMode); err != nil {
		return -1, 0, fmt.Errorf("create parents of %s: %w", path, err)
	}
	fd, err := i.mem.CreateAndOpenFile(path, os.O_RDWR, uint32(mode.Perm()))
	if err != nil {
		return -1, 0, fmt.Errorf("create %s: %w", path, err)
	}
	if err := i.mem.AllocDataBlocks(fd, size); err != nil {
		i.discard(path, fd)
		return -1, 0, fmt.Errorf("allocate %s for %s: %w", humanize.IBytes(size), path, err)
	}
	meta, err := i.mem.GetMeta(path)
	if err != nil {
		i.discard(path, fd)
		return -1, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	fm, err := i.mem.GetFileMeta(fd)
	if err != nil {
		i.discard(path, fd)
		return -1, 0, fmt.Errorf("stat descriptor of %s: %w", path, err)
	}
	if meta.Inode != fm.Inode {
		_ = i.mem.CloseFile(fd)
		return -1, 0, fserrors.NewStaleError(path, "file was replaced while preloading")
	}
	return fd, fm.Inode, nil
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}

// discard throws away a partially loaded file. If path no longer names the
// descriptor's inode only the descriptor is closed.
func (i *MemFsBackupInitiator) discard(path string, fd int) {
	if err := i.mem.DiscardFile(path, fd); err != nil {
		logger.Warn("discard of partial preload failed", logger.KeyPath, path, logger.KeyFD, fd, logger.KeyError, err)
		_ = i.mem.CloseFile(fd)
	}
}

// SplitAndSubmitTask splits a preload of size bytes into shards and submits
// one retry task per shard. The shards share the returned context.
func (i *MemFsBackupInitiator) SplitAndSubmitTask(fd int, size uint64, trace FileTrace, inode uint64) *ParallelLoadContext {
	blockSize, _ := i.mem.GetShareFileCfg()
	ranges := i.Shards().Split(size, blockSize)

	plc := NewParallelLoadContext(len(ranges))
	plc.Path, plc.Inode, plc.Size, plc.fd = trace.Path, inode, size, fd
	for idx := range ranges {
		plc.register(idx)
	}
	plc.started = time.Now()
	logger.Debug("preload split", logger.KeyPath, trace.Path, logger.KeyShards, len(ranges), logger.KeyTraceID, plc.ID)

	for idx, r := range ranges {
		task := NewTaskInfo(idx, r[1]-r[0], r[0], r[1], plc)
		lc := logger.NewLogContext("preload").WithPath(trace.Path, inode).WithGeneration(trace.Generation)
		lc.TraceID = plc.ID
		rt := &retry.Task{
			Name: "preload:" + trace.Path,
			Size: task.Length,
			Run: func(ctx context.Context) bool {
				return i.runShard(logger.WithContext(ctx, lc), trace, task)
			},
		}
		if err := i.pool.Submit(rt); err != nil {
			logger.Warn("preload shard not scheduled", logger.KeyPath, trace.Path, logger.KeyShard, idx, logger.KeyError, err)
			_, _ = plc.attempt(idx)
			_ = i.RecordToMemfsTaskResult(fd, trace.Path, false, task)
		}
	}
	return plc
}

// runShard is the retry task body of one preload shard. It keeps asking
// for retries until the shard succeeds or has used its attempts, then
// reports the result.
func (i *MemFsBackupInitiator) runShard(ctx context.Context, trace FileTrace, task TaskInfo) bool {
	plc := task.Ctx
	n, ok := plc.attempt(task.TaskID)
	if !ok {
		logger.ErrorCtx(ctx, "preload shard has no retry entry", logger.KeyShard, task.TaskID)
		return true
	}
	err := i.target.MakeFileCache(ctx, trace, task)
	if err == nil {
		plc.loaded.Add(task.Length)
		_ = i.RecordToMemfsTaskResult(plc.fd, trace.Path, true, task)
		return true
	}
	if n < i.cfg.ShardRetryTimes && ctx.Err() == nil {
		logger.WarnCtx(ctx, "preload shard failed, retrying",
			logger.Shard(task.TaskID, task.StartOffset, task.Length), logger.KeyAttempt, n, logger.KeyError, err)
		return false
	}
	logger.ErrorCtx(ctx, "preload shard failed",
		logger.Shard(task.TaskID, task.StartOffset, task.Length), logger.KeyAttempt, n, logger.KeyError, err)
	_ = i.RecordToMemfsTaskResult(plc.fd, trace.Path, false, task)
	return true
}

// RecordToMemfsTaskResult records the outcome of one preload shard. It
// returns nil while other shards are still running. The shard that
// completes the set finalizes the file: it fails if any shard failed, and
// otherwise sets the final size, closes fd and marks the file clean.
func (i *MemFsBackupInitiator) RecordToMemfsTaskResult(fd int, path string, ok bool, task TaskInfo) error {
	plc := task.Ctx
	if plc == nil || !plc.hasTask(task.TaskID) {
		return fserrors.NewInvalidArgumentError(path, fmt.Sprintf("shard %d has no retry entry", task.TaskID))
	}
	if !ok {
		plc.failedCnt.Add(1)
	}
	if plc.remaining.Add(-1) != 0 {
		return nil
	}

	err := i.finishPreload(fd, path, plc)
	i.endPreload(path)
	observePreload(i.target.metrics, plc.Size, plc.Total(), time.Since(plc.started), err)
	plc.finish(err)
	return err
}

func (i *MemFsBackupInitiator) finishPreload(fd int, path string, plc *ParallelLoadContext) error {
	if failed := plc.FailedCount(); failed > 0 {
		i.discard(path, fd)
		return fserrors.NewIOError(path, fmt.Errorf("%d of %d preload shards failed", failed, plc.Total()))
	}
	if err := i.mem.TruncateFile(fd, plc.Size); err != nil {
		i.discard(path, fd)
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	fm, err := i.mem.GetFileMeta(fd)
	if err != nil {
		i.discard(path, fd)
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	if err := i.mem.CloseFile(fd); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	i.mem.MarkBackedUp(path, fm.Inode, fm.Mtime)
	if err := i.MultiTasksWriteFinish(path); err != nil {
		return err
	}
	logger.Info("preload finished", logger.KeyPath, path, logger.KeySize, humanize.IBytes(plc.Size),
		logger.KeyShards, plc.Total(), logger.KeyTraceID, plc.ID)
	return nil
}

// MultiTasksWriteFinish confirms that a preloaded file can be opened.
func (i *MemFsBackupInitiator) MultiTasksWriteFinish(path string) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	fd, err := i.mem.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("reopen preloaded %s: %w", path, err)
	}
	defer func() { _ = i.mem.CloseFile(fd) }()
	if _, err := i.mem.GetFileMeta(fd); err != nil {
		return fmt.Errorf("stat preloaded %s: %w", path, err)
	}
	return nil
}
