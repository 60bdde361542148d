package backup

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/internal/telemetry"
	"github.com/marmos91/ckptfs/pkg/memfs"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

// StgStatus is the outcome of CheckStgMtime.
type StgStatus int

const (
	// StgFileBeenRemoved means the stage vanished or never existed.
	StgFileBeenRemoved StgStatus = iota
	// StgMtimeNoChangeTimeout means nobody touched the stage within the
	// timeout, or it could not be inspected. It is safe to take over.
	StgMtimeNoChangeTimeout
	// StgMtimeChanged means another writer is filling the stage.
	StgMtimeChanged
)

func (s StgStatus) String() string {
	switch s {
	case StgFileBeenRemoved:
		return "FILE_BEEN_REMOVED"
	case StgMtimeNoChangeTimeout:
		return "MTIME_NO_CHANGE_TIMEOUT"
	case StgMtimeChanged:
		return "MTIME_CHANGED"
	default:
		return fmt.Sprintf("StgStatus(%d)", int(s))
	}
}

// LockResult is the outcome of TryLockStg.
type LockResult int

const (
	LockSuccess LockResult = iota
	LockError
)

func (r LockResult) String() string {
	if r == LockSuccess {
		return "LOCK_SUCCESS"
	}
	return "LOCK_ERROR"
}

const (
	defaultStageMtimeTimeout = 10 * time.Second
	defaultStagePollInterval = 500 * time.Millisecond
	defaultDirMode           = 0o755
)

// Config configures a BackupTarget.
type Config struct {
	// Shards controls how uploads and preloads are split.
	Shards ShardConfig

	// StageMtimeTimeout is how long a foreign stage must sit unchanged
	// before it is considered abandoned.
	StageMtimeTimeout time.Duration

	// StagePollInterval is the stage mtime polling period.
	StagePollInterval time.Duration

	// DirMode is used for UFS directories that have no memfs counterpart.
	DirMode fs.FileMode
}

func (c Config) withDefaults() Config {
	if c.StageMtimeTimeout <= 0 {
		c.StageMtimeTimeout = defaultStageMtimeTimeout
	}
	if c.StagePollInterval <= 0 {
		c.StagePollInterval = defaultStagePollInterval
	}
	if c.DirMode == 0 {
		c.DirMode = defaultDirMode
	}
	c.Shards = c.Shards.withDefaults()
	return c
}

// Option configures a BackupTarget.
type Option func(*BackupTarget)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(t *BackupTarget) { t.metrics = m }
}

// WithLedger persists every target's view in l.
func WithLedger(l ViewLedger) Option {
	return func(t *BackupTarget) { t.ledger = l }
}

type targetState struct {
	fs   ufs.FileSystem
	view *UnderFsFileView
}

// BackupTarget replicates memfs files to an ordered set of UFS targets. A
// multi-target operation succeeds only if it succeeds on every target.
//
// Thread safety: all methods are safe for concurrent use. Two uploads of the
// same path exclude each other through the stage lock.
type BackupTarget struct {
	cfg     Config
	mem     MemFS
	mover   *Mover
	metrics Metrics
	ledger  ViewLedger

	mu      sync.RWMutex
	targets []*targetState

	// ownStages holds the stages this process created and has not yet
	// committed, keyed by target and path. They skip the mtime check.
	ownMu     sync.Mutex
	ownStages map[stageKey]struct{}
}

type stageKey struct {
	target string
	path   string
}

// NewBackupTarget returns an uninitialized BackupTarget reading from mem.
func NewBackupTarget(mem MemFS, cfg Config, opts ...Option) *BackupTarget {
	cfg = cfg.withDefaults()
	t := &BackupTarget{
		cfg:       cfg,
		mem:       mem,
		mover:     NewMover(mem, cfg.Shards),
		ownStages: make(map[stageKey]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initialize registers the targets. At least one is required.
func (t *BackupTarget) Initialize(targets ...ufs.FileSystem) error {
	if len(targets) == 0 {
		return fserrors.NewInvalidArgumentError("", "backup needs at least one under file system")
	}
	states := make([]*targetState, 0, len(targets))
	for _, u := range targets {
		if u == nil {
			return fserrors.NewInvalidArgumentError("", "nil under file system")
		}
		view, err := NewUnderFsFileView(u, t.ledger)
		if err != nil {
			return err
		}
		states = append(states, &targetState{fs: u, view: view})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.targets) > 0 {
		return fserrors.New(fserrors.ErrAlreadyExists, "", "backup target already initialized")
	}
	t.targets = states
	for _, s := range states {
		logger.Info("backup target registered", logger.KeyTarget, s.fs.Name(), "view_entries", s.view.Len())
	}
	return nil
}

// Destroy unregisters the targets and closes them.
func (t *BackupTarget) Destroy() error {
	t.mu.Lock()
	states := t.targets
	t.targets = nil
	t.mu.Unlock()

	var firstErr error
	for _, s := range states {
		if err := s.fs.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", s.fs.Name(), err)
		}
	}
	return firstErr
}

// Mover returns the data mover shared with the initiator.
func (t *BackupTarget) Mover() *Mover { return t.mover }

// Targets returns the registered targets in order.
func (t *BackupTarget) Targets() []ufs.FileSystem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ufs.FileSystem, len(t.targets))
	for i, s := range t.targets {
		out[i] = s.fs
	}
	return out
}

// View returns the view of the named target, or nil.
func (t *BackupTarget) View(name string) *UnderFsFileView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.targets {
		if s.fs.Name() == name {
			return s.view
		}
	}
	return nil
}

func (t *BackupTarget) states() ([]*targetState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.targets) == 0 {
		return nil, fserrors.NewNotInitializedError("backup target")
	}
	return t.targets, nil
}

// each runs fn on every target concurrently and returns the first failure.
func (t *BackupTarget) each(ctx context.Context, fn func(context.Context, *targetState) error) error {
	states, err := t.states()
	if err != nil {
		return err
	}
	if len(states) == 1 {
		return fn(ctx, states[0])
	}
	var g errgroup.Group
	for _, s := range states {
		g.Go(func() error {
			if err := fn(ctx, s); err != nil {
				return fmt.Errorf("target %s: %w", s.fs.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *BackupTarget) own(target ufs.FileSystem, path string) {
	t.ownMu.Lock()
	t.ownStages[stageKey{target.Name(), path}] = struct{}{}
	t.ownMu.Unlock()
}

func (t *BackupTarget) disown(target ufs.FileSystem, path string) {
	t.ownMu.Lock()
	delete(t.ownStages, stageKey{target.Name(), path})
	t.ownMu.Unlock()
}

func (t *BackupTarget) owns(target ufs.FileSystem, path string) bool {
	t.ownMu.Lock()
	defer t.ownMu.Unlock()
	_, ok := t.ownStages[stageKey{target.Name(), path}]
	return ok
}

// ============================================================================
// Directories
// ============================================================================

// CreateDir creates path as a directory on every target. An existing
// directory is accepted; anything else at path is an error.
func (t *BackupTarget) CreateDir(ctx context.Context, path string, mode fs.FileMode, uid, gid uint32) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	clean, err := ufs.Clean(path)
	if err != nil {
		return err
	}
	return t.each(ctx, func(ctx context.Context, s *targetState) error {
		if err := t.createAncestors(ctx, s.fs, clean); err != nil {
			return err
		}
		return t.createDirectory(ctx, s.fs, clean, mode, uid, gid)
	})
}

// createDirectory creates one directory and accepts an existing one.
func (t *BackupTarget) createDirectory(ctx context.Context, target ufs.FileSystem, dir string, mode fs.FileMode, uid, gid uint32) error {
	err := target.CreateDirectory(ctx, dir, mode)
	if ufs.IsExist(err) {
		fi, serr := target.Lstat(ctx, dir)
		if serr != nil {
			return fmt.Errorf("stat %s: %w", dir, serr)
		}
		if !fi.IsDir() {
			return fserrors.NewNotDirectoryError(dir)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := target.Chown(ctx, dir, uid, gid); err != nil {
		logger.Debug("chown directory failed", logger.KeyTarget, target.Name(), logger.KeyPath, dir, logger.KeyError, err)
	}
	return nil
}

// CreateOneParent creates the directory dir with the mode and owner of its
// memfs counterpart. It tolerates anything already existing at dir; the
// caller checks the type.
func (t *BackupTarget) CreateOneParent(ctx context.Context, target ufs.FileSystem, dir string) error {
	mode, uid, gid := t.cfg.DirMode, uint32(0), uint32(0)
	if meta, err := t.mem.GetMeta(dir); err == nil && meta.IsDir() {
		mode, uid, gid = fs.FileMode(meta.Mode).Perm(), meta.UID, meta.GID
	}
	err := target.CreateDirectory(ctx, dir, mode)
	if ufs.IsExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create parent %s: %w", dir, err)
	}
	if err := target.Chown(ctx, dir, uid, gid); err != nil {
		logger.Debug("chown parent failed", logger.KeyTarget, target.Name(), logger.KeyPath, dir, logger.KeyError, err)
	}
	return nil
}

// createAncestors makes every proper ancestor of the clean path p exist as a
// directory, one level at a time from the root down.
func (t *BackupTarget) createAncestors(ctx context.Context, target ufs.FileSystem, p string) error {
	for _, dir := range ufs.Ancestors(p) {
		fi, err := target.Lstat(ctx, dir)
		if err == nil {
			if !fi.IsDir() {
				return fserrors.NewNotDirectoryError(dir)
			}
			continue
		}
		if !ufs.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if err := t.CreateOneParent(ctx, target, dir); err != nil {
			return err
		}
		if fi, err = target.Lstat(ctx, dir); err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if !fi.IsDir() {
			return fserrors.NewNotDirectoryError(dir)
		}
	}
	return nil
}

// RealBackupAllParentDirectory creates the missing ancestors of the memfs
// file at path on target. It fails if path is not in memfs or an ancestor
// exists as something other than a directory.
func (t *BackupTarget) RealBackupAllParentDirectory(ctx context.Context, target ufs.FileSystem, path string) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	if _, err := t.mem.GetMeta(path); err != nil {
		return fmt.Errorf("back up parents of %s: %w", path, err)
	}
	clean, err := ufs.Clean(path)
	if err != nil {
		return err
	}
	return t.createAncestors(ctx, target, clean)
}

// ============================================================================
// Stage protocol
// ============================================================================

// CheckStgMtime watches a stage file that another writer may be filling.
// It returns as soon as the stage disappears or its mtime moves, and
// otherwise once the stage has been idle for StageMtimeTimeout. A stage that
// is already older than the timeout returns at once.
func (t *BackupTarget) CheckStgMtime(ctx context.Context, target ufs.FileSystem, stage string) StgStatus {
	// A canceled caller must not take the stage over.
	if ctx.Err() != nil {
		return StgMtimeChanged
	}
	fi, err := target.Lstat(ctx, stage)
	if ufs.IsNotExist(err) {
		return StgFileBeenRemoved
	}
	if err != nil {
		logger.Warn("stage stat failed", logger.KeyTarget, target.Name(), logger.KeyStagePath, stage, logger.KeyError, err)
		return StgMtimeNoChangeTimeout
	}

	first := fi.ModTime
	deadline := first.Add(t.cfg.StageMtimeTimeout)
	if limit := time.Now().Add(t.cfg.StageMtimeTimeout); deadline.After(limit) {
		deadline = limit
	}

	ticker := time.NewTicker(t.cfg.StagePollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return StgMtimeChanged
		case <-ticker.C:
		}
		fi, err := target.Lstat(ctx, stage)
		switch {
		case ctx.Err() != nil:
			return StgMtimeChanged
		case ufs.IsNotExist(err):
			return StgFileBeenRemoved
		case err != nil:
			return StgMtimeNoChangeTimeout
		}
		if !fi.ModTime.Equal(first) {
			return StgMtimeChanged
		}
	}
	return StgMtimeNoChangeTimeout
}

// TryLockStg takes the advisory lock of a stage file without waiting.
func (t *BackupTarget) TryLockStg(ctx context.Context, target ufs.FileSystem, stage string) (ufs.Unlocker, LockResult) {
	lock, err := target.Lock(ctx, stage)
	if err != nil {
		logger.Debug("stage lock failed", logger.KeyTarget, target.Name(), logger.KeyStagePath, stage, logger.KeyError, err)
		return nil, LockError
	}
	return lock, LockSuccess
}

// openStage returns the locked, empty stage of path on target. A stage is
// only ever truncated by the holder of its lock: a missing stage is created
// exclusively, an existing one is locked before it is reopened.
func (t *BackupTarget) openStage(ctx context.Context, target ufs.FileSystem, path string, mode fs.FileMode) (ufs.WriteHandle, ufs.Unlocker, error) {
	stage := StagePath(path)
	exists, err := t.inspectStage(ctx, target, path)
	if err != nil {
		return nil, nil, err
	}

	if !exists {
		h, err := target.CreateFile(ctx, stage, mode)
		if ufs.IsExist(err) {
			recordStageConflict(t.metrics, target.Name())
			return nil, nil, fserrors.NewBusyError(stage, "stage was created by another writer")
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create stage %s: %w", stage, err)
		}
		lock, res := t.TryLockStg(ctx, target, stage)
		if res != LockSuccess {
			_ = h.Close()
			recordStageConflict(t.metrics, target.Name())
			return nil, nil, fserrors.NewBusyError(stage, "stage is locked by another writer")
		}
		t.own(target, path)
		return h, lock, nil
	}

	lock, res := t.TryLockStg(ctx, target, stage)
	if res != LockSuccess {
		recordStageConflict(t.metrics, target.Name())
		return nil, nil, fserrors.NewBusyError(stage, "stage is locked by another writer")
	}
	h, err := target.PutFile(ctx, stage, mode)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, fmt.Errorf("truncate stage %s: %w", stage, err)
	}
	t.own(target, path)
	return h, lock, nil
}

// inspectStage reports whether the stage of path exists and may be reused.
// A foreign stage that is still being written is a Busy error.
func (t *BackupTarget) inspectStage(ctx context.Context, target ufs.FileSystem, path string) (bool, error) {
	stage := StagePath(path)
	fi, err := target.Lstat(ctx, stage)
	switch {
	case ufs.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat stage %s: %w", stage, err)
	case fi.IsDir():
		return false, fserrors.NewIsDirectoryError(stage)
	}
	if t.owns(target, path) {
		return true, nil
	}
	switch t.CheckStgMtime(ctx, target, stage) {
	case StgFileBeenRemoved:
		return false, nil
	case StgMtimeChanged:
		recordStageConflict(t.metrics, target.Name())
		return false, fserrors.NewBusyError(stage, "stage is being written by another writer")
	default:
		logger.Info("taking over idle stage", logger.KeyTarget, target.Name(), logger.KeyStagePath, stage)
		return true, nil
	}
}

// dropStage unlinks a stage that will not be committed.
func (t *BackupTarget) dropStage(ctx context.Context, target ufs.FileSystem, path string) {
	t.disown(target, path)
	stage := StagePath(path)
	if err := target.Unlink(context.WithoutCancel(ctx), stage); err != nil && !ufs.IsNotExist(err) {
		logger.Warn("stage cleanup failed", logger.KeyTarget, target.Name(), logger.KeyStagePath, stage, logger.KeyError, err)
	}
}

// ============================================================================
// Files
// ============================================================================

// CreateFileAndStageSync makes sure the parents of the memfs file at trace
// exist on every target and that a stage file is there, announcing that a
// new version is being written. An existing stage is adopted as is.
func (t *BackupTarget) CreateFileAndStageSync(ctx context.Context, trace FileTrace) error {
	if err := trace.Validate(); err != nil {
		return err
	}
	meta, err := t.mem.GetMeta(trace.Path)
	if err != nil {
		return fmt.Errorf("stage %s: %w", trace.Path, err)
	}
	if meta.IsDir() {
		return fserrors.NewIsDirectoryError(trace.Path)
	}
	mode := fs.FileMode(meta.Mode).Perm()

	return t.each(ctx, func(ctx context.Context, s *targetState) error {
		if err := t.RealBackupAllParentDirectory(ctx, s.fs, trace.Path); err != nil {
			return err
		}
		exists, err := t.inspectStage(ctx, s.fs, trace.Path)
		if err != nil {
			return err
		}
		stage := StagePath(trace.Path)
		if exists {
			// Never truncate here: an upload may hold the stage.
			t.own(s.fs, trace.Path)
			return nil
		}
		h, err := s.fs.CreateFile(ctx, stage, mode)
		if ufs.IsExist(err) {
			// Created concurrently; adopt it without truncating.
			t.own(s.fs, trace.Path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create stage %s: %w", stage, err)
		}
		if err := h.Close(); err != nil {
			return fmt.Errorf("close stage %s: %w", stage, err)
		}
		t.own(s.fs, trace.Path)
		logger.DebugCtx(ctx, "stage created", logger.KeyTarget, s.fs.Name(), logger.KeyStagePath, stage, logger.KeyGeneration, trace.Generation)
		return nil
	})
}

// UploadFile copies the memfs file described by stat to every target.
// Targets whose view already holds this generation and memfs version are
// skipped unless force is set. On success the memfs file is marked clean.
func (t *BackupTarget) UploadFile(ctx context.Context, trace FileTrace, stat memfs.Meta, force bool) (err error) {
	if err := trace.Validate(); err != nil {
		return err
	}
	ctx, span := telemetry.StartBackupSpan(ctx, telemetry.SpanUpload, trace.Path, trace.Generation,
		telemetry.Inode(stat.Inode), telemetry.Size(stat.Size), telemetry.Force(force))
	defer func() { telemetry.EndSpan(span, err) }()

	err = t.each(ctx, func(ctx context.Context, s *targetState) error {
		if !force && s.view.Unchanged(trace.Path, trace.Generation, stat.Inode, stat.Mtime) {
			recordUploadSkipped(t.metrics, s.fs.Name())
			logger.DebugCtx(ctx, "upload skipped, target is current", logger.KeyTarget, s.fs.Name(), logger.KeyPath, trace.Path)
			return nil
		}
		return t.doBackupFile(ctx, s, trace, stat)
	})
	if err != nil {
		return err
	}
	t.mem.MarkBackedUp(trace.Path, stat.Inode, stat.Mtime)
	return nil
}

// doBackupFile runs the stage, copy, rename sequence on one target.
func (t *BackupTarget) doBackupFile(ctx context.Context, s *targetState, trace FileTrace, stat memfs.Meta) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartBackupSpan(ctx, telemetry.SpanUploadTarget, trace.Path, trace.Generation, telemetry.Target(s.fs.Name()))
	defer func() {
		observeUpload(t.metrics, s.fs.Name(), stat.Size, time.Since(start), err)
		telemetry.EndSpan(span, err)
	}()

	if err := t.RealBackupAllParentDirectory(ctx, s.fs, trace.Path); err != nil {
		return err
	}
	stage := StagePath(trace.Path)
	h, lock, err := t.openStage(ctx, s.fs, trace.Path, fs.FileMode(stat.Mode).Perm())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if err := t.mover.SplitUploadFileTask(ctx, trace.Path, stat, s.fs, stage, h); err != nil {
		t.disown(s.fs, trace.Path)
		return err
	}
	if err := h.Sync(); err != nil {
		_ = h.Close()
		t.dropStage(ctx, s.fs, trace.Path)
		return fmt.Errorf("sync stage %s: %w", stage, err)
	}
	if err := h.Close(); err != nil {
		t.dropStage(ctx, s.fs, trace.Path)
		return fmt.Errorf("close stage %s: %w", stage, err)
	}

	cur, err := t.mem.GetMeta(trace.Path)
	if err != nil || cur.Inode != stat.Inode || cur.Writing || !cur.Mtime.Equal(stat.Mtime) {
		t.dropStage(ctx, s.fs, trace.Path)
		return fserrors.NewStaleError(trace.Path, "file changed during upload")
	}
	if err := s.fs.Chown(ctx, stage, stat.UID, stat.GID); err != nil {
		logger.Debug("chown stage failed", logger.KeyTarget, s.fs.Name(), logger.KeyStagePath, stage, logger.KeyError, err)
	}
	if err := s.fs.Rename(ctx, stage, trace.Path); err != nil {
		t.dropStage(ctx, s.fs, trace.Path)
		return fmt.Errorf("commit %s: %w", trace.Path, err)
	}
	t.disown(s.fs, trace.Path)

	var ufsInode uint64
	if fi, err := s.fs.Lstat(ctx, trace.Path); err == nil {
		ufsInode = fi.Inode
	}
	s.view.AddUploadFileToView(trace.Path, ViewEntry{
		Inode:      stat.Inode,
		Mtime:      stat.Mtime,
		Generation: trace.Generation,
		UfsInode:   ufsInode,
	})
	logger.InfoCtx(ctx, "file uploaded",
		logger.KeyTarget, s.fs.Name(),
		logger.KeyPath, trace.Path,
		logger.KeyGeneration, trace.Generation,
		logger.KeySize, stat.Size,
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// RemoveFileAndStageSync removes path and its stage from every target. A
// directory at path is left alone. A directory at the stage name is
// corruption and fails the call.
func (t *BackupTarget) RemoveFileAndStageSync(ctx context.Context, trace FileTrace) error {
	if err := trace.Validate(); err != nil {
		return err
	}
	return t.each(ctx, func(ctx context.Context, s *targetState) error {
		stage := StagePath(trace.Path)
		fi, err := s.fs.Lstat(ctx, stage)
		switch {
		case ufs.IsNotExist(err):
		case err != nil:
			return fmt.Errorf("stat stage %s: %w", stage, err)
		case fi.IsDir():
			return fserrors.NewIsDirectoryError(stage)
		default:
			if err := s.fs.Unlink(ctx, stage); err != nil && !ufs.IsNotExist(err) {
				return fmt.Errorf("remove stage %s: %w", stage, err)
			}
		}
		t.disown(s.fs, trace.Path)

		fi, err = s.fs.Lstat(ctx, trace.Path)
		switch {
		case ufs.IsNotExist(err):
			s.view.Remove(trace.Path)
			return nil
		case err != nil:
			return fmt.Errorf("stat %s: %w", trace.Path, err)
		case fi.IsDir():
			logger.Debug("keeping directory at removed file path", logger.KeyTarget, s.fs.Name(), logger.KeyPath, trace.Path)
			return nil
		}
		if e, ok := s.view.Lookup(trace.Path); ok {
			return s.view.DoRemoveFile(ctx, trace.Path, e.UfsInode, true)
		}
		if err := s.fs.Unlink(ctx, trace.Path); err != nil && !ufs.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", trace.Path, err)
		}
		return nil
	})
}

// RemoveStageFileFromUfs unlinks the stage of path on every target. A
// missing stage is not an error.
func (t *BackupTarget) RemoveStageFileFromUfs(ctx context.Context, path string) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	return t.each(ctx, func(ctx context.Context, s *targetState) error {
		stage := StagePath(path)
		if err := s.fs.Unlink(ctx, stage); err != nil && !ufs.IsNotExist(err) {
			return fmt.Errorf("remove stage %s: %w", stage, err)
		}
		t.disown(s.fs, path)
		return nil
	})
}

// StatFile returns the attributes of path on the first target that has it.
func (t *BackupTarget) StatFile(ctx context.Context, path string) (*ufs.FileInfo, error) {
	if err := fserrors.CheckPath(path); err != nil {
		return nil, err
	}
	states, err := t.states()
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, s := range states {
		fi, err := s.fs.Lstat(ctx, path)
		if err == nil {
			return fi, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// MakeFileCache fills one shard of the memfs file at trace from the first
// target that can serve it.
func (t *BackupTarget) MakeFileCache(ctx context.Context, trace FileTrace, task TaskInfo) error {
	if err := trace.Validate(); err != nil {
		return err
	}
	states, err := t.states()
	if err != nil {
		return err
	}
	var firstErr error
	for _, s := range states {
		err := t.mover.MultiTasksDoWrite(ctx, trace.Path, task, s.fs)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		logger.DebugCtx(ctx, "shard load failed, trying next target",
			logger.KeyTarget, s.fs.Name(), logger.KeyPath, trace.Path,
			logger.Shard(task.TaskID, task.StartOffset, task.Length), logger.KeyError, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
