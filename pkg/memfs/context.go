package memfs

import (
	"context"
	iofs "io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// ContextConfig configures a Context.
type ContextConfig struct {
	FileSystem Config
	Evictor    EvictorConfig

	// Cred is used for every accessor call. The zero value is root.
	Cred Cred
}

// Context owns one memfs instance: the namespace, the block pool, the
// evictor and the lifecycle state. Components receive a *Context instead of
// reaching for process-wide state.
type Context struct {
	fs          *FileSystem
	evictor     *InodeEvictor
	state       StateMachine
	cred        Cred
	serviceable atomic.Bool
}

// NewContext creates a Context in the PREPARING state.
func NewContext(cfg ContextConfig, opts ...Option) *Context {
	fs := NewFileSystem(cfg.FileSystem, opts...)
	return &Context{
		fs:      fs,
		evictor: NewInodeEvictor(fs, cfg.Evictor),
		cred:    cfg.Cred,
	}
}

// Initialize brings the Context to RUNNING. A failure moves it to EXITED
// with nothing allocated.
func (c *Context) Initialize() error {
	if !c.state.Transition(StateStarting) {
		if c.state.Current() == StateRunning {
			return nil
		}
		return fserrors.New(fserrors.ErrInvalidArgument, "", "cannot initialize memfs in state %s", c.state.Current())
	}
	c.state.SetProgress(ProgressBegin)

	if err := c.fs.Initialize(); err != nil {
		c.state.Transition(StateExited)
		return err
	}
	c.state.SetProgress(ProgressPool)
	c.state.SetProgress(ProgressRoot)

	if err := c.evictor.Initialize(); err != nil {
		_ = c.fs.Destroy()
		c.state.Transition(StateExited)
		return err
	}
	c.state.SetProgress(ProgressEvictor)
	c.state.SetProgress(ProgressComplete)

	c.state.Transition(StateRunning)
	c.serviceable.Store(true)
	logger.Info("memfs context running", logger.KeyState, c.state.Current().String())
	return nil
}

// Destroy stops the evictor and releases the pool.
func (c *Context) Destroy() error {
	if c.state.Current() == StatePreparing {
		c.state.Transition(StateExited)
		return nil
	}
	if !c.state.Transition(StatePreExiting) {
		return nil
	}
	c.serviceable.Store(false)
	c.evictor.Destroy()

	c.state.Transition(StateExiting)
	err := c.fs.Destroy()
	c.state.Transition(StateExited)
	logger.Info("memfs context exited", logger.KeyState, c.state.Current().String())
	return err
}

// State returns the lifecycle state.
func (c *Context) State() State { return c.state.Current() }

// Progress returns the startup progress (0..100).
func (c *Context) Progress() int32 { return c.state.Progress() }

// FileSystem exposes the underlying namespace.
func (c *Context) FileSystem() *FileSystem { return c.fs }

// Evictor exposes the inode evictor.
func (c *Context) Evictor() *InodeEvictor { return c.evictor }

// ============================================================================
// Health and registration
// ============================================================================

// Serviceable records whether the backup pipeline can accept new work.
func (c *Context) Serviceable(ok bool) {
	if c.serviceable.Swap(ok) != ok {
		logger.Warn("memfs serviceability changed", "serviceable", ok)
	}
}

// IsServiceable reports the last value passed to Serviceable.
func (c *Context) IsServiceable() bool { return c.serviceable.Load() }

// RegisterNotify installs the event consumer. It can be called once.
func (c *Context) RegisterNotify(n FileOpNotify) error {
	if n == nil {
		return fserrors.NewInvalidArgumentError("", "nil notify")
	}
	if !c.fs.SetNotify(n) {
		return fserrors.New(fserrors.ErrAlreadyExists, "", "notify already registered")
	}
	return nil
}

// RegisterBackup installs the function the evictor uses for dirty files.
func (c *Context) RegisterBackup(fn BackupFunc) {
	c.evictor.SetBackup(fn)
}

// ============================================================================
// Metadata
// ============================================================================

// GetMeta returns the attributes of path.
func (c *Context) GetMeta(path string) (Meta, error) { return c.fs.GetMeta(path) }

// GetFileMeta returns the attributes of the file behind fd.
func (c *Context) GetFileMeta(fd int) (Meta, error) { return c.fs.GetFileMeta(fd) }

// GetAttribute returns path's attributes as an io/fs.FileInfo.
func (c *Context) GetAttribute(path string) (iofs.FileInfo, error) {
	m, err := c.fs.GetMeta(path)
	if err != nil {
		return nil, err
	}
	return fileInfo{m}, nil
}

type fileInfo struct{ m Meta }

func (fi fileInfo) Name() string {
	if fi.m.Inode == RootInode {
		return "/"
	}
	return fi.m.Name
}
func (fi fileInfo) Size() int64        { return int64(fi.m.Size) }
func (fi fileInfo) ModTime() time.Time { return fi.m.Mtime }
func (fi fileInfo) IsDir() bool        { return fi.m.IsDir() }
func (fi fileInfo) Sys() any           { return fi.m }
func (fi fileInfo) Mode() iofs.FileMode {
	mode := iofs.FileMode(fi.m.Mode & 0o777)
	if fi.m.IsDir() {
		mode |= iofs.ModeDir
	}
	return mode
}

// ============================================================================
// File operations
// ============================================================================

func (c *Context) checkWritable(path string, flags int) error {
	if isWriteFlags(flags) && !c.IsServiceable() {
		return fserrors.NewBusyError(path, "backup pipeline is not serviceable")
	}
	return nil
}

// CreateAndOpenFile creates path, which must not exist, and opens it with
// flags.
func (c *Context) CreateAndOpenFile(path string, flags int, mode uint32) (int, error) {
	flags |= os.O_CREATE | os.O_EXCL
	if err := c.checkWritable(path, flags); err != nil {
		return -1, err
	}
	return c.fs.Open(path, flags, mode, c.cred)
}

// OpenFile opens an existing path.
func (c *Context) OpenFile(path string, flags int) (int, error) {
	if err := c.checkWritable(path, flags); err != nil {
		return -1, err
	}
	return c.fs.Open(path, flags&^os.O_CREATE, 0, c.cred)
}

// CloseFile releases fd.
func (c *Context) CloseFile(fd int) error { return c.fs.Close(fd) }

// TruncateFile sets the size of the file behind fd.
func (c *Context) TruncateFile(fd int, size uint64) error { return c.fs.Truncate(fd, size) }

// RemoveFile unlinks path.
func (c *Context) RemoveFile(path string) error { return c.fs.RemoveFile(path) }

// LinkFile adds dst as a name for src.
func (c *Context) LinkFile(src, dst string) error { return c.fs.LinkFile(src, dst) }

// Rename moves src to dst.
func (c *Context) Rename(src, dst string, flags RenameFlags) error {
	return c.fs.Rename(src, dst, flags)
}

// MkdirAll creates path and its missing ancestors.
func (c *Context) MkdirAll(path string, mode uint32) error {
	return c.fs.MkdirAll(path, mode, c.cred)
}

// DiscardFile closes fd and removes path, after checking that both still
// name the same inode. It is used to throw away a partially loaded file.
func (c *Context) DiscardFile(path string, fd int) error {
	fm, err := c.fs.GetFileMeta(fd)
	if err != nil {
		return err
	}
	pm, err := c.fs.GetMeta(path)
	if err != nil {
		return err
	}
	if fm.Inode != pm.Inode {
		return fserrors.NewStaleError(path, "descriptor and path name different inodes")
	}
	if err := c.fs.Close(fd); err != nil {
		return err
	}
	return c.fs.RemoveFile(path)
}

// MarkBackedUp clears the dirty flag of path if it still names inode and
// has not been modified since mtime.
func (c *Context) MarkBackedUp(path string, inode uint64, mtime time.Time) bool {
	id, err := c.fs.GetInodeWithPath(path)
	if err != nil || id != inode {
		return false
	}
	return c.fs.MarkClean(inode, mtime)
}

// ============================================================================
// Data
// ============================================================================

// GetFileBlocks returns the blocks of the file behind fd in order.
func (c *Context) GetFileBlocks(fd int) ([]bmm.BlockID, error) { return c.fs.GetFileBlocks(fd) }

// AllocDataBlocks reserves blocks for size bytes.
func (c *Context) AllocDataBlocks(fd int, size uint64) error { return c.fs.AllocDataBlocks(fd, size) }

// BlockToAddress returns the memory of one block.
func (c *Context) BlockToAddress(id bmm.BlockID) ([]byte, error) { return c.fs.BlockToAddress(id) }

// GetShareFileCfg returns the block size and block count of the pool.
func (c *Context) GetShareFileCfg() (blockSize, blockCount uint64) { return c.fs.ShareFileCfg() }

// FreeBlocks returns the number of unallocated blocks.
func (c *Context) FreeBlocks() uint64 { return c.fs.FreeBlocks() }

// ReadFile reads from the file behind fd.
func (c *Context) ReadFile(fd int, p []byte, off int64) (int, error) { return c.fs.ReadAt(fd, p, off) }

// WriteFile writes to the file behind fd.
func (c *Context) WriteFile(fd int, p []byte, off int64) (int, error) {
	return c.fs.WriteAt(fd, p, off)
}

// RecycleInodes runs one eviction pass.
func (c *Context) RecycleInodes(ctx context.Context, targetFreeBytes uint64) (uint64, int, error) {
	return c.evictor.RecycleInodes(ctx, targetFreeBytes)
}
