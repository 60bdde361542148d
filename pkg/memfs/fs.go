// Package memfs implements the memory-resident file system used as the
// acceleration cache of the checkpoint pipeline.
//
// The namespace is an arena of inodes keyed by id. Directories map names to
// child ids and never hold pointers to children, so parent, child and the
// evictor never share ownership of an inode. Regular files store content in
// a reference-counted bmm.BlockList owned by the arena.
//
// Locking: every inode has its own RWMutex. An operation that needs more
// than one inode locks them in ascending id order (see lockInodes), which is
// directory-before-child for every tree that was built top-down and stays
// deadlock-free after cross-directory renames. The arena lock is a leaf lock
// and is never held while acquiring an inode lock.
package memfs

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// DefaultMaxOpenFiles is the descriptor table size used when none is set.
const DefaultMaxOpenFiles = 4096

// maxRenameAttempts bounds how often Rename re-resolves after losing a race.
const maxRenameAttempts = 8

// Config sizes a FileSystem.
type Config struct {
	BlockSize    uint64
	BlockCount   uint64
	MaxOpenFiles int
}

// Option configures a FileSystem.
type Option func(*fsOptions)

type fsOptions struct {
	allocator bmm.PoolAllocator
	metrics   Metrics
}

// WithPoolAllocator overrides how the block pool is reserved.
func WithPoolAllocator(a bmm.PoolAllocator) Option {
	return func(o *fsOptions) { o.allocator = a }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *fsOptions) { o.metrics = m }
}

// FileSystem is the syscall-shaped facade over the namespace, the block
// manager and the descriptor table.
type FileSystem struct {
	cfg     Config
	bmm     *bmm.Manager
	metrics Metrics

	lifeMu      sync.Mutex
	initialized atomic.Bool
	fds         atomic.Pointer[fdTable]

	arenaMu sync.RWMutex
	inodes  map[uint64]*Inode
	nextID  atomic.Uint64

	hookMu  sync.RWMutex
	notify  FileOpNotify
	reclaim func(needBytes uint64)
}

// NewFileSystem creates an uninitialized FileSystem.
func NewFileSystem(cfg Config, opts ...Option) *FileSystem {
	o := fsOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultMaxOpenFiles
	}
	var bmmOpts []bmm.Option
	if o.allocator != nil {
		bmmOpts = append(bmmOpts, bmm.WithPoolAllocator(o.allocator))
	}
	return &FileSystem{
		cfg:     cfg,
		bmm:     bmm.New(bmm.Config{BlockSize: cfg.BlockSize, BlockCount: cfg.BlockCount}, bmmOpts...),
		metrics: o.metrics,
	}
}

// Initialize reserves the block pool, creates the root directory and
// allocates the descriptor table. On failure nothing is left allocated.
func (fs *FileSystem) Initialize() error {
	fs.lifeMu.Lock()
	defer fs.lifeMu.Unlock()

	if fs.initialized.Load() {
		return nil
	}
	if fs.cfg.BlockSize == 0 || fs.cfg.BlockCount == 0 {
		return fserrors.NewInvalidArgumentError("", fmt.Sprintf(
			"configuration yields no usable blocks (block_size=%d block_count=%d)",
			fs.cfg.BlockSize, fs.cfg.BlockCount))
	}
	if err := fs.bmm.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize block memory manager: %w", err)
	}

	root := newInode(RootInode, RootInode, "/", TypeDir, 0o755, RootCred)
	fs.arenaMu.Lock()
	fs.inodes = map[uint64]*Inode{RootInode: root}
	fs.arenaMu.Unlock()
	fs.nextID.Store(RootInode)

	fs.fds.Store(newFDTable(fs.cfg.MaxOpenFiles))
	fs.initialized.Store(true)

	logger.Info("memfs initialized",
		logger.KeyBlockSize, fs.cfg.BlockSize,
		logger.KeyBlocks, fs.cfg.BlockCount,
		"max_open_files", fs.cfg.MaxOpenFiles)
	return nil
}

// Destroy drops every inode and releases the pool. It is safe to call on an
// uninitialized FileSystem.
func (fs *FileSystem) Destroy() error {
	fs.lifeMu.Lock()
	defer fs.lifeMu.Unlock()

	if !fs.initialized.Load() {
		return nil
	}
	fs.initialized.Store(false)
	fs.fds.Store(nil)

	fs.arenaMu.Lock()
	for _, in := range fs.inodes {
		if in.blocks != nil {
			in.blocks.Unref()
		}
	}
	fs.inodes = nil
	fs.arenaMu.Unlock()

	return fs.bmm.UnInitialize()
}

// Initialized reports whether Initialize succeeded and Destroy has not run.
func (fs *FileSystem) Initialized() bool {
	return fs.initialized.Load()
}

// SetNotify registers the event consumer. Only the first registration wins.
func (fs *FileSystem) SetNotify(n FileOpNotify) bool {
	fs.hookMu.Lock()
	defer fs.hookMu.Unlock()
	if fs.notify != nil {
		return false
	}
	fs.notify = n
	return true
}

// setReclaimer installs the hook called when a block reservation fails.
func (fs *FileSystem) setReclaimer(fn func(needBytes uint64)) {
	fs.hookMu.Lock()
	defer fs.hookMu.Unlock()
	fs.reclaim = fn
}

func (fs *FileSystem) notifier() FileOpNotify {
	fs.hookMu.RLock()
	defer fs.hookMu.RUnlock()
	return fs.notify
}

func (fs *FileSystem) reclaimer() func(uint64) {
	fs.hookMu.RLock()
	defer fs.hookMu.RUnlock()
	return fs.reclaim
}

func (fs *FileSystem) ready() error {
	if !fs.initialized.Load() {
		return fserrors.NewNotInitializedError("memfs")
	}
	return nil
}

// ============================================================================
// Arena
// ============================================================================

func (fs *FileSystem) getInode(id uint64) *Inode {
	fs.arenaMu.RLock()
	defer fs.arenaMu.RUnlock()
	return fs.inodes[id]
}

func (fs *FileSystem) putInode(in *Inode) {
	fs.arenaMu.Lock()
	fs.inodes[in.id] = in
	fs.arenaMu.Unlock()
}

// destroy removes an unlinked, closed inode from the arena and drops the
// arena's reference on its blocks.
func (fs *FileSystem) destroy(in *Inode) {
	fs.arenaMu.Lock()
	if fs.inodes != nil {
		delete(fs.inodes, in.id)
	}
	fs.arenaMu.Unlock()
	if in.blocks != nil {
		in.blocks.Unref()
	}
	recordBlocks(fs.metrics, fs.bmm.UsedCount(), fs.bmm.FreeCount())
}

// InodeCount returns the number of live inodes, root included.
func (fs *FileSystem) InodeCount() int {
	fs.arenaMu.RLock()
	defer fs.arenaMu.RUnlock()
	return len(fs.inodes)
}

// regularInodes snapshots every regular-file inode.
func (fs *FileSystem) regularInodes() []*Inode {
	fs.arenaMu.RLock()
	defer fs.arenaMu.RUnlock()
	out := make([]*Inode, 0, len(fs.inodes))
	for _, in := range fs.inodes {
		if in.typ == TypeReg {
			out = append(out, in)
		}
	}
	return out
}

// lockInodes write-locks the distinct non-nil inodes in ascending id order
// and returns the matching unlock function.
func lockInodes(ins ...*Inode) func() {
	set := sortedInodes(ins)
	for _, in := range set {
		in.mu.Lock()
	}
	return func() {
		for i := len(set) - 1; i >= 0; i-- {
			set[i].mu.Unlock()
		}
	}
}

// tryLockInodes is lockInodes without blocking. It reports false, holding
// nothing, if any lock is taken.
func tryLockInodes(ins ...*Inode) (func(), bool) {
	set := sortedInodes(ins)
	for i, in := range set {
		if !in.mu.TryLock() {
			for j := i - 1; j >= 0; j-- {
				set[j].mu.Unlock()
			}
			return nil, false
		}
	}
	return func() {
		for i := len(set) - 1; i >= 0; i-- {
			set[i].mu.Unlock()
		}
	}, true
}

func sortedInodes(ins []*Inode) []*Inode {
	set := make([]*Inode, 0, len(ins))
	for _, in := range ins {
		if in == nil {
			continue
		}
		dup := false
		for _, s := range set {
			if s == in {
				dup = true
				break
			}
		}
		if !dup {
			set = append(set, in)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].id < set[j].id })
	return set
}

// ============================================================================
// Path resolution
// ============================================================================

// splitPath validates p and returns its components. The empty path and "/"
// both name the root and yield no components.
func splitPath(p string) ([]string, error) {
	if err := fserrors.CheckPath(p); err != nil {
		return nil, err
	}
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fserrors.NewInvalidArgumentError(p, "path must be absolute")
	}
	clean := path.Clean(p)
	if clean == "/" {
		return nil, nil
	}
	return strings.Split(clean[1:], "/"), nil
}

// lookup walks p one component at a time. It returns the parent directory,
// the leaf (nil if the last component does not exist) and the last
// component. Intermediate failures are returned as errors. The root resolves
// to itself with an empty last component.
func (fs *FileSystem) lookup(p string) (parent, leaf *Inode, last string, err error) {
	comps, err := splitPath(p)
	if err != nil {
		return nil, nil, "", err
	}
	root := fs.getInode(RootInode)
	if root == nil {
		return nil, nil, "", fserrors.NewNotInitializedError("memfs")
	}
	if len(comps) == 0 {
		return root, root, "", nil
	}

	cur := root
	for i, name := range comps {
		cur.mu.RLock()
		d, lerr := cur.LookupDentry(name)
		cur.mu.RUnlock()

		if i == len(comps)-1 {
			if lerr != nil {
				if fserrors.IsNotFoundError(lerr) {
					return cur, nil, name, nil
				}
				return nil, nil, "", fserrors.Wrap(fserrors.CodeOf(lerr), p, lerr, "lookup failed")
			}
			return cur, fs.getInode(d.Inode), name, nil
		}

		if lerr != nil {
			return nil, nil, "", fserrors.Wrap(fserrors.CodeOf(lerr), p, lerr, "lookup failed")
		}
		if d.Type != TypeDir {
			return nil, nil, "", fserrors.NewNotDirectoryError(p)
		}
		next := fs.getInode(d.Inode)
		if next == nil {
			return nil, nil, "", fserrors.NewNotFoundError(p, "path")
		}
		cur = next
	}
	return nil, nil, "", fserrors.NewNotFoundError(p, "path")
}

// GetInodeWithPath resolves p to an inode id. The empty path is the root.
func (fs *FileSystem) GetInodeWithPath(p string) (uint64, error) {
	if err := fs.ready(); err != nil {
		return 0, err
	}
	_, leaf, _, err := fs.lookup(p)
	if err != nil {
		return 0, err
	}
	if leaf == nil {
		return 0, fserrors.NewNotFoundError(p, "file")
	}
	return leaf.id, nil
}

// PathOf rebuilds the path of an inode by walking parents.
func (fs *FileSystem) PathOf(id uint64) (string, error) {
	var names []string
	cur := id
	for depth := 0; cur != RootInode; depth++ {
		if depth >= fserrors.MaxPathLen {
			return "", fserrors.NewInvalidArgumentError("", "parent chain too deep")
		}
		in := fs.getInode(cur)
		if in == nil {
			return "", fserrors.NewNotFoundError("", "inode")
		}
		in.mu.RLock()
		names = append(names, in.name)
		cur = in.parent
		in.mu.RUnlock()
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/"), nil
}

func (fs *FileSystem) isAncestor(ancestor, id uint64) bool {
	cur := id
	for depth := 0; depth < fserrors.MaxPathLen; depth++ {
		if cur == ancestor {
			return true
		}
		if cur == RootInode {
			return false
		}
		in := fs.getInode(cur)
		if in == nil {
			return false
		}
		in.mu.RLock()
		cur = in.parent
		in.mu.RUnlock()
	}
	return false
}

// ============================================================================
// Create / Mkdir
// ============================================================================

func (fs *FileSystem) create(p string, typ FileType, mode uint32, cred Cred) (*Inode, error) {
	parent, leaf, name, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if leaf != nil || name == "" {
		return nil, fserrors.NewAlreadyExistsError(p)
	}
	if !parent.CheckPermission(cred, PermWrite|PermExec) {
		return nil, fserrors.NewPermissionDeniedError(p)
	}

	in := newInode(fs.nextID.Add(1), parent.id, name, typ, mode, cred)
	if typ == TypeReg {
		in.blocks = fs.bmm.NewBlockList()
	}

	// The inode enters the arena before its dentry becomes visible.
	fs.putInode(in)
	parent.mu.Lock()
	err = parent.AddDentry(name, in.id, typ)
	parent.mu.Unlock()
	if err != nil {
		fs.destroy(in)
		return nil, fserrors.Wrap(fserrors.CodeOf(err), p, err, "create failed")
	}
	return in, nil
}

// Create makes a new regular file.
func (fs *FileSystem) Create(p string, mode uint32, cred Cred) (Meta, error) {
	if err := fs.ready(); err != nil {
		return Meta{}, err
	}
	in, err := fs.create(p, TypeReg, mode, cred)
	observeOperation(fs.metrics, "create", err)
	if err != nil {
		return Meta{}, err
	}
	return in.Meta(), nil
}

// Mkdir makes a new directory.
func (fs *FileSystem) Mkdir(p string, mode uint32, cred Cred) error {
	if err := fs.ready(); err != nil {
		return err
	}
	_, err := fs.create(p, TypeDir, mode, cred)
	observeOperation(fs.metrics, "mkdir", err)
	return err
}

// MkdirAll makes p and any missing ancestors. Existing directories are fine;
// an existing file on the way is not.
func (fs *FileSystem) MkdirAll(p string, mode uint32, cred Cred) error {
	comps, err := splitPath(p)
	if err != nil {
		return err
	}
	cur := ""
	for _, c := range comps {
		cur += "/" + c
		err := fs.Mkdir(cur, mode, cred)
		if err == nil {
			continue
		}
		if !fserrors.IsAlreadyExistsError(err) {
			return err
		}
		meta, err := fs.GetMeta(cur)
		if err != nil {
			return err
		}
		if !meta.IsDir() {
			return fserrors.NewNotDirectoryError(cur)
		}
	}
	return nil
}

// ============================================================================
// Open / Close
// ============================================================================

// Open allocates a descriptor for p. With os.O_CREATE a missing file is
// created with mode. A writable open is exclusive: it fails with Busy while
// another writer holds the inode. On failure no descriptor or flag is left
// behind.
func (fs *FileSystem) Open(p string, flags int, mode uint32, cred Cred) (int, error) {
	fd, err := fs.open(p, flags, mode, cred)
	observeOperation(fs.metrics, "open", err)
	return fd, err
}

func (fs *FileSystem) open(p string, flags int, mode uint32, cred Cred) (int, error) {
	if err := fs.ready(); err != nil {
		return -1, err
	}
	_, leaf, _, err := fs.lookup(p)
	if err != nil {
		return -1, err
	}
	if leaf == nil {
		if flags&os.O_CREATE == 0 {
			return -1, fserrors.NewNotFoundError(p, "file")
		}
		leaf, err = fs.create(p, TypeReg, mode, cred)
		if err != nil {
			return -1, err
		}
	} else if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
		return -1, fserrors.NewAlreadyExistsError(p)
	}

	if leaf.typ == TypeDir {
		return -1, fserrors.NewIsDirectoryError(p)
	}
	if !leaf.CheckPermission(cred, accessMode(flags)) {
		return -1, fserrors.NewPermissionDeniedError(p)
	}
	fds := fs.fds.Load()
	if fds == nil {
		return -1, fserrors.NewNotInitializedError("descriptor table")
	}

	writing := isWriteFlags(flags)
	leaf.mu.Lock()
	if leaf.removed {
		leaf.mu.Unlock()
		return -1, fserrors.NewNotFoundError(p, "file")
	}
	if writing && leaf.writing {
		leaf.mu.Unlock()
		return -1, fserrors.NewBusyError(p, "file is open for writing")
	}
	slot, err := fds.reserve()
	if err != nil {
		leaf.mu.Unlock()
		return -1, err
	}
	if err := slot.Initialize(leaf, p, flags); err != nil {
		fds.giveBack(slot)
		leaf.mu.Unlock()
		return -1, err
	}
	if writing {
		leaf.writing = true
		if flags&os.O_TRUNC != 0 && leaf.size > 0 {
			leaf.size = 0
			leaf.blocks.Shrink(0)
			leaf.mtime = time.Now()
			leaf.dirty = true
		}
	}
	leaf.openCount.Add(1)
	leaf.atime = time.Now()
	inode := leaf.id
	leaf.mu.Unlock()
	leaf.touch()
	recordOpenFiles(fs.metrics, fds.inUse())

	if n := fs.notifier(); n != nil {
		if err := n.OpenFileNotify(slot.fd, p, flags, inode); err != nil {
			_ = fs.closeFD(slot.fd, false)
			return -1, fmt.Errorf("open notify for %s: %w", p, err)
		}
	}
	logger.Debug("memfs open", logger.KeyPath, p, logger.KeyFD, slot.fd, logger.KeyInode, inode, "write", writing)
	return slot.fd, nil
}

// Close releases fd. Closing the last descriptor of an unlinked file frees
// its blocks.
func (fs *FileSystem) Close(fd int) error {
	err := fs.closeFD(fd, true)
	observeOperation(fs.metrics, "close", err)
	return err
}

func (fs *FileSystem) closeFD(fd int, notify bool) error {
	fds := fs.fds.Load()
	if fds == nil {
		return fserrors.NewNotInitializedError("descriptor table")
	}
	f, err := fds.get(fd)
	if err != nil {
		return err
	}
	in, p, writable, ok := f.snapshot()
	if !ok {
		return fserrors.New(fserrors.ErrBadDescriptor, "", "descriptor %d is not open", fd)
	}
	if err := f.Release(); err != nil {
		return err
	}
	fds.giveBack(f)

	in.mu.Lock()
	if writable {
		in.writing = false
	}
	remaining := in.openCount.Add(-1)
	gone := in.removed && remaining == 0
	in.mu.Unlock()
	in.touch()
	recordOpenFiles(fs.metrics, fds.inUse())

	if gone {
		fs.destroy(in)
		return nil
	}
	if notify && writable {
		if cn, ok := fs.notifier().(CloseNotifier); ok {
			if err := cn.CloseFileNotify(fd, p, in.id); err != nil {
				logger.Warn("close notify failed", logger.KeyPath, p, logger.KeyFD, fd, logger.KeyError, err)
			}
		}
	}
	return nil
}

// openFile returns the inode behind fd.
func (fs *FileSystem) openFile(fd int) (*Inode, string, bool, error) {
	fds := fs.fds.Load()
	if fds == nil {
		return nil, "", false, fserrors.NewNotInitializedError("descriptor table")
	}
	f, err := fds.get(fd)
	if err != nil {
		return nil, "", false, err
	}
	in, p, writable, ok := f.snapshot()
	if !ok {
		return nil, "", false, fserrors.New(fserrors.ErrBadDescriptor, "", "descriptor %d is not open", fd)
	}
	return in, p, writable, nil
}

func (fs *FileSystem) writableFile(fd int) (*Inode, string, error) {
	in, p, writable, err := fs.openFile(fd)
	if err != nil {
		return nil, "", err
	}
	if !writable {
		return nil, "", fserrors.New(fserrors.ErrBadDescriptor, p, "descriptor %d is not open for writing", fd)
	}
	return in, p, nil
}

// ============================================================================
// Remove / Link / Rename
// ============================================================================

// dropLinkLocked accounts for one removed name of in and reports whether the
// inode should be destroyed now. Caller holds in.mu.
func dropLinkLocked(in *Inode) bool {
	in.ctime = time.Now()
	if in.typ == TypeDir {
		in.removed = true
		return true
	}
	if in.nlink > 0 {
		in.nlink--
	}
	if in.nlink > 0 {
		return false
	}
	in.removed = true
	return in.openCount.Load() == 0
}

// dentryIs reports whether parent maps name to want (or to nothing when want
// is nil). Caller holds parent.mu.
func dentryIs(parent *Inode, name string, want *Inode) bool {
	d, err := parent.LookupDentry(name)
	if want == nil {
		return fserrors.IsNotFoundError(err)
	}
	return err == nil && d.Inode == want.id
}

// RemoveFile unlinks p. Directories must be empty. A file that is still open
// keeps its blocks until the last Close.
func (fs *FileSystem) RemoveFile(p string) error {
	err := fs.removeFile(p)
	observeOperation(fs.metrics, "remove", err)
	return err
}

func (fs *FileSystem) removeFile(p string) error {
	if err := fs.ready(); err != nil {
		return err
	}
	parent, leaf, name, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if leaf == nil {
		return fserrors.NewNotFoundError(p, "file")
	}
	if name == "" {
		return fserrors.NewBusyError(p, "cannot remove root")
	}

	unlock := lockInodes(parent, leaf)
	if !dentryIs(parent, name, leaf) {
		unlock()
		return fserrors.NewStaleError(p, "entry changed during remove")
	}
	if leaf.typ == TypeDir && !leaf.emptyLocked() {
		unlock()
		return fserrors.New(fserrors.ErrNotEmpty, p, "directory not empty")
	}
	if _, err := parent.RemoveDentry(name); err != nil {
		unlock()
		return err
	}
	gone := dropLinkLocked(leaf)
	unlock()

	if gone {
		fs.destroy(leaf)
	}
	return nil
}

// LinkFile adds dst as a new name for the regular file src and raises
// NewFileNotify. If the consumer rejects the event the new name is removed.
func (fs *FileSystem) LinkFile(src, dst string) error {
	err := fs.linkFile(src, dst)
	observeOperation(fs.metrics, "link", err)
	return err
}

func (fs *FileSystem) linkFile(src, dst string) error {
	if err := fs.ready(); err != nil {
		return err
	}
	_, srcIn, _, err := fs.lookup(src)
	if err != nil {
		return err
	}
	if srcIn == nil {
		return fserrors.NewNotFoundError(src, "file")
	}
	if srcIn.typ == TypeDir {
		return fserrors.NewIsDirectoryError(src)
	}
	dParent, dLeaf, dName, err := fs.lookup(dst)
	if err != nil {
		return err
	}
	if dLeaf != nil || dName == "" {
		return fserrors.NewAlreadyExistsError(dst)
	}

	unlock := lockInodes(dParent, srcIn)
	if srcIn.removed {
		unlock()
		return fserrors.NewNotFoundError(src, "file")
	}
	if err := dParent.AddDentry(dName, srcIn.id, TypeReg); err != nil {
		unlock()
		return fserrors.Wrap(fserrors.CodeOf(err), dst, err, "link failed")
	}
	srcIn.nlink++
	srcIn.ctime = time.Now()
	unlock()

	if n := fs.notifier(); n != nil {
		if err := n.NewFileNotify(dst, srcIn.id); err != nil {
			undo := lockInodes(dParent, srcIn)
			if dentryIs(dParent, dName, srcIn) {
				if _, rerr := dParent.RemoveDentry(dName); rerr == nil {
					srcIn.nlink--
				}
			}
			undo()
			return fmt.Errorf("new file notify for %s: %w", dst, err)
		}
	}
	return nil
}

// checkRenameFlags validates rename preconditions that depend only on which
// ends exist.
func checkRenameFlags(src, dst *Inode, flags RenameFlags) error {
	if flags&RenameExchange != 0 && flags&RenameNoReplace != 0 {
		return fserrors.NewInvalidArgumentError("", "exchange and noreplace are exclusive")
	}
	if flags&RenameExchange != 0 && (src == nil || dst == nil) {
		return fserrors.NewNotFoundError("", "exchange target")
	}
	if flags&RenameNoReplace != 0 && dst != nil {
		return fserrors.NewAlreadyExistsError("")
	}
	if src == nil {
		return fserrors.NewNotFoundError("", "rename source")
	}
	return nil
}

// Rename moves src to dst. RenameExchange swaps two existing entries
// atomically; RenameNoReplace fails if dst exists. Without flags an existing
// dst of a compatible type is replaced.
func (fs *FileSystem) Rename(src, dst string, flags RenameFlags) error {
	err := fs.rename(src, dst, flags)
	observeOperation(fs.metrics, "rename", err)
	return err
}

func (fs *FileSystem) rename(src, dst string, flags RenameFlags) error {
	if err := fs.ready(); err != nil {
		return err
	}
	for attempt := 0; attempt < maxRenameAttempts; attempt++ {
		sParent, sLeaf, sName, err := fs.lookup(src)
		if err != nil {
			return err
		}
		dParent, dLeaf, dName, err := fs.lookup(dst)
		if err != nil {
			return err
		}
		if sName == "" || dName == "" {
			return fserrors.NewBusyError(src, "cannot rename root")
		}
		if err := checkRenameFlags(sLeaf, dLeaf, flags); err != nil {
			return fserrors.Wrap(fserrors.CodeOf(err), src+" -> "+dst, err, "rename rejected")
		}
		if dLeaf != nil && dLeaf.id == sLeaf.id {
			return nil
		}
		if sLeaf.typ == TypeDir && fs.isAncestor(sLeaf.id, dParent.id) {
			return fserrors.NewInvalidArgumentError(dst, "cannot move a directory into itself")
		}
		if flags&RenameExchange != 0 && dLeaf.typ == TypeDir && fs.isAncestor(dLeaf.id, sParent.id) {
			return fserrors.NewInvalidArgumentError(src, "cannot move a directory into itself")
		}

		unlock := lockInodes(sParent, dParent, sLeaf, dLeaf)
		if !dentryIs(sParent, sName, sLeaf) || !dentryIs(dParent, dName, dLeaf) {
			unlock()
			continue
		}
		victim, err := renameLocked(sParent, sName, sLeaf, dParent, dName, dLeaf, flags)
		unlock()
		if victim != nil {
			fs.destroy(victim)
		}
		return err
	}
	return fserrors.NewBusyError(src, "rename kept racing with concurrent updates")
}

// renameLocked performs the dentry surgery with every involved inode locked.
// It returns an inode to destroy when a replaced destination lost its last
// name.
func renameLocked(sParent *Inode, sName string, sLeaf *Inode, dParent *Inode, dName string, dLeaf *Inode, flags RenameFlags) (*Inode, error) {
	now := time.Now()
	if flags&RenameExchange != 0 {
		if err := sParent.ExchangeDentry(sName, dParent, dName); err != nil {
			return nil, err
		}
		sLeaf.parent, sLeaf.name, sLeaf.ctime = dParent.id, dName, now
		dLeaf.parent, dLeaf.name, dLeaf.ctime = sParent.id, sName, now
		return nil, nil
	}

	var victim *Inode
	if dLeaf != nil {
		switch {
		case sLeaf.typ == TypeDir && dLeaf.typ != TypeDir:
			return nil, fserrors.NewNotDirectoryError(dName)
		case sLeaf.typ != TypeDir && dLeaf.typ == TypeDir:
			return nil, fserrors.NewIsDirectoryError(dName)
		case dLeaf.typ == TypeDir && !dLeaf.emptyLocked():
			return nil, fserrors.New(fserrors.ErrNotEmpty, dName, "directory not empty")
		}
		if _, err := dParent.RemoveDentry(dName); err != nil {
			return nil, err
		}
		if dropLinkLocked(dLeaf) {
			victim = dLeaf
		}
	}
	if _, err := sParent.RemoveDentry(sName); err != nil {
		return victim, err
	}
	if err := dParent.AddDentry(dName, sLeaf.id, sLeaf.typ); err != nil {
		// Put the source back; both directories are still locked.
		_ = sParent.AddDentry(sName, sLeaf.id, sLeaf.typ)
		return victim, err
	}
	sLeaf.parent, sLeaf.name, sLeaf.ctime = dParent.id, dName, now
	return victim, nil
}

// ============================================================================
// Metadata
// ============================================================================

// GetMeta returns the attributes of p.
func (fs *FileSystem) GetMeta(p string) (Meta, error) {
	if err := fs.ready(); err != nil {
		return Meta{}, err
	}
	_, leaf, _, err := fs.lookup(p)
	if err != nil {
		return Meta{}, err
	}
	if leaf == nil {
		return Meta{}, fserrors.NewNotFoundError(p, "file")
	}
	return leaf.Meta(), nil
}

// GetFileMeta returns the attributes of the file behind fd.
func (fs *FileSystem) GetFileMeta(fd int) (Meta, error) {
	in, _, _, err := fs.openFile(fd)
	if err != nil {
		return Meta{}, err
	}
	return in.Meta(), nil
}

// SetACL replaces the ACL of p.
func (fs *FileSystem) SetACL(p string, acl *ACL) error {
	if err := fs.ready(); err != nil {
		return err
	}
	_, leaf, _, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if leaf == nil {
		return fserrors.NewNotFoundError(p, "file")
	}
	leaf.SetACL(acl)
	return nil
}

// MarkClean clears the dirty flag of inode if its content has not changed
// since mtime. It reports whether the flag was cleared.
func (fs *FileSystem) MarkClean(inode uint64, mtime time.Time) bool {
	in := fs.getInode(inode)
	if in == nil {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.removed || !in.mtime.Equal(mtime) {
		return false
	}
	in.dirty = false
	return true
}

// ============================================================================
// Data
// ============================================================================

// reserve grows l to hold size bytes, asking the reclaimer for memory once
// if the pool is short.
func (fs *FileSystem) reserve(l *bmm.BlockList, size uint64) error {
	err := l.Reserve(size)
	if err == nil || !fserrors.IsNoSpaceError(err) {
		return err
	}
	reclaim := fs.reclaimer()
	if reclaim == nil {
		return err
	}
	need := (fs.bmm.BlocksFor(size) - uint64(l.Len())) * fs.bmm.BlockSize()
	reclaim(need)
	return l.Reserve(size)
}

// AllocDataBlocks makes sure the file behind fd has blocks for size bytes.
// The logical size is not changed.
func (fs *FileSystem) AllocDataBlocks(fd int, size uint64) error {
	in, p, err := fs.writableFile(fd)
	if err != nil {
		return err
	}
	if err := fs.reserve(in.blocks, size); err != nil {
		return fserrors.Wrap(fserrors.CodeOf(err), p, err, "block allocation failed")
	}
	in.mu.Lock()
	in.dirty = true
	in.mu.Unlock()
	recordBlocks(fs.metrics, fs.bmm.UsedCount(), fs.bmm.FreeCount())
	return nil
}

// Truncate sets the logical size of the file behind fd, allocating or
// releasing whole blocks as needed.
func (fs *FileSystem) Truncate(fd int, size uint64) error {
	in, p, err := fs.writableFile(fd)
	if err != nil {
		return err
	}
	if err := fs.reserve(in.blocks, size); err != nil {
		return fserrors.Wrap(fserrors.CodeOf(err), p, err, "truncate failed")
	}
	in.mu.Lock()
	in.size = size
	in.mtime = time.Now()
	in.dirty = true
	in.mu.Unlock()
	in.blocks.Shrink(size)
	return nil
}

// GetFileBlocks returns the block ids of the file behind fd in file order.
func (fs *FileSystem) GetFileBlocks(fd int) ([]bmm.BlockID, error) {
	in, _, _, err := fs.openFile(fd)
	if err != nil {
		return nil, err
	}
	return in.blocks.Blocks(), nil
}

// BlockToAddress returns the memory of one block.
func (fs *FileSystem) BlockToAddress(id bmm.BlockID) ([]byte, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	return fs.bmm.BlockToAddress(id)
}

// WriteAt writes p at off through fd, growing the file as needed.
func (fs *FileSystem) WriteAt(fd int, p []byte, off int64) (int, error) {
	in, name, err := fs.writableFile(fd)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fserrors.NewInvalidArgumentError(name, "negative offset")
	}
	end := uint64(off) + uint64(len(p))
	if err := fs.reserve(in.blocks, end); err != nil {
		return 0, fserrors.Wrap(fserrors.CodeOf(err), name, err, "write failed")
	}
	n, err := in.blocks.WriteAt(p, off)
	in.mu.Lock()
	if end := uint64(off) + uint64(n); end > in.size {
		in.size = end
	}
	in.mtime = time.Now()
	in.dirty = true
	in.mu.Unlock()
	return n, err
}

// ReadAt reads into p from off through fd. It returns io.EOF at end of file.
func (fs *FileSystem) ReadAt(fd int, p []byte, off int64) (int, error) {
	in, _, _, err := fs.openFile(fd)
	if err != nil {
		return 0, err
	}
	in.mu.RLock()
	size := in.size
	in.mu.RUnlock()
	in.touch()
	return in.blocks.ReadAt(p, off, size)
}

// ShareFileCfg returns the pool geometry.
func (fs *FileSystem) ShareFileCfg() (blockSize, blockCount uint64) {
	return fs.cfg.BlockSize, fs.cfg.BlockCount
}

// FreeBlocks returns the number of unallocated blocks.
func (fs *FileSystem) FreeBlocks() uint64 {
	return fs.bmm.FreeCount()
}

// OpenFiles returns the number of descriptors in use.
func (fs *FileSystem) OpenFiles() int {
	fds := fs.fds.Load()
	if fds == nil {
		return 0
	}
	return fds.inUse()
}
