package memfs

import (
	"sync"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// OpenedFile is the per-descriptor state bound to one inode.
type OpenedFile struct {
	mu        sync.Mutex
	fd        int
	allocated bool
	inode     *Inode
	path      string
	flags     int
	writable  bool
}

// Initialize binds the slot to inode. It fails if the slot is in use or
// the inode is a directory.
func (f *OpenedFile) Initialize(inode *Inode, path string, flags int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.allocated {
		return fserrors.NewBusyError(path, "opened file slot already allocated")
	}
	if inode == nil {
		return fserrors.NewInvalidArgumentError(path, "nil inode")
	}
	if inode.typ == TypeDir {
		return fserrors.NewIsDirectoryError(path)
	}
	f.allocated = true
	f.inode = inode
	f.path = path
	f.flags = flags
	f.writable = isWriteFlags(flags)
	return nil
}

// Release clears the slot. It fails if the slot is not in use.
func (f *OpenedFile) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.allocated {
		return fserrors.New(fserrors.ErrBadDescriptor, "", "opened file %d not allocated", f.fd)
	}
	f.allocated = false
	f.inode = nil
	f.path = ""
	f.flags = 0
	f.writable = false
	return nil
}

// Inode returns the bound inode, or nil for a free slot.
func (f *OpenedFile) Inode() *Inode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inode
}

func (f *OpenedFile) snapshot() (inode *Inode, path string, writable, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inode, f.path, f.writable, f.allocated
}

// fdTable is a fixed-size descriptor table. It is allocated by
// FileSystem.Initialize and nil before that.
type fdTable struct {
	mu    sync.Mutex
	files []*OpenedFile
	free  []int
}

func newFDTable(size int) *fdTable {
	t := &fdTable{
		files: make([]*OpenedFile, size),
		free:  make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		t.files[i] = &OpenedFile{fd: i}
		t.free = append(t.free, i)
	}
	return t
}

// reserve pops a free slot.
func (t *fdTable) reserve() (*OpenedFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil, fserrors.New(fserrors.ErrTooManyOpenFiles, "", "descriptor table full (%d)", len(t.files))
	}
	fd := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	return t.files[fd], nil
}

// giveBack returns a slot to the free list. The slot must already be released.
func (t *fdTable) giveBack(f *OpenedFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.free = append(t.free, f.fd)
}

func (t *fdTable) get(fd int) (*OpenedFile, error) {
	if fd < 0 || fd >= len(t.files) {
		return nil, fserrors.New(fserrors.ErrBadDescriptor, "", "bad descriptor %d", fd)
	}
	return t.files[fd], nil
}

func (t *fdTable) inUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files) - len(t.free)
}
