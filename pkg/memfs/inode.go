package memfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// Inode is one node of the namespace. Inodes live in the FileSystem arena
// keyed by id; directories reference children by id only.
//
// Fields below mu are guarded by it. lastAccess and openCount are atomics so
// the evictor can rank candidates without taking inode locks.
type Inode struct {
	id  uint64
	typ FileType

	mu       sync.RWMutex
	parent   uint64
	name     string
	mode     uint32
	uid      uint32
	gid      uint32
	size     uint64
	nlink    uint32
	atime    time.Time
	mtime    time.Time
	ctime    time.Time
	acl      *ACL
	removed  bool
	writing  bool
	dirty    bool
	dentries map[string]Dentry
	blocks   *bmm.BlockList

	lastAccess atomic.Int64
	openCount  atomic.Int32
}

func newInode(id, parent uint64, name string, typ FileType, mode uint32, cred Cred) *Inode {
	now := time.Now()
	in := &Inode{
		id:     id,
		typ:    typ,
		parent: parent,
		name:   name,
		mode:   mode & 0o7777,
		uid:    cred.UID,
		gid:    cred.GID,
		nlink:  1,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
	if typ == TypeDir {
		in.dentries = make(map[string]Dentry)
		in.nlink = 2
	}
	in.lastAccess.Store(now.UnixNano())
	return in
}

// ID returns the inode number.
func (in *Inode) ID() uint64 { return in.id }

// Type returns the inode type.
func (in *Inode) Type() FileType { return in.typ }

func (in *Inode) touch() {
	in.lastAccess.Store(time.Now().UnixNano())
}

// metaLocked snapshots attributes. Caller holds mu (read or write).
func (in *Inode) metaLocked() Meta {
	return Meta{
		Inode:   in.id,
		Parent:  in.parent,
		Name:    in.name,
		Type:    in.typ,
		Mode:    in.mode,
		UID:     in.uid,
		GID:     in.gid,
		Size:    in.size,
		Nlink:   in.nlink,
		Atime:   in.atime,
		Mtime:   in.mtime,
		Ctime:   in.ctime,
		Writing: in.writing,
		Dirty:   in.dirty,
	}
}

// Meta returns a snapshot of the inode attributes.
func (in *Inode) Meta() Meta {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.metaLocked()
}

// ============================================================================
// Dentry operations. Callers hold mu for writing.
// ============================================================================

func (in *Inode) checkDirLocked() error {
	if in.removed {
		return fserrors.NewRemovedError(in.name)
	}
	if in.typ != TypeDir {
		return fserrors.NewNotDirectoryError(in.name)
	}
	return nil
}

// AddDentry links name to child.
func (in *Inode) AddDentry(name string, child uint64, typ FileType) error {
	if err := in.checkDirLocked(); err != nil {
		return err
	}
	if name == "" {
		return fserrors.NewInvalidArgumentError("", "empty dentry name")
	}
	if _, ok := in.dentries[name]; ok {
		return fserrors.NewAlreadyExistsError(name)
	}
	in.dentries[name] = Dentry{Name: name, Inode: child, Type: typ}
	if typ == TypeDir {
		in.nlink++
	}
	in.mtime = time.Now()
	in.ctime = in.mtime
	return nil
}

// RemoveDentry unlinks name and returns the removed entry.
func (in *Inode) RemoveDentry(name string) (Dentry, error) {
	if err := in.checkDirLocked(); err != nil {
		return Dentry{}, err
	}
	d, ok := in.dentries[name]
	if !ok {
		return Dentry{}, fserrors.NewNotFoundError(name, "dentry")
	}
	delete(in.dentries, name)
	if d.Type == TypeDir {
		in.nlink--
	}
	in.mtime = time.Now()
	in.ctime = in.mtime
	return d, nil
}

// LookupDentry resolves one name.
func (in *Inode) LookupDentry(name string) (Dentry, error) {
	if err := in.checkDirLocked(); err != nil {
		return Dentry{}, err
	}
	d, ok := in.dentries[name]
	if !ok {
		return Dentry{}, fserrors.NewNotFoundError(name, "dentry")
	}
	return d, nil
}

// ExchangeDentry swaps the targets of name in this directory and otherName
// in other. Both names must exist. other may be the receiver itself; the
// caller holds both locks.
func (in *Inode) ExchangeDentry(name string, other *Inode, otherName string) error {
	if err := in.checkDirLocked(); err != nil {
		return err
	}
	if err := other.checkDirLocked(); err != nil {
		return err
	}
	if name == "" || otherName == "" {
		return fserrors.NewInvalidArgumentError("", "exchange needs both names")
	}
	a, ok := in.dentries[name]
	if !ok {
		return fserrors.NewNotFoundError(name, "dentry")
	}
	b, ok := other.dentries[otherName]
	if !ok {
		return fserrors.NewNotFoundError(otherName, "dentry")
	}
	in.dentries[name] = Dentry{Name: name, Inode: b.Inode, Type: b.Type}
	other.dentries[otherName] = Dentry{Name: otherName, Inode: a.Inode, Type: a.Type}
	if in != other && a.Type != b.Type {
		if a.Type == TypeDir {
			in.nlink--
			other.nlink++
		} else {
			in.nlink++
			other.nlink--
		}
	}
	now := time.Now()
	in.mtime, in.ctime = now, now
	other.mtime, other.ctime = now, now
	return nil
}

// Empty reports whether a directory has no entries.
func (in *Inode) emptyLocked() bool {
	return len(in.dentries) == 0
}

// SetACL replaces the ACL.
func (in *Inode) SetACL(acl *ACL) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.acl = acl.Clone()
	in.ctime = time.Now()
}

// CheckPermission evaluates mask for cred against mode bits and ACL.
func (in *Inode) CheckPermission(cred Cred, mask uint32) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return checkPermission(cred, in.uid, in.gid, in.mode, in.acl, mask)
}
