package memfs

import (
	"os"
	"time"
)

// FileType distinguishes directories from regular files. memfs models no
// other kinds.
type FileType uint8

const (
	TypeDir FileType = iota + 1
	TypeReg
)

func (t FileType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeReg:
		return "file"
	default:
		return "unknown"
	}
}

// RootInode is the inode id of "/".
const RootInode uint64 = 1

// Permission bits requested by Open and checked against mode and ACL.
const (
	PermRead  uint32 = 4
	PermWrite uint32 = 2
	PermExec  uint32 = 1
)

// Cred identifies the caller of a namespace operation.
type Cred struct {
	UID uint32
	GID uint32
}

// RootCred bypasses permission checks.
var RootCred = Cred{}

// ProcessCred returns the credentials of the running process.
func ProcessCred() Cred {
	return Cred{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
}

// Meta is a point-in-time copy of an inode's attributes.
type Meta struct {
	Inode   uint64
	Parent  uint64
	Name    string
	Type    FileType
	Mode    uint32
	UID     uint32
	GID     uint32
	Size    uint64
	Nlink   uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Writing bool
	Dirty   bool
}

// IsDir reports whether the inode is a directory.
func (m Meta) IsDir() bool { return m.Type == TypeDir }

// Dentry is one entry of a directory.
type Dentry struct {
	Name  string
	Inode uint64
	Type  FileType
}

// RenameFlags select rename semantics.
type RenameFlags uint32

const (
	// RenameNoReplace fails if the destination exists.
	RenameNoReplace RenameFlags = 1 << iota
	// RenameExchange atomically swaps source and destination.
	RenameExchange
)

// accessMode derives the permission bits implied by open flags.
func accessMode(flags int) uint32 {
	switch flags & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		return PermWrite
	case os.O_RDWR:
		return PermRead | PermWrite
	default:
		return PermRead
	}
}

// isWriteFlags reports whether flags open for writing.
func isWriteFlags(flags int) bool {
	return accessMode(flags)&PermWrite != 0 || flags&os.O_TRUNC != 0
}
