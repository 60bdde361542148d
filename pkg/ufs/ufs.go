// Package ufs defines the under file system: the durable store that memfs
// files are backed up to and preloaded from.
//
// Paths are slash-separated and absolute relative to the root of the
// backend ("/ckpt/step-1/model.pt"). Errors are *fs.PathError values wrapping
// a syscall.Errno, so callers test them with errors.Is against fs.ErrNotExist,
// fs.ErrExist or the errno itself regardless of the backend.
package ufs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"syscall"
	"time"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// ErrLocked is returned by Lock when another holder owns the lock.
var ErrLocked = syscall.EWOULDBLOCK

// FileInfo describes one UFS entry.
type FileInfo struct {
	Path    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	Inode   uint64
	UID     uint32
	GID     uint32
}

// IsDir reports whether the entry is a directory.
func (fi *FileInfo) IsDir() bool { return fi.Mode.IsDir() }

// WriteHandle is an open, writable UFS file. Data is durable once Sync or
// Close returns nil.
type WriteHandle interface {
	io.Writer
	io.WriterAt
	Sync() error
	Close() error
}

// ReadHandle is an open, readable UFS file.
type ReadHandle interface {
	io.ReaderAt
	io.Closer
}

// Unlocker releases a lock taken with Lock.
type Unlocker interface {
	Unlock() error
}

// FileSystem is the contract every backend implements.
//
// Thread safety: implementations must be safe for concurrent use.
type FileSystem interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// CreateDirectory creates one directory. The parent must exist. It
	// fails with EEXIST if anything already occupies the path.
	CreateDirectory(ctx context.Context, path string, mode fs.FileMode) error

	// PutFile creates or truncates a regular file and opens it for writing.
	PutFile(ctx context.Context, path string, mode fs.FileMode) (WriteHandle, error)

	// CreateFile creates a new empty regular file and opens it for writing.
	// It fails with EEXIST if anything already occupies the path, so two
	// callers racing on one path never both get a handle.
	CreateFile(ctx context.Context, path string, mode fs.FileMode) (WriteHandle, error)

	// OpenFile opens a regular file for reading. Directories fail with EISDIR.
	OpenFile(ctx context.Context, path string) (ReadHandle, error)

	// Stat returns the attributes of path, following symlinks.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Lstat returns the attributes of path itself.
	Lstat(ctx context.Context, path string) (*FileInfo, error)

	// ReadDir lists the entries of a directory sorted by name.
	ReadDir(ctx context.Context, path string) ([]*FileInfo, error)

	// Unlink removes a non-directory.
	Unlink(ctx context.Context, path string) error

	// Rmdir removes an empty directory.
	Rmdir(ctx context.Context, path string) error

	// Rename moves oldPath to newPath, replacing a non-directory target.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Chown changes ownership. Backends without ownership ignore it.
	Chown(ctx context.Context, path string, uid, gid uint32) error

	// Lock takes an exclusive advisory lock on an existing file without
	// blocking. It fails with ENOENT if the file is missing and ErrLocked if
	// the lock is held elsewhere.
	Lock(ctx context.Context, path string) (Unlocker, error)

	// Close releases backend resources.
	Close() error
}

// PathError builds the error value backends return.
func PathError(op, p string, errno syscall.Errno) error {
	return &fs.PathError{Op: op, Path: p, Err: errno}
}

// Clean validates p and returns its canonical form ("/" for the root).
func Clean(p string) (string, error) {
	if err := fserrors.CheckPath(p); err != nil {
		return "", PathError("clean", p, syscall.ENAMETOOLONG)
	}
	if p == "" {
		return "/", nil
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// Parent returns the parent directory of a clean path.
func Parent(p string) string {
	return path.Dir(p)
}

// Ancestors returns every proper ancestor of a clean path, root excluded,
// outermost first: "/a/b/c" yields ["/a", "/a/b"].
func Ancestors(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		out = append(out, dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Errno extracts the syscall.Errno carried by err, or 0.
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

// IsExist reports whether err means the path is already taken.
func IsExist(err error) bool { return errors.Is(err, fs.ErrExist) }

// IsLocked reports whether err means the lock is held elsewhere.
func IsLocked(err error) bool { return errors.Is(err, ErrLocked) }
