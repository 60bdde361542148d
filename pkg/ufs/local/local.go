//go:build linux || darwin

// Package local implements a ufs.FileSystem on a local or mounted POSIX
// directory tree, such as an NFS or Lustre mount.
//
// Metadata comes from lstat(2) through golang.org/x/sys/unix so the inode
// number and nanosecond mtime are exact. Locks are flock(2) locks taken
// with gofrs/flock, which makes them visible to other processes on the same
// host and, on file systems that forward flock, across hosts.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/marmos91/ckptfs/pkg/ufs"
)

// Config configures a local backend.
type Config struct {
	// Name identifies the backend. Defaults to "local:<root>".
	Name string

	// Root is the directory every UFS path is resolved under. It is created
	// if missing.
	Root string
}

// Store is a ufs.FileSystem rooted at a local directory.
type Store struct {
	name string
	root string
}

var _ ufs.FileSystem = (*Store)(nil)

// New creates the root directory if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("local ufs requires a root directory")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %q: %w", root, err)
	}
	name := cfg.Name
	if name == "" {
		name = "local:" + root
	}
	return &Store{name: name, root: root}, nil
}

// Name implements ufs.FileSystem.
func (s *Store) Name() string { return s.name }

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(p string) (string, string, error) {
	clean, err := ufs.Clean(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// relErr rewrites the path of an OS error to the UFS path.
func relErr(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return ufs.PathError(op, p, errno)
	}
	return &fs.PathError{Op: op, Path: p, Err: err}
}

// CreateDirectory implements ufs.FileSystem.
func (s *Store) CreateDirectory(_ context.Context, p string, mode fs.FileMode) error {
	clean, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	return relErr("mkdir", clean, unix.Mkdir(full, uint32(mode.Perm())))
}

// PutFile implements ufs.FileSystem.
func (s *Store) PutFile(_ context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return nil, relErr("put", clean, err)
	}
	return f, nil
}

// CreateFile implements ufs.FileSystem.
func (s *Store) CreateFile(_ context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
	if err != nil {
		return nil, relErr("create", clean, err)
	}
	return f, nil
}

// OpenFile implements ufs.FileSystem.
func (s *Store) OpenFile(_ context.Context, p string) (ufs.ReadHandle, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, relErr("open", clean, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, relErr("open", clean, err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, ufs.PathError("open", clean, syscall.EISDIR)
	}
	return f, nil
}

// Stat implements ufs.FileSystem.
func (s *Store) Stat(_ context.Context, p string) (*ufs.FileInfo, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Stat(full, &st); err != nil {
		return nil, relErr("stat", clean, err)
	}
	return fileInfo(clean, &st), nil
}

// Lstat implements ufs.FileSystem.
func (s *Store) Lstat(_ context.Context, p string) (*ufs.FileInfo, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, relErr("lstat", clean, err)
	}
	return fileInfo(clean, &st), nil
}

// ReadDir implements ufs.FileSystem.
func (s *Store) ReadDir(ctx context.Context, p string) ([]*ufs.FileInfo, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, relErr("readdir", clean, err)
	}
	out := make([]*ufs.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := s.Lstat(ctx, filepath.ToSlash(filepath.Join(clean, e.Name())))
		if err != nil {
			if ufs.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Unlink implements ufs.FileSystem.
func (s *Store) Unlink(_ context.Context, p string) error {
	clean, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err == nil && st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return ufs.PathError("unlink", clean, syscall.EISDIR)
	}
	return relErr("unlink", clean, unix.Unlink(full))
}

// Rmdir implements ufs.FileSystem.
func (s *Store) Rmdir(_ context.Context, p string) error {
	clean, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return ufs.PathError("rmdir", clean, syscall.EBUSY)
	}
	return relErr("rmdir", clean, unix.Rmdir(full))
}

// Rename implements ufs.FileSystem.
func (s *Store) Rename(_ context.Context, oldPath, newPath string) error {
	oldClean, oldFull, err := s.resolve(oldPath)
	if err != nil {
		return err
	}
	_, newFull, err := s.resolve(newPath)
	if err != nil {
		return err
	}
	return relErr("rename", oldClean, unix.Rename(oldFull, newFull))
}

// Chown implements ufs.FileSystem.
func (s *Store) Chown(_ context.Context, p string, uid, gid uint32) error {
	clean, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	return relErr("chown", clean, unix.Lchown(full, int(uid), int(gid)))
}

// Lock implements ufs.FileSystem with a non-blocking flock(2).
func (s *Store) Lock(_ context.Context, p string) (ufs.Unlocker, error) {
	clean, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	// flock creates missing files, Lock must not.
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, relErr("lock", clean, err)
	}
	fl := flock.New(full)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, relErr("lock", clean, err)
	}
	if !ok {
		return nil, ufs.PathError("lock", clean, ufs.ErrLocked)
	}
	return fl, nil
}

// Close implements ufs.FileSystem.
func (s *Store) Close() error { return nil }

func fileInfo(p string, st *unix.Stat_t) *ufs.FileInfo {
	mode := fs.FileMode(st.Mode & 0o777)
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= fs.ModeDir
	case unix.S_IFLNK:
		mode |= fs.ModeSymlink
	case unix.S_IFREG:
	default:
		mode |= fs.ModeIrregular
	}
	return &ufs.FileInfo{
		Path:    p,
		Size:    st.Size,
		Mode:    mode,
		ModTime: mtimeOf(st),
		Inode:   uint64(st.Ino),
		UID:     st.Uid,
		GID:     st.Gid,
	}
}
