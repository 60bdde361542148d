// Package memory implements an in-process ufs.FileSystem for tests.
//
// Besides the normal contract it counts PutFile calls per path and can be
// told to fail the next n calls of an operation, which is how the backup
// pipeline's retry and rollback paths are exercised without a real store.
package memory

import (
	"context"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/marmos91/ckptfs/pkg/ufs"
)

// Op names an operation for failure injection.
type Op string

const (
	OpCreateDirectory Op = "mkdir"
	OpPutFile         Op = "put"
	OpCreateFile      Op = "create"
	OpOpenFile        Op = "open"
	OpStat            Op = "stat"
	OpLstat           Op = "lstat"
	OpReadDir         Op = "readdir"
	OpUnlink          Op = "unlink"
	OpRmdir           Op = "rmdir"
	OpRename          Op = "rename"
	OpChown           Op = "chown"
	OpLock            Op = "lock"
	OpWrite           Op = "write"
	OpRead            Op = "read"
)

type node struct {
	dir    bool
	mode   fs.FileMode
	data   []byte
	mtime  time.Time
	ino    uint64
	uid    uint32
	gid    uint32
	locked bool
}

type failure struct {
	remaining int
	err       error
	path      string
}

// Store is an in-memory ufs.FileSystem.
type Store struct {
	name string

	mu       sync.Mutex
	nodes    map[string]*node
	nextIno  uint64
	puts     map[string]int
	failures map[Op][]*failure
	now      func() time.Time
}

var _ ufs.FileSystem = (*Store)(nil)

// New returns an empty store containing only the root directory.
func New(name string) *Store {
	if name == "" {
		name = "memory"
	}
	s := &Store{
		name:     name,
		nodes:    make(map[string]*node),
		puts:     make(map[string]int),
		failures: make(map[Op][]*failure),
		now:      time.Now,
	}
	s.nodes["/"] = &node{dir: true, mode: 0o755, mtime: s.now(), ino: s.ino()}
	return s
}

func (s *Store) ino() uint64 {
	s.nextIno++
	return s.nextIno
}

// FailNext makes the next n calls of op fail with err. err should carry a
// syscall.Errno for callers that inspect it.
func (s *Store) FailNext(op Op, n int, err error) {
	s.FailNextAt(op, "", n, err)
}

// FailNextAt is FailNext restricted to one path. An empty path matches all.
func (s *Store) FailNextAt(op Op, path string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], &failure{remaining: n, err: err, path: path})
}

// PutCount returns how many times PutFile was called for path.
func (s *Store) PutCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, _ := ufs.Clean(path)
	return s.puts[clean]
}

// SetModTime overrides the mtime of path. Tests use it to simulate another
// writer making progress.
func (s *Store) SetModTime(path string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := ufs.Clean(path)
	if err != nil {
		return err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return ufs.PathError("chtimes", clean, syscall.ENOENT)
	}
	n.mtime = t
	return nil
}

// Contents returns a copy of a file's bytes.
func (s *Store) Contents(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := ufs.Clean(path)
	if err != nil {
		return nil, false
	}
	n, ok := s.nodes[clean]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// injected returns the error planned for op on path. Caller holds mu.
func (s *Store) injected(op Op, path string) error {
	list := s.failures[op]
	for i, f := range list {
		if f.path != "" && f.path != path {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			s.failures[op] = append(list[:i:i], list[i+1:]...)
		}
		return f.err
	}
	return nil
}

// begin validates path, checks the context and consumes injected failures.
// Caller holds mu.
func (s *Store) begin(ctx context.Context, op Op, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := ufs.Clean(p)
	if err != nil {
		return "", err
	}
	if err := s.injected(op, clean); err != nil {
		return "", err
	}
	return clean, nil
}

// parentDir checks that the parent of clean exists and is a directory.
// Caller holds mu.
func (s *Store) parentDir(op Op, clean string) (*node, error) {
	parent, ok := s.nodes[ufs.Parent(clean)]
	if !ok {
		return nil, ufs.PathError(string(op), clean, syscall.ENOENT)
	}
	if !parent.dir {
		return nil, ufs.PathError(string(op), clean, syscall.ENOTDIR)
	}
	return parent, nil
}

func (s *Store) info(clean string, n *node) *ufs.FileInfo {
	mode := n.mode.Perm()
	if n.dir {
		mode |= fs.ModeDir
	}
	return &ufs.FileInfo{
		Path:    clean,
		Size:    int64(len(n.data)),
		Mode:    mode,
		ModTime: n.mtime,
		Inode:   n.ino,
		UID:     n.uid,
		GID:     n.gid,
	}
}

// Name implements ufs.FileSystem.
func (s *Store) Name() string { return s.name }

// CreateDirectory implements ufs.FileSystem.
func (s *Store) CreateDirectory(ctx context.Context, p string, mode fs.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpCreateDirectory, p)
	if err != nil {
		return err
	}
	if _, ok := s.nodes[clean]; ok {
		return ufs.PathError(string(OpCreateDirectory), clean, syscall.EEXIST)
	}
	parent, err := s.parentDir(OpCreateDirectory, clean)
	if err != nil {
		return err
	}
	now := s.now()
	s.nodes[clean] = &node{dir: true, mode: mode.Perm(), mtime: now, ino: s.ino()}
	parent.mtime = now
	return nil
}

// PutFile implements ufs.FileSystem.
func (s *Store) PutFile(ctx context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpPutFile, p)
	if err != nil {
		return nil, err
	}
	s.puts[clean]++
	if n, ok := s.nodes[clean]; ok {
		if n.dir {
			return nil, ufs.PathError(string(OpPutFile), clean, syscall.EISDIR)
		}
		n.data = n.data[:0]
		n.mtime = s.now()
		return &writeHandle{s: s, path: clean, n: n}, nil
	}
	parent, err := s.parentDir(OpPutFile, clean)
	if err != nil {
		return nil, err
	}
	n := &node{mode: mode.Perm(), mtime: s.now(), ino: s.ino()}
	s.nodes[clean] = n
	parent.mtime = n.mtime
	return &writeHandle{s: s, path: clean, n: n}, nil
}

// CreateFile implements ufs.FileSystem.
func (s *Store) CreateFile(ctx context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpCreateFile, p)
	if err != nil {
		return nil, err
	}
	if _, ok := s.nodes[clean]; ok {
		return nil, ufs.PathError(string(OpCreateFile), clean, syscall.EEXIST)
	}
	parent, err := s.parentDir(OpCreateFile, clean)
	if err != nil {
		return nil, err
	}
	s.puts[clean]++
	n := &node{mode: mode.Perm(), mtime: s.now(), ino: s.ino()}
	s.nodes[clean] = n
	parent.mtime = n.mtime
	return &writeHandle{s: s, path: clean, n: n}, nil
}

// OpenFile implements ufs.FileSystem.
func (s *Store) OpenFile(ctx context.Context, p string) (ufs.ReadHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpOpenFile, p)
	if err != nil {
		return nil, err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return nil, ufs.PathError(string(OpOpenFile), clean, syscall.ENOENT)
	}
	if n.dir {
		return nil, ufs.PathError(string(OpOpenFile), clean, syscall.EISDIR)
	}
	return &readHandle{s: s, path: clean, n: n}, nil
}

// Stat implements ufs.FileSystem. The store has no symlinks.
func (s *Store) Stat(ctx context.Context, p string) (*ufs.FileInfo, error) {
	return s.stat(ctx, OpStat, p)
}

// Lstat implements ufs.FileSystem.
func (s *Store) Lstat(ctx context.Context, p string) (*ufs.FileInfo, error) {
	return s.stat(ctx, OpLstat, p)
}

func (s *Store) stat(ctx context.Context, op Op, p string) (*ufs.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, op, p)
	if err != nil {
		return nil, err
	}
	n, ok := s.nodes[clean]
	if !ok {
		if _, perr := s.parentDir(op, clean); perr != nil && ufs.Errno(perr) == syscall.ENOTDIR {
			return nil, perr
		}
		return nil, ufs.PathError(string(op), clean, syscall.ENOENT)
	}
	return s.info(clean, n), nil
}

// ReadDir implements ufs.FileSystem.
func (s *Store) ReadDir(ctx context.Context, p string) ([]*ufs.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpReadDir, p)
	if err != nil {
		return nil, err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return nil, ufs.PathError(string(OpReadDir), clean, syscall.ENOENT)
	}
	if !n.dir {
		return nil, ufs.PathError(string(OpReadDir), clean, syscall.ENOTDIR)
	}
	prefix := clean
	if prefix != "/" {
		prefix += "/"
	}
	var out []*ufs.FileInfo
	for k, child := range s.nodes {
		if k == clean || !strings.HasPrefix(k, prefix) || strings.Contains(k[len(prefix):], "/") {
			continue
		}
		out = append(out, s.info(k, child))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) hasChildren(clean string) bool {
	prefix := clean + "/"
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Unlink implements ufs.FileSystem.
func (s *Store) Unlink(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpUnlink, p)
	if err != nil {
		return err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return ufs.PathError(string(OpUnlink), clean, syscall.ENOENT)
	}
	if n.dir {
		return ufs.PathError(string(OpUnlink), clean, syscall.EISDIR)
	}
	delete(s.nodes, clean)
	return nil
}

// Rmdir implements ufs.FileSystem.
func (s *Store) Rmdir(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpRmdir, p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return ufs.PathError(string(OpRmdir), clean, syscall.EBUSY)
	}
	n, ok := s.nodes[clean]
	if !ok {
		return ufs.PathError(string(OpRmdir), clean, syscall.ENOENT)
	}
	if !n.dir {
		return ufs.PathError(string(OpRmdir), clean, syscall.ENOTDIR)
	}
	if s.hasChildren(clean) {
		return ufs.PathError(string(OpRmdir), clean, syscall.ENOTEMPTY)
	}
	delete(s.nodes, clean)
	return nil
}

// Rename implements ufs.FileSystem. Renaming directories is not supported.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldClean, err := s.begin(ctx, OpRename, oldPath)
	if err != nil {
		return err
	}
	newClean, err := ufs.Clean(newPath)
	if err != nil {
		return err
	}
	n, ok := s.nodes[oldClean]
	if !ok {
		return ufs.PathError(string(OpRename), oldClean, syscall.ENOENT)
	}
	if n.dir {
		return ufs.PathError(string(OpRename), oldClean, syscall.EXDEV)
	}
	if target, ok := s.nodes[newClean]; ok && target.dir {
		return ufs.PathError(string(OpRename), newClean, syscall.EISDIR)
	}
	if _, err := s.parentDir(OpRename, newClean); err != nil {
		return err
	}
	delete(s.nodes, oldClean)
	s.nodes[newClean] = n
	return nil
}

// Chown implements ufs.FileSystem.
func (s *Store) Chown(ctx context.Context, p string, uid, gid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpChown, p)
	if err != nil {
		return err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return ufs.PathError(string(OpChown), clean, syscall.ENOENT)
	}
	n.uid, n.gid = uid, gid
	return nil
}

// Lock implements ufs.FileSystem. The lock follows the node across renames.
func (s *Store) Lock(ctx context.Context, p string) (ufs.Unlocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := s.begin(ctx, OpLock, p)
	if err != nil {
		return nil, err
	}
	n, ok := s.nodes[clean]
	if !ok {
		return nil, ufs.PathError(string(OpLock), clean, syscall.ENOENT)
	}
	if n.locked {
		return nil, ufs.PathError(string(OpLock), clean, ufs.ErrLocked)
	}
	n.locked = true
	return &unlocker{s: s, n: n}, nil
}

// Close implements ufs.FileSystem.
func (s *Store) Close() error { return nil }

type unlocker struct {
	s    *Store
	n    *node
	once sync.Once
}

func (u *unlocker) Unlock() error {
	u.once.Do(func() {
		u.s.mu.Lock()
		u.n.locked = false
		u.s.mu.Unlock()
	})
	return nil
}

// writeHandle writes straight into the node, like a file on a real file
// system: readers and Lstat see progress before Close.
type writeHandle struct {
	s      *Store
	path   string
	n      *node
	off    int64
	closed bool
}

func (w *writeHandle) Write(p []byte) (int, error) {
	n, err := w.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

func (w *writeHandle) WriteAt(p []byte, off int64) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.closed {
		return 0, fs.ErrClosed
	}
	if off < 0 {
		return 0, ufs.PathError(string(OpWrite), w.path, syscall.EINVAL)
	}
	if err := w.s.injected(OpWrite, w.path); err != nil {
		return 0, err
	}
	end := off + int64(len(p))
	if end > int64(len(w.n.data)) {
		grown := make([]byte, end)
		copy(grown, w.n.data)
		w.n.data = grown
	}
	copy(w.n.data[off:], p)
	w.n.mtime = w.s.now()
	return len(p), nil
}

func (w *writeHandle) Sync() error { return nil }

func (w *writeHandle) Close() error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.closed = true
	return nil
}

type readHandle struct {
	s    *Store
	path string
	n    *node
}

func (r *readHandle) ReadAt(p []byte, off int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected(OpRead, r.path); err != nil {
		return 0, err
	}
	if off >= int64(len(r.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *readHandle) Close() error { return nil }
