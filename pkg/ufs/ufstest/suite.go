package ufstest

import (
	"errors"
	"io"
	"io/fs"
	"syscall"
	"testing"

	"github.com/marmos91/ckptfs/pkg/ufs"
)

// Factory creates a fresh, empty FileSystem for each test.
type Factory func(t *testing.T) ufs.FileSystem

// RunConformanceSuite runs the full conformance suite against the backends
// produced by factory. Each test gets a fresh instance.
//
// The suite covers three categories:
//   - FileOps: put, read, stat, unlink, rename, chown
//   - DirOps: mkdir, listing, rmdir, path validation
//   - Locks: exclusive non-blocking locks
func RunConformanceSuite(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("FileOps", func(t *testing.T) {
		runFileOpsTests(t, factory)
	})

	t.Run("DirOps", func(t *testing.T) {
		runDirOpsTests(t, factory)
	})

	t.Run("Locks", func(t *testing.T) {
		runLockTests(t, factory)
	})
}

// putFile writes data to p and closes the handle.
func putFile(t *testing.T, store ufs.FileSystem, p string, data []byte) {
	t.Helper()

	w, err := store.PutFile(t.Context(), p, 0o644)
	if err != nil {
		t.Fatalf("PutFile(%q) failed: %v", p, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		t.Fatalf("Write(%q) failed: %v", p, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%q) failed: %v", p, err)
	}
}

// readFile returns the full contents of p.
func readFile(t *testing.T, store ufs.FileSystem, p string) []byte {
	t.Helper()

	ctx := t.Context()
	fi, err := store.Stat(ctx, p)
	if err != nil {
		t.Fatalf("Stat(%q) failed: %v", p, err)
	}
	r, err := store.OpenFile(ctx, p)
	if err != nil {
		t.Fatalf("OpenFile(%q) failed: %v", p, err)
	}
	defer func() { _ = r.Close() }()

	buf := make([]byte, fi.Size)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt(%q) failed: %v", p, err)
	}
	return buf[:n]
}

// mkdir creates a directory or fails the test.
func mkdir(t *testing.T, store ufs.FileSystem, p string) {
	t.Helper()

	if err := store.CreateDirectory(t.Context(), p, 0o755); err != nil {
		t.Fatalf("CreateDirectory(%q) failed: %v", p, err)
	}
}

// expectErrno fails unless err carries want.
func expectErrno(t *testing.T, what string, err error, want syscall.Errno) {
	t.Helper()

	if err == nil {
		t.Fatalf("%s: expected %v, got nil", what, want)
	}
	if got := ufs.Errno(err); got != want {
		t.Fatalf("%s: errno = %v (%v), want %v", what, got, err, want)
	}
	var pe *fs.PathError
	if !errors.As(err, &pe) {
		t.Errorf("%s: error %T is not a *fs.PathError", what, err)
	}
}
