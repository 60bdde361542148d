package ufstest

import (
	"strings"
	"syscall"
	"testing"
)

// runDirOpsTests runs all directory operation conformance tests.
func runDirOpsTests(t *testing.T, factory Factory) {
	t.Run("CreateDirectory", func(t *testing.T) { testCreateDirectory(t, factory) })
	t.Run("CreateDirectoryConflicts", func(t *testing.T) { testCreateDirectoryConflicts(t, factory) })
	t.Run("ReadDir", func(t *testing.T) { testReadDir(t, factory) })
	t.Run("Rmdir", func(t *testing.T) { testRmdir(t, factory) })
	t.Run("PathTooLong", func(t *testing.T) { testPathTooLong(t, factory) })
	t.Run("RootIsDirectory", func(t *testing.T) { testRootIsDirectory(t, factory) })
}

// testCreateDirectory verifies nested directory creation one level at a time.
func testCreateDirectory(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	mkdir(t, store, "/a")
	mkdir(t, store, "/a/b")

	fi, err := store.Stat(ctx, "/a/b")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if !fi.IsDir() {
		t.Errorf("Mode = %v, want a directory", fi.Mode)
	}
}

// testCreateDirectoryConflicts verifies EEXIST and missing-parent failures.
func testCreateDirectoryConflicts(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	mkdir(t, store, "/d")
	expectErrno(t, "mkdir existing dir", store.CreateDirectory(ctx, "/d", 0o755), syscall.EEXIST)

	putFile(t, store, "/f", []byte("x"))
	expectErrno(t, "mkdir over file", store.CreateDirectory(ctx, "/f", 0o755), syscall.EEXIST)

	expectErrno(t, "mkdir missing parent", store.CreateDirectory(ctx, "/x/y", 0o755), syscall.ENOENT)
}

// testReadDir verifies listing returns direct children sorted by name.
func testReadDir(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	mkdir(t, store, "/d")
	mkdir(t, store, "/d/sub")
	putFile(t, store, "/d/b", []byte("bb"))
	putFile(t, store, "/d/a", []byte("a"))
	putFile(t, store, "/d/sub/deep", []byte("hidden"))

	entries, err := store.ReadDir(ctx, "/d")
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Path)
	}
	want := []string{"/d/a", "/d/b", "/d/sub"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ReadDir() = %v, want %v", got, want)
	}
	if entries[1].Size != 2 {
		t.Errorf("Size(/d/b) = %d, want 2", entries[1].Size)
	}
	if !entries[2].IsDir() {
		t.Error("/d/sub should be a directory")
	}

	_, err = store.ReadDir(ctx, "/missing")
	expectErrno(t, "ReadDir(missing)", err, syscall.ENOENT)
}

// testRmdir verifies Rmdir only removes empty directories.
func testRmdir(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	mkdir(t, store, "/d")
	putFile(t, store, "/d/f", []byte("x"))

	expectErrno(t, "Rmdir non-empty", store.Rmdir(ctx, "/d"), syscall.ENOTEMPTY)
	expectErrno(t, "Rmdir file", store.Rmdir(ctx, "/d/f"), syscall.ENOTDIR)
	expectErrno(t, "Rmdir missing", store.Rmdir(ctx, "/nope"), syscall.ENOENT)

	if err := store.Unlink(ctx, "/d/f"); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	if err := store.Rmdir(ctx, "/d"); err != nil {
		t.Fatalf("Rmdir() failed: %v", err)
	}
	_, err := store.Stat(ctx, "/d")
	expectErrno(t, "Stat after Rmdir", err, syscall.ENOENT)
}

// testPathTooLong verifies the path length limit is enforced before any I/O.
func testPathTooLong(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	long := "/" + strings.Repeat("x", 4095)
	_, err := store.Stat(ctx, long)
	expectErrno(t, "Stat(long)", err, syscall.ENAMETOOLONG)
	_, err = store.PutFile(ctx, long, 0o644)
	expectErrno(t, "PutFile(long)", err, syscall.ENAMETOOLONG)
}

// testRootIsDirectory verifies the root always exists as a directory.
func testRootIsDirectory(t *testing.T, factory Factory) {
	store := factory(t)

	fi, err := store.Stat(t.Context(), "/")
	if err != nil {
		t.Fatalf("Stat(/) failed: %v", err)
	}
	if !fi.IsDir() {
		t.Errorf("root Mode = %v, want a directory", fi.Mode)
	}
}
