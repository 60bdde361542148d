package ufstest

import (
	"errors"
	"io/fs"
	"syscall"
	"testing"
)

// runFileOpsTests runs all file operation conformance tests.
func runFileOpsTests(t *testing.T, factory Factory) {
	t.Run("PutAndRead", func(t *testing.T) { testPutAndRead(t, factory) })
	t.Run("PutTruncates", func(t *testing.T) { testPutTruncates(t, factory) })
	t.Run("PutMissingParent", func(t *testing.T) { testPutMissingParent(t, factory) })
	t.Run("CreateExclusive", func(t *testing.T) { testCreateExclusive(t, factory) })
	t.Run("OpenErrors", func(t *testing.T) { testOpenErrors(t, factory) })
	t.Run("InodeIdentity", func(t *testing.T) { testInodeIdentity(t, factory) })
	t.Run("Unlink", func(t *testing.T) { testUnlink(t, factory) })
	t.Run("RenameReplaces", func(t *testing.T) { testRenameReplaces(t, factory) })
	t.Run("Chown", func(t *testing.T) { testChown(t, factory) })
}

// testPutAndRead verifies sequential and positional writes land where expected.
func testPutAndRead(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	w, err := store.PutFile(ctx, "/hello.txt", 0o644)
	if err != nil {
		t.Fatalf("PutFile() failed: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := w.WriteAt([]byte(" world"), 5); err != nil {
		t.Fatalf("WriteAt() failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	fi, err := store.Stat(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if fi.Size != 11 {
		t.Errorf("Size = %d, want 11", fi.Size)
	}
	if !fi.Mode.IsRegular() {
		t.Errorf("Mode = %v, want a regular file", fi.Mode)
	}
	if fi.Path != "/hello.txt" {
		t.Errorf("Path = %q, want /hello.txt", fi.Path)
	}
	if fi.ModTime.IsZero() {
		t.Error("ModTime should be set")
	}

	if got := string(readFile(t, store, "hello.txt")); got != "hello world" {
		t.Errorf("contents = %q, want %q", got, "hello world")
	}
}

// testPutTruncates verifies that PutFile replaces previous contents.
func testPutTruncates(t *testing.T, factory Factory) {
	store := factory(t)

	putFile(t, store, "/f", []byte("a much longer first version"))
	putFile(t, store, "/f", []byte("short"))

	if got := string(readFile(t, store, "/f")); got != "short" {
		t.Errorf("contents = %q, want %q", got, "short")
	}
}

// testPutMissingParent verifies PutFile does not create parents.
func testPutMissingParent(t *testing.T, factory Factory) {
	store := factory(t)

	_, err := store.PutFile(t.Context(), "/missing/f", 0o644)
	expectErrno(t, "PutFile under missing dir", err, syscall.ENOENT)
}

// testCreateExclusive verifies CreateFile never opens an existing entry and
// leaves its contents alone.
func testCreateExclusive(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	w, err := store.CreateFile(ctx, "/f", 0o644)
	if err != nil {
		t.Fatalf("CreateFile(new) failed: %v", err)
	}
	if _, err := w.Write([]byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = store.CreateFile(ctx, "/f", 0o644)
	expectErrno(t, "CreateFile(existing)", err, syscall.EEXIST)
	if got := string(readFile(t, store, "/f")); got != "first" {
		t.Errorf("contents after refused create = %q, want %q", got, "first")
	}

	mkdir(t, store, "/dir")
	_, err = store.CreateFile(ctx, "/dir", 0o644)
	expectErrno(t, "CreateFile(dir)", err, syscall.EEXIST)

	_, err = store.CreateFile(ctx, "/missing/f", 0o644)
	expectErrno(t, "CreateFile under missing dir", err, syscall.ENOENT)
}

// testOpenErrors verifies OpenFile on missing entries and directories.
func testOpenErrors(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	_, err := store.OpenFile(ctx, "/nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("OpenFile(missing) = %v, want fs.ErrNotExist", err)
	}

	mkdir(t, store, "/dir")
	_, err = store.OpenFile(ctx, "/dir")
	expectErrno(t, "OpenFile(dir)", err, syscall.EISDIR)

	_, err = store.Stat(ctx, "/nope")
	expectErrno(t, "Stat(missing)", err, syscall.ENOENT)
}

// testInodeIdentity verifies distinct files report distinct stable inodes.
func testInodeIdentity(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	putFile(t, store, "/a", []byte("first"))
	putFile(t, store, "/b", []byte("second"))

	a1, err := store.Lstat(ctx, "/a")
	if err != nil {
		t.Fatalf("Lstat(/a) failed: %v", err)
	}
	a2, err := store.Stat(ctx, "/a")
	if err != nil {
		t.Fatalf("Stat(/a) failed: %v", err)
	}
	b, err := store.Lstat(ctx, "/b")
	if err != nil {
		t.Fatalf("Lstat(/b) failed: %v", err)
	}

	if a1.Inode == 0 {
		t.Error("Inode should be non-zero")
	}
	if a1.Inode != a2.Inode {
		t.Errorf("Inode changed between stats: %d != %d", a1.Inode, a2.Inode)
	}
	if a1.Inode == b.Inode {
		t.Errorf("distinct files share inode %d", a1.Inode)
	}
}

// testUnlink verifies Unlink removes files and refuses directories.
func testUnlink(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	putFile(t, store, "/f", []byte("x"))
	if err := store.Unlink(ctx, "/f"); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	_, err := store.Stat(ctx, "/f")
	expectErrno(t, "Stat after Unlink", err, syscall.ENOENT)

	expectErrno(t, "Unlink(missing)", store.Unlink(ctx, "/f"), syscall.ENOENT)

	mkdir(t, store, "/dir")
	err = store.Unlink(ctx, "/dir")
	if err == nil {
		t.Fatal("Unlink(dir) should fail")
	}
	if _, err := store.Stat(ctx, "/dir"); err != nil {
		t.Errorf("directory should survive Unlink: %v", err)
	}
}

// testRenameReplaces verifies Rename moves contents over an existing file.
func testRenameReplaces(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	mkdir(t, store, "/dir")
	putFile(t, store, "/dir/.f.stg", []byte("new contents"))
	putFile(t, store, "/dir/f", []byte("old"))

	if err := store.Rename(ctx, "/dir/.f.stg", "/dir/f"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}

	_, err := store.Stat(ctx, "/dir/.f.stg")
	expectErrno(t, "Stat(old name)", err, syscall.ENOENT)
	if got := string(readFile(t, store, "/dir/f")); got != "new contents" {
		t.Errorf("contents = %q, want %q", got, "new contents")
	}

	expectErrno(t, "Rename(missing)", store.Rename(ctx, "/dir/nope", "/dir/x"), syscall.ENOENT)
}

// testChown verifies Chown accepts the entry's current owner.
func testChown(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	putFile(t, store, "/f", []byte("x"))
	fi, err := store.Lstat(ctx, "/f")
	if err != nil {
		t.Fatalf("Lstat() failed: %v", err)
	}
	if err := store.Chown(ctx, "/f", fi.UID, fi.GID); err != nil {
		t.Fatalf("Chown() failed: %v", err)
	}

	after, err := store.Lstat(ctx, "/f")
	if err != nil {
		t.Fatalf("Lstat() failed: %v", err)
	}
	if after.UID != fi.UID || after.GID != fi.GID {
		t.Errorf("owner = %d:%d, want %d:%d", after.UID, after.GID, fi.UID, fi.GID)
	}
}
