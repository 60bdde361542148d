package ufstest

import (
	"syscall"
	"testing"

	"github.com/marmos91/ckptfs/pkg/ufs"
)

// runLockTests runs the advisory lock conformance tests.
func runLockTests(t *testing.T, factory Factory) {
	t.Run("LockMissing", func(t *testing.T) { testLockMissing(t, factory) })
	t.Run("LockExclusive", func(t *testing.T) { testLockExclusive(t, factory) })
}

// testLockMissing verifies Lock never creates the file.
func testLockMissing(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	_, err := store.Lock(ctx, "/nope")
	expectErrno(t, "Lock(missing)", err, syscall.ENOENT)

	_, err = store.Stat(ctx, "/nope")
	expectErrno(t, "Stat after Lock(missing)", err, syscall.ENOENT)
}

// testLockExclusive verifies a held lock blocks others until released.
func testLockExclusive(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := t.Context()

	putFile(t, store, "/f", []byte("x"))

	first, err := store.Lock(ctx, "/f")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	_, err = store.Lock(ctx, "/f")
	if !ufs.IsLocked(err) {
		t.Fatalf("second Lock() = %v, want ErrLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}

	second, err := store.Lock(ctx, "/f")
	if err != nil {
		t.Fatalf("Lock() after Unlock failed: %v", err)
	}
	if err := second.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}
