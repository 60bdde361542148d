package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ckptfs/pkg/backup"
	"github.com/marmos91/ckptfs/pkg/ufs/memory"
)

// embeddedBackends are the backends that run without external services.
var embeddedBackends = []string{BackendBadger, BackendSQLite}

func newTestLedger(t *testing.T, backend string) Store {
	t.Helper()
	l, err := Open(Options{Backend: backend, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// forEachBackend runs fn against a fresh in-memory store of every embedded
// backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, l Store)) {
	for _, backend := range embeddedBackends {
		t.Run(backend, func(t *testing.T) {
			fn(t, newTestLedger(t, backend))
		})
	}
}

func TestPutLoadDelete(t *testing.T) {
	forEachBackend(t, testPutLoadDelete)
}

func testPutLoadDelete(t *testing.T, l Store) {
	mtime := time.Unix(1700000000, 123456789).UTC()
	e := backup.ViewEntry{Inode: 3, Mtime: mtime, Generation: 7, UfsInode: 42}

	require.NoError(t, l.Put("s3", "/ckpt/a", e))
	require.NoError(t, l.Put("s3", "/ckpt/b", e))
	require.NoError(t, l.Put("local", "/ckpt/a", backup.ViewEntry{Generation: 1}))

	got, err := l.Load("s3")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, e.Generation, got["/ckpt/a"].Generation)
	assert.True(t, got["/ckpt/a"].Mtime.Equal(mtime))
	assert.Equal(t, uint64(42), got["/ckpt/a"].UfsInode)

	require.NoError(t, l.Delete("s3", "/ckpt/b"))
	require.NoError(t, l.Delete("s3", "/never"))
	got, err = l.Load("s3")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = l.Load("local")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got["/ckpt/a"].Mtime.IsZero())
}

func TestPutOverwrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Store) {
		require.NoError(t, l.Put("t", "/f", backup.ViewEntry{Inode: 1, Generation: 1}))
		require.NoError(t, l.Put("t", "/f", backup.ViewEntry{Inode: 2, Generation: 4}))

		got, err := l.Load("t")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(2), got["/f"].Inode)
		assert.Equal(t, uint64(4), got["/f"].Generation)
	})
}

func TestTargetsDoNotOverlap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Store) {
		require.NoError(t, l.Put("a", "/f", backup.ViewEntry{Generation: 1}))
		require.NoError(t, l.Put("a:b", "/f", backup.ViewEntry{Generation: 2}))

		got, err := l.Load("a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(1), got["/f"].Generation)
	})
}

func TestPutRejectsRelativePath(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Store) {
		assert.Error(t, l.Put("a", "f", backup.ViewEntry{}))
	})
}

func TestDropTarget(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Store) {
		for _, p := range []string{"/a", "/b", "/c"} {
			require.NoError(t, l.Put("gone", p, backup.ViewEntry{Generation: 1}))
		}
		require.NoError(t, l.Put("kept", "/a", backup.ViewEntry{Generation: 1}))

		n, err := l.DropTarget("gone")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, _ := l.Load("gone")
		assert.Empty(t, got)
		got, _ = l.Load("kept")
		assert.Len(t, got, 1)
	})
}

func TestReopenKeepsEntries(t *testing.T) {
	paths := map[string]string{
		BackendBadger: filepath.Join(t.TempDir(), "ledger"),
		BackendSQLite: filepath.Join(t.TempDir(), "ledger.db"),
	}
	for backend, path := range paths {
		t.Run(backend, func(t *testing.T) {
			l, err := Open(Options{Backend: backend, Path: path, SyncWrites: true})
			require.NoError(t, err)
			require.NoError(t, l.Put("t", "/f", backup.ViewEntry{Generation: 5}))
			require.NoError(t, l.Close())

			l, err = Open(Options{Backend: backend, Path: path})
			require.NoError(t, err)
			defer func() { _ = l.Close() }()
			assert.Equal(t, backend, l.Backend())
			got, err := l.Load("t")
			require.NoError(t, err)
			assert.Equal(t, uint64(5), got["/f"].Generation)
		})
	}
}

func TestOpenRequiresPath(t *testing.T) {
	for _, backend := range embeddedBackends {
		_, err := Open(Options{Backend: backend})
		assert.Error(t, err, backend)
	}
}

func TestOpen_Postgres_RequiresDSN(t *testing.T) {
	_, err := Open(Options{Backend: BackendPostgres})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "etcd", InMemory: true})
	assert.Error(t, err)
}

func TestHealthcheck(t *testing.T) {
	for _, backend := range embeddedBackends {
		t.Run(backend, func(t *testing.T) {
			l, err := Open(Options{Backend: backend, InMemory: true})
			require.NoError(t, err)
			assert.NoError(t, l.Healthcheck(context.Background()))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.Error(t, l.Healthcheck(ctx))

			require.NoError(t, l.Close())
			assert.Error(t, l.Healthcheck(context.Background()))
		})
	}
}

func TestViewUsesLedger(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l Store) {
		store := memory.New("primary")

		v, err := backup.NewUnderFsFileView(store, l)
		require.NoError(t, err)
		v.AddUploadFileToView("/ckpt", backup.ViewEntry{Inode: 1, Generation: 2})

		reloaded, err := backup.NewUnderFsFileView(store, l)
		require.NoError(t, err)
		e, ok := reloaded.Lookup("/ckpt")
		require.True(t, ok)
		assert.Equal(t, uint64(2), e.Generation)
	})
}
