package backup

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs/memory"
)

// mapLedger is an in-memory ViewLedger.
type mapLedger struct {
	mu      sync.Mutex
	entries map[string]map[string]ViewEntry
	putErr  error
}

func newMapLedger() *mapLedger {
	return &mapLedger{entries: make(map[string]map[string]ViewEntry)}
}

func (l *mapLedger) Load(target string) (map[string]ViewEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ViewEntry)
	for p, e := range l.entries[target] {
		out[p] = e
	}
	return out, nil
}

func (l *mapLedger) Put(target, path string, e ViewEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.putErr != nil {
		return l.putErr
	}
	if l.entries[target] == nil {
		l.entries[target] = make(map[string]ViewEntry)
	}
	l.entries[target][path] = e
	return nil
}

func (l *mapLedger) Delete(target, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries[target], path)
	return nil
}

func TestAddUploadFileToView(t *testing.T) {
	base := time.Unix(1700000000, 0)
	first := ViewEntry{Inode: 7, Mtime: base, Generation: 2, UfsInode: 100}

	tests := []struct {
		name   string
		update ViewEntry
		want   bool
	}{
		{"older generation", ViewEntry{Inode: 8, Mtime: base.Add(time.Second), Generation: 1}, false},
		{"same version", ViewEntry{Inode: 7, Mtime: base, Generation: 3}, false},
		{"same generation new mtime", ViewEntry{Inode: 7, Mtime: base.Add(time.Second), Generation: 2}, true},
		{"newer generation new inode", ViewEntry{Inode: 9, Mtime: base, Generation: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewUnderFsFileView(memory.New("m"), nil)
			require.NoError(t, err)
			require.True(t, v.AddUploadFileToView("/f", first))

			assert.Equal(t, tt.want, v.AddUploadFileToView("/f", tt.update))
			got, ok := v.Lookup("/f")
			require.True(t, ok)
			if tt.want {
				assert.Equal(t, tt.update, got)
			} else {
				assert.Equal(t, first, got)
			}
		})
	}
}

func TestViewUnchanged(t *testing.T) {
	v, err := NewUnderFsFileView(memory.New("m"), nil)
	require.NoError(t, err)
	mtime := time.Unix(1700000000, 0)
	v.AddUploadFileToView("/f", ViewEntry{Inode: 3, Mtime: mtime, Generation: 4})

	assert.True(t, v.Unchanged("/f", 4, 3, mtime))
	assert.False(t, v.Unchanged("/f", 5, 3, mtime))
	assert.False(t, v.Unchanged("/f", 4, 2, mtime))
	assert.False(t, v.Unchanged("/f", 4, 3, mtime.Add(time.Nanosecond)))
	assert.False(t, v.Unchanged("/g", 4, 3, mtime))
}

func TestViewEntriesIsACopy(t *testing.T) {
	v, err := NewUnderFsFileView(memory.New("m"), nil)
	require.NoError(t, err)
	v.AddUploadFileToView("/a", ViewEntry{Inode: 1, Generation: 1})
	v.AddUploadFileToView("/b", ViewEntry{Inode: 2, Generation: 1})

	snap := v.Entries()
	require.Len(t, snap, 2)
	delete(snap, "/a")
	assert.Equal(t, 2, v.Len())
}

func TestViewLedgerRoundTrip(t *testing.T) {
	ledger := newMapLedger()
	store := memory.New("m")

	v, err := NewUnderFsFileView(store, ledger)
	require.NoError(t, err)
	e := ViewEntry{Inode: 1, Mtime: time.Unix(10, 0), Generation: 1, UfsInode: 5}
	v.AddUploadFileToView("/a", e)
	v.AddUploadFileToView("/b", e)
	v.Remove("/b")

	reloaded, err := NewUnderFsFileView(store, ledger)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	got, ok := reloaded.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestViewLedgerFailureKeepsMemoryEntry(t *testing.T) {
	ledger := newMapLedger()
	ledger.putErr = errors.New("disk full")
	v, err := NewUnderFsFileView(memory.New("m"), ledger)
	require.NoError(t, err)

	assert.True(t, v.AddUploadFileToView("/a", ViewEntry{Inode: 1, Generation: 1}))
	_, ok := v.Lookup("/a")
	assert.True(t, ok)
}

func TestDoRemoveFile(t *testing.T) {
	ctx := context.Background()

	t.Run("missing path", func(t *testing.T) {
		s := memory.New("m")
		v, _ := NewUnderFsFileView(s, nil)
		v.AddUploadFileToView("/gone", ViewEntry{Inode: 1, Generation: 1})

		require.NoError(t, v.DoRemoveFile(ctx, "/gone", 1, true))
		assert.Zero(t, v.Len())
	})

	t.Run("matching inode", func(t *testing.T) {
		s := memory.New("m")
		putUfsFile(t, s, "/f", []byte("x"))
		fi, err := s.Lstat(ctx, "/f")
		require.NoError(t, err)
		v, _ := NewUnderFsFileView(s, nil)
		v.AddUploadFileToView("/f", ViewEntry{Inode: 1, Generation: 1, UfsInode: fi.Inode})

		require.NoError(t, v.DoRemoveFile(ctx, "/f", fi.Inode, true))
		_, err = s.Lstat(ctx, "/f")
		assert.ErrorIs(t, err, syscall.ENOENT)
		assert.Zero(t, v.Len())
	})

	t.Run("replaced file is kept", func(t *testing.T) {
		s := memory.New("m")
		putUfsFile(t, s, "/f", []byte("x"))
		fi, err := s.Lstat(ctx, "/f")
		require.NoError(t, err)
		v, _ := NewUnderFsFileView(s, nil)

		require.NoError(t, v.DoRemoveFile(ctx, "/f", fi.Inode+1, true))
		_, err = s.Lstat(ctx, "/f")
		assert.NoError(t, err)
	})

	t.Run("unknown recorded inode", func(t *testing.T) {
		s := memory.New("m")
		putUfsFile(t, s, "/f", []byte("x"))
		v, _ := NewUnderFsFileView(s, nil)
		v.AddUploadFileToView("/f", ViewEntry{Inode: 1, Generation: 1})

		require.NoError(t, v.DoRemoveFile(ctx, "/f", 0, true))
		_, err := s.Lstat(ctx, "/f")
		assert.ErrorIs(t, err, syscall.ENOENT)
		assert.Zero(t, v.Len())
	})

	t.Run("directory where file expected", func(t *testing.T) {
		s := memory.New("m")
		require.NoError(t, s.CreateDirectory(ctx, "/d", 0o755))
		v, _ := NewUnderFsFileView(s, nil)

		err := v.DoRemoveFile(ctx, "/d", 0, true)
		assert.Equal(t, fserrors.ErrIsDirectory, fserrors.CodeOf(err))
	})

	t.Run("file where directory expected", func(t *testing.T) {
		s := memory.New("m")
		putUfsFile(t, s, "/f", nil)
		v, _ := NewUnderFsFileView(s, nil)

		err := v.DoRemoveFile(ctx, "/f", 0, false)
		assert.Equal(t, fserrors.ErrNotDirectory, fserrors.CodeOf(err))
	})

	t.Run("empty directory", func(t *testing.T) {
		s := memory.New("m")
		require.NoError(t, s.CreateDirectory(ctx, "/d", 0o755))
		fi, err := s.Lstat(ctx, "/d")
		require.NoError(t, err)
		v, _ := NewUnderFsFileView(s, nil)

		require.NoError(t, v.DoRemoveFile(ctx, "/d", fi.Inode, false))
		_, err = s.Lstat(ctx, "/d")
		assert.ErrorIs(t, err, syscall.ENOENT)
	})

	t.Run("path too long", func(t *testing.T) {
		v, _ := NewUnderFsFileView(memory.New("m"), nil)
		err := v.DoRemoveFile(ctx, longPath(), 0, true)
		assert.Equal(t, fserrors.ErrNameTooLong, fserrors.CodeOf(err))
	})

	t.Run("stat failure", func(t *testing.T) {
		s := memory.New("m")
		s.FailNext(memory.OpLstat, 1, errnoErr("lstat", "/f", syscall.EIO))
		v, _ := NewUnderFsFileView(s, nil)
		assert.ErrorIs(t, v.DoRemoveFile(ctx, "/f", 0, true), syscall.EIO)
	})
}
