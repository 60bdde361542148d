package backup

import (
	"context"
	"io/fs"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs"
	"github.com/marmos91/ckptfs/pkg/ufs/memory"
)

func requireCode(t *testing.T, err error, code fserrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, fserrors.CodeOf(err), "error: %v", err)
}

func assertMissing(t *testing.T, s *memory.Store, path string) {
	t.Helper()
	_, err := s.Lstat(context.Background(), path)
	assert.ErrorIs(t, err, syscall.ENOENT, "%s should not exist on %s", path, s.Name())
}

// keepTouching bumps the mtime of path until the returned stop is called.
func keepTouching(t *testing.T, s *memory.Store, path string) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for i := 1; ; i++ {
			select {
			case <-done:
				return
			case <-tick.C:
				_ = s.SetModTime(path, time.Now().Add(time.Duration(i)*time.Second))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestBackupTargetInitialize(t *testing.T) {
	c := newTestMemfs(t, 8)

	bt := NewBackupTarget(c, testConfig())
	requireCode(t, bt.Initialize(), fserrors.ErrInvalidArgument)
	requireCode(t, bt.Initialize(nil), fserrors.ErrInvalidArgument)

	_, err := bt.StatFile(context.Background(), "/f")
	requireCode(t, err, fserrors.ErrNotInitialized)

	require.NoError(t, bt.Initialize(memory.New("a"), memory.New("b")))
	requireCode(t, bt.Initialize(memory.New("c")), fserrors.ErrAlreadyExists)

	names := []string{}
	for _, u := range bt.Targets() {
		names = append(names, u.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.NotNil(t, bt.View("b"))
	assert.Nil(t, bt.View("c"))

	require.NoError(t, bt.Destroy())
	assert.Empty(t, bt.Targets())
}

func TestBackupTargetLoadsLedger(t *testing.T) {
	c := newTestMemfs(t, 8)
	ledger := newMapLedger()
	require.NoError(t, ledger.Put("a", "/f", ViewEntry{Inode: 4, Generation: 9}))

	bt := NewBackupTarget(c, testConfig(), WithLedger(ledger))
	require.NoError(t, bt.Initialize(memory.New("a")))

	e, ok := bt.View("a").Lookup("/f")
	require.True(t, ok)
	assert.Equal(t, uint64(9), e.Generation)
}

func TestCreateDir(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)

	t.Run("nested", func(t *testing.T) {
		bt, stores := newTestTarget(t, c, "a", "b")
		require.NoError(t, bt.CreateDir(ctx, "/x/y/z", 0o750, 0, 0))
		for _, s := range stores {
			for _, dir := range []string{"/x", "/x/y", "/x/y/z"} {
				fi, err := s.Lstat(ctx, dir)
				require.NoError(t, err)
				assert.True(t, fi.IsDir())
			}
			fi, _ := s.Lstat(ctx, "/x/y/z")
			assert.Equal(t, 0o750, int(fi.Mode.Perm()))
		}
	})

	t.Run("existing directory", func(t *testing.T) {
		bt, _ := newTestTarget(t, c)
		require.NoError(t, bt.CreateDir(ctx, "/d", 0o755, 0, 0))
		require.NoError(t, bt.CreateDir(ctx, "/d", 0o755, 0, 0))
	})

	t.Run("file in the way", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], "/d", []byte("x"))
		requireCode(t, bt.CreateDir(ctx, "/d", 0o755, 0, 0), fserrors.ErrNotDirectory)
		requireCode(t, bt.CreateDir(ctx, "/d/e", 0o755, 0, 0), fserrors.ErrNotDirectory)
	})

	t.Run("name too long", func(t *testing.T) {
		bt, _ := newTestTarget(t, c)
		requireCode(t, bt.CreateDir(ctx, longPath(), 0o755, 0, 0), fserrors.ErrNameTooLong)
	})
}

func TestCreateOneParent(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	require.NoError(t, c.MkdirAll("/private", 0o700))
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	require.NoError(t, bt.CreateOneParent(ctx, s, "/private"))
	fi, err := s.Lstat(ctx, "/private")
	require.NoError(t, err)
	assert.Equal(t, 0o700, int(fi.Mode.Perm()), "mode comes from memfs")

	require.NoError(t, bt.CreateOneParent(ctx, s, "/plain"))
	fi, err = s.Lstat(ctx, "/plain")
	require.NoError(t, err)
	assert.Equal(t, 0o755, int(fi.Mode.Perm()), "mode falls back to the default")

	putUfsFile(t, s, "/file", nil)
	assert.NoError(t, bt.CreateOneParent(ctx, s, "/file"), "existing entries are tolerated")
	assert.NoError(t, bt.CreateOneParent(ctx, s, "/private"))
}

func TestRealBackupAllParentDirectory(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	err := bt.RealBackupAllParentDirectory(ctx, s, "/not/in/memfs")
	assert.True(t, fserrors.IsNotFoundError(err), "got %v", err)

	writeMemFile(t, c, "/run/step1/ckpt", []byte("x"))
	require.NoError(t, bt.RealBackupAllParentDirectory(ctx, s, "/run/step1/ckpt"))
	for _, dir := range []string{"/run", "/run/step1"} {
		fi, err := s.Lstat(ctx, dir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	assertMissing(t, s, "/run/step1/ckpt")

	writeMemFile(t, c, "/blocked/f", nil)
	putUfsFile(t, s, "/blocked", []byte("file"))
	requireCode(t, bt.RealBackupAllParentDirectory(ctx, s, "/blocked/f"), fserrors.ErrNotDirectory)

	requireCode(t, bt.RealBackupAllParentDirectory(ctx, s, longPath()), fserrors.ErrNameTooLong)
}

func TestCheckStgMtime(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	const stage = "/f.m.stg"

	t.Run("missing", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		assert.Equal(t, StgFileBeenRemoved, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("stat failure", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		stores[0].FailNextAt(memory.OpLstat, stage, 1, errnoErr("lstat", stage, syscall.EIO))
		assert.Equal(t, StgMtimeNoChangeTimeout, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("idle", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		assert.Equal(t, StgMtimeNoChangeTimeout, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("long abandoned", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		require.NoError(t, stores[0].SetModTime(stage, time.Now().Add(-time.Hour)))
		assert.Equal(t, StgMtimeNoChangeTimeout, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("being written", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		stop := keepTouching(t, stores[0], stage)
		defer stop()
		assert.Equal(t, StgMtimeChanged, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("removed while watched", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = stores[0].Unlink(context.Background(), stage)
		}()
		assert.Equal(t, StgFileBeenRemoved, bt.CheckStgMtime(ctx, stores[0], stage))
	})

	t.Run("canceled", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], stage, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, StgMtimeChanged, bt.CheckStgMtime(cctx, stores[0], stage))
	})
}

func TestTryLockStg(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	_, res := bt.TryLockStg(ctx, s, "/missing.m.stg")
	assert.Equal(t, LockError, res)

	putUfsFile(t, s, "/f.m.stg", nil)
	lock, res := bt.TryLockStg(ctx, s, "/f.m.stg")
	require.Equal(t, LockSuccess, res)
	_, res = bt.TryLockStg(ctx, s, "/f.m.stg")
	assert.Equal(t, LockError, res)

	require.NoError(t, lock.Unlock())
	lock, res = bt.TryLockStg(ctx, s, "/f.m.stg")
	require.Equal(t, LockSuccess, res)
	require.NoError(t, lock.Unlock())
	assert.Equal(t, "LOCK_ERROR", LockError.String())
	assert.Equal(t, "MTIME_CHANGED", StgMtimeChanged.String())
}

func TestCreateFileAndStageSync(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c, "a", "b")

	writeMemFile(t, c, "/job/ckpt", pattern(20))
	trace := NewFileTrace("/job/ckpt", 1)
	require.NoError(t, bt.CreateFileAndStageSync(ctx, trace))
	for _, s := range stores {
		fi, err := s.Lstat(ctx, "/job/ckpt.m.stg")
		require.NoError(t, err)
		assert.Zero(t, fi.Size)
		assert.Equal(t, 1, s.PutCount("/job/ckpt.m.stg"))
	}

	require.NoError(t, bt.CreateFileAndStageSync(ctx, trace), "an existing stage is adopted")
	assert.Equal(t, 1, stores[0].PutCount("/job/ckpt.m.stg"))

	_, err := c.GetMeta("/job")
	require.NoError(t, err)
	requireCode(t, bt.CreateFileAndStageSync(ctx, NewFileTrace("/job", 1)), fserrors.ErrIsDirectory)
	assert.True(t, fserrors.IsNotFoundError(bt.CreateFileAndStageSync(ctx, NewFileTrace("/nope", 1))))
	requireCode(t, bt.CreateFileAndStageSync(ctx, NewFileTrace(longPath(), 1)), fserrors.ErrNameTooLong)

	meta, err := c.GetMeta("/job/ckpt")
	require.NoError(t, err)
	require.NoError(t, bt.UploadFile(ctx, trace, meta, false))
	for _, s := range stores {
		got, ok := s.Contents("/job/ckpt")
		require.True(t, ok)
		assert.Equal(t, pattern(20), got)
		assertMissing(t, s, "/job/ckpt.m.stg")
	}
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 32)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	data := pattern(100)
	meta := writeMemFile(t, c, "/ckpt/model.bin", data)
	require.True(t, meta.Dirty)
	trace := NewFileTrace("/ckpt/model.bin", 1)

	require.NoError(t, bt.UploadFile(ctx, trace, meta, false))

	got, ok := s.Contents("/ckpt/model.bin")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assertMissing(t, s, "/ckpt/model.bin.m.stg")

	after, err := c.GetMeta("/ckpt/model.bin")
	require.NoError(t, err)
	assert.False(t, after.Dirty)

	e, ok := bt.View("primary").Lookup("/ckpt/model.bin")
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Generation)
	assert.Equal(t, meta.Inode, e.Inode)
	fi, err := s.Lstat(ctx, "/ckpt/model.bin")
	require.NoError(t, err)
	assert.Equal(t, fi.Inode, e.UfsInode)
}

func TestUploadFileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c)
	s := stores[0]
	const stage = "/f.m.stg"

	meta := writeMemFile(t, c, "/f", []byte("v1"))
	trace := NewFileTrace("/f", 1)
	require.NoError(t, bt.UploadFile(ctx, trace, meta, false))
	require.NoError(t, bt.UploadFile(ctx, trace, meta, false))
	assert.Equal(t, 1, s.PutCount(stage), "unchanged file is not uploaded again")

	time.Sleep(2 * time.Millisecond)
	meta2 := rewriteMemFile(t, c, "/f", []byte("v2"))
	require.False(t, meta2.Mtime.Equal(meta.Mtime))
	require.NoError(t, bt.UploadFile(ctx, trace, meta2, false))
	assert.Equal(t, 2, s.PutCount(stage))

	got, _ := s.Contents("/f")
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, bt.UploadFile(ctx, trace, meta2, true))
	assert.Equal(t, 3, s.PutCount(stage), "force uploads anyway")
}

func TestUploadFileStale(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	old := writeMemFile(t, c, "/f", []byte("short"))
	time.Sleep(2 * time.Millisecond)
	rewriteMemFile(t, c, "/f", []byte("a longer version"))

	err := bt.UploadFile(ctx, NewFileTrace("/f", 1), old, false)
	requireCode(t, err, fserrors.ErrStale)
	assertMissing(t, s, "/f")
	assertMissing(t, s, "/f.m.stg")
	assert.Zero(t, bt.View("primary").Len())
}

func TestUploadFileCommitFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	meta := writeMemFile(t, c, "/f", pattern(40))
	s.FailNext(memory.OpRename, 1, errnoErr("rename", "/f.m.stg", syscall.EIO))

	err := bt.UploadFile(ctx, NewFileTrace("/f", 1), meta, false)
	assert.ErrorIs(t, err, syscall.EIO)
	assertMissing(t, s, "/f")
	assertMissing(t, s, "/f.m.stg")

	cur, err := c.GetMeta("/f")
	require.NoError(t, err)
	assert.True(t, cur.Dirty, "failed upload leaves the file dirty")

	require.NoError(t, bt.UploadFile(ctx, NewFileTrace("/f", 1), meta, false))
	got, _ := s.Contents("/f")
	assert.Equal(t, pattern(40), got)
}

func TestUploadFileReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c)
	s := stores[0]

	putUfsFile(t, s, "/f", []byte("previous version that is longer"))
	meta := writeMemFile(t, c, "/f", []byte("new"))
	require.NoError(t, bt.UploadFile(ctx, NewFileTrace("/f", 1), meta, false))

	got, _ := s.Contents("/f")
	assert.Equal(t, []byte("new"), got)
}

func TestUploadFileMultiTarget(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	bt, stores := newTestTarget(t, c, "a", "b")

	meta := writeMemFile(t, c, "/f", pattern(50))
	trace := NewFileTrace("/f", 1)
	stores[1].FailNext(memory.OpRename, 1, errnoErr("rename", "/f.m.stg", syscall.EIO))

	err := bt.UploadFile(ctx, trace, meta, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target b")
	_, ok := stores[0].Contents("/f")
	assert.True(t, ok)
	assertMissing(t, stores[1], "/f")
	cur, _ := c.GetMeta("/f")
	assert.True(t, cur.Dirty, "file is clean only when every target has it")

	require.NoError(t, bt.UploadFile(ctx, trace, meta, false))
	assert.Equal(t, 1, stores[0].PutCount("/f.m.stg"), "current target is skipped")
	assert.Equal(t, 2, stores[1].PutCount("/f.m.stg"))
	got, _ := stores[1].Contents("/f")
	assert.Equal(t, pattern(50), got)
	cur, _ = c.GetMeta("/f")
	assert.False(t, cur.Dirty)
}

func TestUploadFileForeignStage(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)

	t.Run("actively written", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		s := stores[0]
		meta := writeMemFile(t, c, "/active", []byte("mine"))
		putUfsFile(t, s, "/active.m.stg", []byte("theirs"))
		stop := keepTouching(t, s, "/active.m.stg")
		defer stop()

		requireCode(t, bt.UploadFile(ctx, NewFileTrace("/active", 1), meta, false), fserrors.ErrBusy)
		assertMissing(t, s, "/active")
	})

	t.Run("locked", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		s := stores[0]
		meta := writeMemFile(t, c, "/locked", []byte("mine"))
		putUfsFile(t, s, "/locked.m.stg", []byte("theirs"))
		require.NoError(t, s.SetModTime("/locked.m.stg", time.Now().Add(-time.Hour)))
		lock, err := s.Lock(ctx, "/locked.m.stg")
		require.NoError(t, err)
		defer func() { _ = lock.Unlock() }()

		requireCode(t, bt.UploadFile(ctx, NewFileTrace("/locked", 1), meta, false), fserrors.ErrBusy)
		got, _ := s.Contents("/locked.m.stg")
		assert.Equal(t, []byte("theirs"), got, "locked stage is not truncated")
	})

	t.Run("abandoned", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		s := stores[0]
		meta := writeMemFile(t, c, "/abandoned", []byte("mine"))
		putUfsFile(t, s, "/abandoned.m.stg", []byte("half written garbage"))
		require.NoError(t, s.SetModTime("/abandoned.m.stg", time.Now().Add(-time.Hour)))

		require.NoError(t, bt.UploadFile(ctx, NewFileTrace("/abandoned", 1), meta, false))
		got, _ := s.Contents("/abandoned")
		assert.Equal(t, []byte("mine"), got)
		assertMissing(t, s, "/abandoned.m.stg")
	})

	t.Run("stage is a directory", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		meta := writeMemFile(t, c, "/dirstage", []byte("x"))
		require.NoError(t, stores[0].CreateDirectory(ctx, "/dirstage.m.stg", 0o755))
		requireCode(t, bt.UploadFile(ctx, NewFileTrace("/dirstage", 1), meta, false), fserrors.ErrIsDirectory)
	})
}

// gatedFS parks the first call of op on path until release is closed.
type gatedFS struct {
	ufs.FileSystem
	op, path string
	arrived  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newGatedFS(fs ufs.FileSystem, op, path string) *gatedFS {
	return &gatedFS{FileSystem: fs, op: op, path: path, arrived: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedFS) wait(op, path string) {
	if op != g.op || path != g.path {
		return
	}
	g.once.Do(func() {
		close(g.arrived)
		<-g.release
	})
}

func (g *gatedFS) CreateFile(ctx context.Context, path string, mode fs.FileMode) (ufs.WriteHandle, error) {
	g.wait("create", path)
	return g.FileSystem.CreateFile(ctx, path, mode)
}

func (g *gatedFS) PutFile(ctx context.Context, path string, mode fs.FileMode) (ufs.WriteHandle, error) {
	g.wait("create", path)
	return g.FileSystem.PutFile(ctx, path, mode)
}

func (g *gatedFS) Rename(ctx context.Context, oldPath, newPath string) error {
	g.wait("rename", oldPath)
	return g.FileSystem.Rename(ctx, oldPath, newPath)
}

func TestUploadFileConcurrentSamePath(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)
	shared := memory.New("primary")
	const stage = "/f.m.stg"

	data := []byte("0123456789abcdefghijklmnopqrstuvwxyzABCD")
	meta := writeMemFile(t, c, "/f", data)
	trace := NewFileTrace("/f", 1)

	// first has its stage written and is about to commit; second saw no
	// stage and is about to create one.
	firstFS := newGatedFS(shared, "rename", stage)
	secondFS := newGatedFS(shared, "create", stage)
	first := NewBackupTarget(c, testConfig())
	require.NoError(t, first.Initialize(firstFS))
	second := NewBackupTarget(c, testConfig())
	require.NoError(t, second.Initialize(secondFS))

	secondErr := make(chan error, 1)
	go func() { secondErr <- second.UploadFile(ctx, trace, meta, false) }()
	<-secondFS.arrived

	firstErr := make(chan error, 1)
	go func() { firstErr <- first.UploadFile(ctx, trace, meta, false) }()
	<-firstFS.arrived

	staged, ok := shared.Contents(stage)
	require.True(t, ok)
	require.Equal(t, data, staged)

	close(secondFS.release)
	requireCode(t, <-secondErr, fserrors.ErrBusy)
	staged, _ = shared.Contents(stage)
	assert.Equal(t, data, staged, "losing writer must not truncate the stage")

	close(firstFS.release)
	require.NoError(t, <-firstErr)
	assert.True(t, committed(shared, "/f", data))
}

func TestUploadFileValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)

	bt := NewBackupTarget(c, testConfig())
	meta := writeMemFile(t, c, "/f", []byte("x"))
	requireCode(t, bt.UploadFile(ctx, NewFileTrace("/f", 1), meta, false), fserrors.ErrNotInitialized)

	bt, _ = newTestTarget(t, c)
	requireCode(t, bt.UploadFile(ctx, NewFileTrace(longPath(), 1), meta, false), fserrors.ErrNameTooLong)
}

func TestRemoveFileAndStageSync(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 16)

	t.Run("uploaded file", func(t *testing.T) {
		bt, stores := newTestTarget(t, c, "a", "b")
		meta := writeMemFile(t, c, "/uploaded", []byte("x"))
		trace := NewFileTrace("/uploaded", 1)
		require.NoError(t, bt.UploadFile(ctx, trace, meta, false))
		putUfsFile(t, stores[0], "/uploaded.m.stg", nil)

		require.NoError(t, bt.RemoveFileAndStageSync(ctx, trace))
		for _, s := range stores {
			assertMissing(t, s, "/uploaded")
			assertMissing(t, s, "/uploaded.m.stg")
			assert.Zero(t, bt.View(s.Name()).Len())
		}
	})

	t.Run("nothing there", func(t *testing.T) {
		bt, _ := newTestTarget(t, c)
		require.NoError(t, bt.RemoveFileAndStageSync(ctx, NewFileTrace("/none", 1)))
	})

	t.Run("unrecorded file", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		putUfsFile(t, stores[0], "/foreign", []byte("x"))
		require.NoError(t, bt.RemoveFileAndStageSync(ctx, NewFileTrace("/foreign", 1)))
		assertMissing(t, stores[0], "/foreign")
	})

	t.Run("replaced since upload", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		s := stores[0]
		meta := writeMemFile(t, c, "/replaced", []byte("x"))
		require.NoError(t, bt.UploadFile(ctx, NewFileTrace("/replaced", 1), meta, false))
		require.NoError(t, s.Unlink(ctx, "/replaced"))
		putUfsFile(t, s, "/replaced", []byte("someone else"))

		require.NoError(t, bt.RemoveFileAndStageSync(ctx, NewFileTrace("/replaced", 1)))
		got, ok := s.Contents("/replaced")
		require.True(t, ok)
		assert.Equal(t, []byte("someone else"), got)
	})

	t.Run("stage is a directory", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		require.NoError(t, stores[0].CreateDirectory(ctx, "/bad.m.stg", 0o755))
		requireCode(t, bt.RemoveFileAndStageSync(ctx, NewFileTrace("/bad", 1)), fserrors.ErrIsDirectory)
	})

	t.Run("directory at path", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		s := stores[0]
		require.NoError(t, s.CreateDirectory(ctx, "/dir", 0o755))
		putUfsFile(t, s, "/dir.m.stg", nil)

		require.NoError(t, bt.RemoveFileAndStageSync(ctx, NewFileTrace("/dir", 1)))
		assertMissing(t, s, "/dir.m.stg")
		fi, err := s.Lstat(ctx, "/dir")
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("stat failure", func(t *testing.T) {
		bt, stores := newTestTarget(t, c)
		stores[0].FailNext(memory.OpLstat, 1, errnoErr("lstat", "/x.m.stg", syscall.EBUSY))
		err := bt.RemoveFileAndStageSync(ctx, NewFileTrace("/x", 1))
		assert.ErrorIs(t, err, syscall.EBUSY)
	})
}

func TestRemoveStageFileFromUfs(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	bt, stores := newTestTarget(t, c, "a", "b")

	putUfsFile(t, stores[0], "/f.m.stg", []byte("partial"))
	putUfsFile(t, stores[0], "/f", []byte("committed"))

	require.NoError(t, bt.RemoveStageFileFromUfs(ctx, "/f"))
	assertMissing(t, stores[0], "/f.m.stg")
	_, ok := stores[0].Contents("/f")
	assert.True(t, ok, "committed file is untouched")

	require.NoError(t, bt.RemoveStageFileFromUfs(ctx, "/f"))
	requireCode(t, bt.RemoveStageFileFromUfs(ctx, longPath()), fserrors.ErrNameTooLong)

	stores[1].FailNext(memory.OpUnlink, 1, errnoErr("unlink", "/f.m.stg", syscall.EACCES))
	assert.ErrorIs(t, bt.RemoveStageFileFromUfs(ctx, "/f"), syscall.EACCES)
}

func TestStatFile(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	bt, stores := newTestTarget(t, c, "a", "b")

	_, err := bt.StatFile(ctx, "/missing")
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.True(t, ufs.IsNotExist(err))

	putUfsFile(t, stores[1], "/only-b", []byte("12345"))
	fi, err := bt.StatFile(ctx, "/only-b")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size)
}

func TestMakeFileCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	c := newTestMemfs(t, 8)
	bt, stores := newTestTarget(t, c, "a", "b")

	data := pattern(2 * testBlockSize)
	putUfsFile(t, stores[1], "/f", data)
	fd := createAllocated(t, c, "/f", uint64(len(data)))
	defer func() { _ = c.CloseFile(fd) }()

	plc := NewParallelLoadContext(1)
	task := NewTaskInfo(0, uint64(len(data)), 0, uint64(len(data)), plc)
	require.NoError(t, bt.MakeFileCache(ctx, NewFileTrace("/f", 1), task))
	require.NoError(t, c.TruncateFile(fd, uint64(len(data))))

	buf := make([]byte, len(data))
	_, err := c.ReadFile(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf)

	err = bt.MakeFileCache(ctx, NewFileTrace("/missing", 1), task)
	assert.Error(t, err)
}
