package backup

import (
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/ckptfs/pkg/backup/retry"
	"github.com/marmos91/ckptfs/pkg/memfs"
	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
	"github.com/marmos91/ckptfs/pkg/ufs"
	"github.com/marmos91/ckptfs/pkg/ufs/memory"
)

const testBlockSize = 16

// newTestMemfs returns a running memfs with blockCount blocks of
// testBlockSize bytes.
func newTestMemfs(t *testing.T, blockCount uint64) *memfs.Context {
	t.Helper()
	c := memfs.NewContext(memfs.ContextConfig{
		FileSystem: memfs.Config{BlockSize: testBlockSize, BlockCount: blockCount, MaxOpenFiles: 32},
	}, memfs.WithPoolAllocator(bmm.HeapAllocator))
	require.NoError(t, c.Initialize())
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

// testConfig keeps stage polling short and shards small so tests exercise
// several shards on tiny files.
func testConfig() Config {
	return Config{
		Shards:            ShardConfig{MinShardSize: 2 * testBlockSize, MaxShards: 4},
		StageMtimeTimeout: 50 * time.Millisecond,
		StagePollInterval: 5 * time.Millisecond,
	}
}

// newTestTarget returns a BackupTarget over c with one memory store per
// name.
func newTestTarget(t *testing.T, c *memfs.Context, names ...string) (*BackupTarget, []*memory.Store) {
	t.Helper()
	if len(names) == 0 {
		names = []string{"primary"}
	}
	bt := NewBackupTarget(c, testConfig())
	stores := make([]*memory.Store, len(names))
	targets := make([]ufs.FileSystem, len(names))
	for i, n := range names {
		stores[i] = memory.New(n)
		targets[i] = stores[i]
	}
	require.NoError(t, bt.Initialize(targets...))
	return bt, stores
}

func newTestPool(t *testing.T, c *memfs.Context) *retry.Pool {
	t.Helper()
	p := retry.NewPool(retry.Config{
		Threads:       2,
		RetryInterval: time.Millisecond,
		WorkPath:      t.TempDir(),
	}, c)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop(time.Second) })
	return p
}

// writeMemFile creates path in c with data, creating parents, and returns
// its meta after close.
func writeMemFile(t *testing.T, c *memfs.Context, path string, data []byte) memfs.Meta {
	t.Helper()
	require.NoError(t, c.MkdirAll(parentDir(path), 0o755))
	fd, err := c.CreateAndOpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	return finishWrite(t, c, path, fd, data)
}

// rewriteMemFile replaces the content of an existing memfs file.
func rewriteMemFile(t *testing.T, c *memfs.Context, path string, data []byte) memfs.Meta {
	t.Helper()
	fd, err := c.OpenFile(path, os.O_RDWR)
	require.NoError(t, err)
	require.NoError(t, c.TruncateFile(fd, 0))
	return finishWrite(t, c, path, fd, data)
}

func finishWrite(t *testing.T, c *memfs.Context, path string, fd int, data []byte) memfs.Meta {
	t.Helper()
	if len(data) > 0 {
		_, err := c.WriteFile(fd, data, 0)
		require.NoError(t, err)
	}
	require.NoError(t, c.CloseFile(fd))
	meta, err := c.GetMeta(path)
	require.NoError(t, err)
	return meta
}

// putUfsFile writes data to path on s, creating parents.
func putUfsFile(t *testing.T, s *memory.Store, path string, data []byte) {
	t.Helper()
	ctx := context.Background()
	for _, dir := range ufs.Ancestors(path) {
		err := s.CreateDirectory(ctx, dir, 0o755)
		if err != nil && !ufs.IsExist(err) {
			require.NoError(t, err)
		}
	}
	h, err := s.PutFile(ctx, path, 0o644)
	require.NoError(t, err)
	_, err = h.Write(data)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func readMemFile(t *testing.T, c *memfs.Context, path string) []byte {
	t.Helper()
	meta, err := c.GetMeta(path)
	require.NoError(t, err)
	fd, err := c.OpenFile(path, os.O_RDONLY)
	require.NoError(t, err)
	defer func() { _ = c.CloseFile(fd) }()
	buf := make([]byte, meta.Size)
	if meta.Size > 0 {
		n, err := c.ReadFile(fd, buf, 0)
		require.NoError(t, err)
		require.Equal(t, int(meta.Size), n)
	}
	return buf
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func longPath() string {
	return "/" + strings.Repeat("x", 4095)
}

func errnoErr(op, path string, errno syscall.Errno) error {
	return ufs.PathError(op, path, errno)
}
