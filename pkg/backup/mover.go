package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/ckptfs/internal/bufpool"
	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/memfs"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

// copyChunk bounds the buffer of one memfs to UFS copy step.
const copyChunk = bufpool.LargeSize

// Mover copies file content between memfs and a UFS. It is shared by
// BackupTarget, which drives uploads, and MemFsBackupInitiator, which
// drives preloads.
type Mover struct {
	fs     MemFS
	shards ShardConfig
}

// NewMover returns a Mover over fs.
func NewMover(fs MemFS, shards ShardConfig) *Mover {
	return &Mover{fs: fs, shards: shards.withDefaults()}
}

// Shards returns the shard configuration.
func (m *Mover) Shards() ShardConfig { return m.shards }

// MultiCopyFileToUfs copies length bytes at off of the memfs file at path
// into dst at the same offset. The file is opened read-only for the copy and
// must still be inode when it is opened.
func (m *Mover) MultiCopyFileToUfs(ctx context.Context, path string, inode uint64, dst io.WriterAt, off, length uint64) error {
	fd, err := m.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("open %s for upload: %w", path, err)
	}
	defer func() { _ = m.fs.CloseFile(fd) }()

	meta, err := m.fs.GetFileMeta(fd)
	if err != nil {
		return fmt.Errorf("stat %s for upload: %w", path, err)
	}
	if inode != 0 && meta.Inode != inode {
		return fserrors.NewStaleError(path, "file was replaced during upload")
	}
	if off+length > meta.Size {
		return fserrors.NewStaleError(path, "file shrank during upload")
	}

	buf := bufpool.Get(int(min(uint64(copyChunk), max(length, 1))))
	defer bufpool.Put(buf)
	for done := uint64(0); done < length; {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := min(uint64(len(buf)), length-done)
		n, err := m.fs.ReadFile(fd, buf[:want], int64(off+done))
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], int64(off+done)); werr != nil {
				return fmt.Errorf("write %s at %d: %w", path, off+done, werr)
			}
			done += uint64(n)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s at %d: %w", path, off+done, err)
		}
		if uint64(n) < want {
			return fserrors.NewStaleError(path, "file shrank during upload")
		}
	}
	return nil
}

// SplitUploadFileTask copies the memfs file described by meta into the open
// stage file dst of target, one errgroup goroutine per shard. If any shard
// fails the rest are cancelled, dst is closed and the stage is unlinked.
// On success dst is left open for the caller to sync and close.
func (m *Mover) SplitUploadFileTask(ctx context.Context, path string, meta memfs.Meta, target ufs.FileSystem, stage string, dst ufs.WriteHandle) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	blockSize, _ := m.fs.GetShareFileCfg()
	ranges := m.shards.Split(meta.Size, blockSize)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			if err := m.MultiCopyFileToUfs(gctx, path, meta.Inode, dst, r[0], r[1]-r[0]); err != nil {
				logger.DebugCtx(ctx, "upload shard failed", logger.Shard(i, r[0], r[1]-r[0]), logger.KeyError, err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return nil
	}

	_ = dst.Close()
	cleanup := context.WithoutCancel(ctx)
	if uerr := target.Unlink(cleanup, stage); uerr != nil && !ufs.IsNotExist(uerr) {
		return errors.Join(err, fmt.Errorf("unlink partial stage %s on %s: %w", stage, target.Name(), uerr))
	}
	return err
}

// CopyFileToMemfs fills the byte range of task in the memfs file behind fd
// from path on src. Data is read straight into the file's blocks, which must
// already be allocated.
func (m *Mover) CopyFileToMemfs(ctx context.Context, fd int, path string, src ufs.FileSystem, task TaskInfo) error {
	if _, err := m.fs.GetFileMeta(fd); err != nil {
		return fmt.Errorf("stat memfs file %s: %w", path, err)
	}
	blocks, err := m.fs.GetFileBlocks(fd)
	if err != nil {
		return fmt.Errorf("resolve blocks of %s: %w", path, err)
	}
	blockSize, _ := m.fs.GetShareFileCfg()
	if blockSize == 0 {
		return fserrors.NewInvalidArgumentError(path, "memfs block size is zero")
	}

	r, err := src.OpenFile(ctx, path)
	if err != nil {
		return fmt.Errorf("open %s on %s: %w", path, src.Name(), err)
	}
	defer func() { _ = r.Close() }()

	for off := task.StartOffset; off < task.EndOffset; {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, inner := off/blockSize, off%blockSize
		if idx >= uint64(len(blocks)) {
			return fserrors.NewInvalidArgumentError(path, fmt.Sprintf("offset %d is past the allocated blocks", off))
		}
		mem, err := m.fs.BlockToAddress(blocks[idx])
		if err != nil {
			return fmt.Errorf("map block %d of %s: %w", blocks[idx], path, err)
		}
		n := min(blockSize-inner, task.EndOffset-off)
		got, err := r.ReadAt(mem[inner:inner+n], int64(off))
		if uint64(got) < n {
			if err == nil || errors.Is(err, io.EOF) {
				return fserrors.NewStaleError(path, "file shrank during preload")
			}
			return fmt.Errorf("read %s at %d on %s: %w", path, off, src.Name(), err)
		}
		off += n
	}
	return nil
}

// MultiTasksDoWrite opens the memfs file at path and fills one shard of it
// from src.
func (m *Mover) MultiTasksDoWrite(ctx context.Context, path string, task TaskInfo, src ufs.FileSystem) error {
	fd, err := m.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("open memfs file %s: %w", path, err)
	}
	defer func() { _ = m.fs.CloseFile(fd) }()
	return m.CopyFileToMemfs(ctx, fd, path, src, task)
}
