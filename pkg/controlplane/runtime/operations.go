package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// defaultFileMode is used for files written through WriteFile without a
// mode.
const defaultFileMode = 0o644

// Preload starts loading path from the targets into memfs. The returned
// context reports completion.
func (r *Runtime) Preload(ctx context.Context, p string) (*backup.ParallelLoadContext, error) {
	plc, err := r.initiator.PreloadFileNotify(ctx, p)
	if err != nil {
		return nil, err
	}
	if plc == nil {
		return nil, ErrSuspended
	}
	return plc, nil
}

// Backup uploads the memfs file at p to every target and waits for the
// commit.
func (r *Runtime) Backup(ctx context.Context, p string, force bool) error {
	if r.initiator.Marked() {
		return ErrSuspended
	}
	return r.initiator.BackupFile(ctx, p, force)
}

// Remove deletes p from memfs and from every target.
func (r *Runtime) Remove(ctx context.Context, p string) error {
	return r.initiator.RemoveFile(ctx, p)
}

// WriteFile replaces the content of the memfs file at p with the bytes read
// from src, creating the file and its parents when missing. Closing the
// file schedules its upload like any other writer. A failed copy removes
// the file.
func (r *Runtime) WriteFile(ctx context.Context, p string, mode uint32, src io.Reader) (written int64, err error) {
	if err := fserrors.CheckPath(p); err != nil {
		return 0, err
	}
	if mode == 0 {
		mode = defaultFileMode
	}

	fd, err := r.mem.OpenFile(p, os.O_RDWR|os.O_TRUNC)
	if fserrors.IsNotFoundError(err) {
		if err := r.mem.MkdirAll(path.Dir(p), 0o755); err != nil {
			return 0, fmt.Errorf("create parents of %s: %w", p, err)
		}
		fd, err = r.mem.CreateAndOpenFile(p, os.O_RDWR, mode)
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if derr := r.mem.DiscardFile(p, fd); derr != nil {
				logger.Warn("discard of partial file failed", logger.KeyPath, p, logger.KeyError, derr)
			}
			return
		}
		err = r.mem.CloseFile(fd)
	}()

	blockSize, _ := r.mem.GetShareFileCfg()
	buf := make([]byte, blockSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := r.mem.WriteFile(fd, buf[:n], written); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read source of %s: %w", p, rerr)
		}
	}
}

// Suspend stops the initiator from scheduling backup work for new memfs
// events. Queued work still runs.
func (r *Runtime) Suspend() {
	r.initiator.Mark()
	logger.Info("Backup initiator suspended")
}

// Resume undoes Suspend.
func (r *Runtime) Resume() {
	r.initiator.Unmark()
	logger.Info("Backup initiator resumed")
}

// Evict runs one eviction pass that frees at least targetFreeBytes when
// enough cold files exist. It returns the bytes freed and the files
// evicted.
func (r *Runtime) Evict(ctx context.Context, targetFreeBytes uint64) (uint64, int, error) {
	return r.mem.RecycleInodes(ctx, targetFreeBytes)
}
