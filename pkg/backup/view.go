package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

// ViewEntry is what a target knows about one uploaded file.
type ViewEntry struct {
	// Inode and Mtime identify the memfs version that was uploaded.
	Inode uint64
	Mtime time.Time

	// Generation is the FileTrace generation of the upload.
	Generation uint64

	// UfsInode is the inode the target reported for the committed file.
	UfsInode uint64
}

// ViewLedger persists views across restarts. Implementations must be safe
// for concurrent use.
type ViewLedger interface {
	Load(target string) (map[string]ViewEntry, error)
	Put(target, path string, e ViewEntry) error
	Delete(target, path string) error
}

// UnderFsFileView records the files committed to one target. It backs the
// skip-if-unchanged check and the inode check done before a remove.
type UnderFsFileView struct {
	fs     ufs.FileSystem
	ledger ViewLedger

	mu      sync.RWMutex
	entries map[string]ViewEntry
}

// NewUnderFsFileView returns the view of fs, loaded from ledger when one is
// given.
func NewUnderFsFileView(fs ufs.FileSystem, ledger ViewLedger) (*UnderFsFileView, error) {
	v := &UnderFsFileView{fs: fs, ledger: ledger, entries: make(map[string]ViewEntry)}
	if ledger == nil {
		return v, nil
	}
	entries, err := ledger.Load(fs.Name())
	if err != nil {
		return nil, fmt.Errorf("load view of %s: %w", fs.Name(), err)
	}
	for p, e := range entries {
		v.entries[p] = e
	}
	if len(entries) > 0 {
		logger.Info("loaded under fs view", logger.KeyTarget, fs.Name(), "entries", len(entries))
	}
	return v, nil
}

// Name returns the target name.
func (v *UnderFsFileView) Name() string { return v.fs.Name() }

// Len returns the number of entries.
func (v *UnderFsFileView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Lookup returns the entry of path.
func (v *UnderFsFileView) Lookup(path string) (ViewEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[path]
	return e, ok
}

// Entries returns a copy of every entry.
func (v *UnderFsFileView) Entries() map[string]ViewEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]ViewEntry, len(v.entries))
	for p, e := range v.entries {
		out[p] = e
	}
	return out
}

// Unchanged reports whether path was already uploaded at generation gen from
// the memfs version (inode, mtime).
func (v *UnderFsFileView) Unchanged(path string, gen, inode uint64, mtime time.Time) bool {
	e, ok := v.Lookup(path)
	return ok && e.Generation == gen && e.Inode == inode && e.Mtime.Equal(mtime)
}

// AddUploadFileToView records a committed upload and reports whether the
// entry changed. An update is accepted for a new path, or for a generation
// at least as new as the recorded one that carries a different memfs
// version. Older generations are rejected.
func (v *UnderFsFileView) AddUploadFileToView(path string, e ViewEntry) bool {
	v.mu.Lock()
	old, ok := v.entries[path]
	if ok {
		if e.Generation < old.Generation {
			v.mu.Unlock()
			return false
		}
		if e.Inode == old.Inode && e.Mtime.Equal(old.Mtime) {
			v.mu.Unlock()
			return false
		}
	}
	v.entries[path] = e
	v.mu.Unlock()

	if v.ledger != nil {
		if err := v.ledger.Put(v.fs.Name(), path, e); err != nil {
			logger.Warn("view ledger write failed", logger.KeyTarget, v.fs.Name(), logger.KeyPath, path, logger.KeyError, err)
		}
	}
	return true
}

// Remove forgets path.
func (v *UnderFsFileView) Remove(path string) {
	v.mu.Lock()
	_, ok := v.entries[path]
	delete(v.entries, path)
	v.mu.Unlock()

	if ok && v.ledger != nil {
		if err := v.ledger.Delete(v.fs.Name(), path); err != nil {
			logger.Warn("view ledger delete failed", logger.KeyTarget, v.fs.Name(), logger.KeyPath, path, logger.KeyError, err)
		}
	}
}

// DoRemoveFile removes path from the target if it still carries ufsInode.
// A missing path succeeds. A different inode means the file was replaced
// since it was recorded, which also succeeds without touching it. A zero
// ufsInode was never learned, so the path is removed once its type checks
// out. Finding a directory where a file was expected, or the reverse, fails.
func (v *UnderFsFileView) DoRemoveFile(ctx context.Context, path string, ufsInode uint64, isFile bool) error {
	if err := fserrors.CheckPath(path); err != nil {
		return err
	}
	fi, err := v.fs.Lstat(ctx, path)
	if ufs.IsNotExist(err) {
		v.Remove(path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s on %s: %w", path, v.fs.Name(), err)
	}
	switch {
	case isFile && fi.IsDir():
		return fserrors.NewIsDirectoryError(path)
	case !isFile && !fi.IsDir():
		return fserrors.NewNotDirectoryError(path)
	}
	if ufsInode != 0 && fi.Inode != ufsInode {
		logger.Debug("skip remove of replaced file",
			logger.KeyTarget, v.fs.Name(), logger.KeyPath, path,
			logger.KeyUfsInode, fi.Inode, "recorded_inode", ufsInode)
		return nil
	}

	if isFile {
		err = v.fs.Unlink(ctx, path)
	} else {
		err = v.fs.Rmdir(ctx, path)
	}
	if err != nil && !ufs.IsNotExist(err) {
		return fmt.Errorf("remove %s on %s: %w", path, v.fs.Name(), err)
	}
	v.Remove(path)
	return nil
}
