package backup

import (
	"time"

	"github.com/marmos91/ckptfs/pkg/memfs"
	"github.com/marmos91/ckptfs/pkg/memfs/bmm"
)

// MemFS is the part of *memfs.Context the backup pipeline uses.
type MemFS interface {
	GetMeta(path string) (memfs.Meta, error)
	GetFileMeta(fd int) (memfs.Meta, error)

	CreateAndOpenFile(path string, flags int, mode uint32) (int, error)
	OpenFile(path string, flags int) (int, error)
	CloseFile(fd int) error
	TruncateFile(fd int, size uint64) error
	RemoveFile(path string) error
	MkdirAll(path string, mode uint32) error
	DiscardFile(path string, fd int) error
	MarkBackedUp(path string, inode uint64, mtime time.Time) bool

	GetFileBlocks(fd int) ([]bmm.BlockID, error)
	AllocDataBlocks(fd int, size uint64) error
	BlockToAddress(id bmm.BlockID) ([]byte, error)
	GetShareFileCfg() (blockSize, blockCount uint64)
	FreeBlocks() uint64
	ReadFile(fd int, p []byte, off int64) (int, error)
}

var _ MemFS = (*memfs.Context)(nil)
