package bmm

import (
	"io"
	"sync"
	"sync/atomic"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// BlockList is the ordered set of blocks holding one file's content.
//
// A BlockList is reference counted. The inode arena holds the first
// reference. Readers that must outlive a concurrent unlink take another one
// with Ref. The blocks go back to the pool when the last reference is
// dropped.
type BlockList struct {
	mgr    *Manager
	mu     sync.RWMutex
	blocks []BlockID
	refs   atomic.Int32
}

// NewBlockList returns an empty list holding one reference.
func (m *Manager) NewBlockList() *BlockList {
	l := &BlockList{mgr: m}
	l.refs.Store(1)
	return l
}

// Ref adds a reference.
func (l *BlockList) Ref() {
	l.refs.Add(1)
}

// Unref drops a reference and frees every block when none remain. It
// reports whether the blocks were released.
func (l *BlockList) Unref() bool {
	if l.refs.Add(-1) != 0 {
		return false
	}
	l.mu.Lock()
	blocks := l.blocks
	l.blocks = nil
	l.mu.Unlock()
	l.mgr.Free(blocks)
	return true
}

// Len returns the number of blocks held.
func (l *BlockList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Capacity returns the number of bytes the held blocks can store.
func (l *BlockList) Capacity() uint64 {
	return uint64(l.Len()) * l.mgr.BlockSize()
}

// Blocks returns a copy of the block ids in file order.
func (l *BlockList) Blocks() []BlockID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]BlockID, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Reserve grows the list until it can hold size bytes. Nothing is allocated
// if the pool cannot satisfy the whole request.
func (l *BlockList) Reserve(size uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	need := l.mgr.BlocksFor(size)
	have := uint64(len(l.blocks))
	if need <= have {
		return nil
	}
	ids, err := l.mgr.Alloc(need - have)
	if err != nil {
		return err
	}
	l.blocks = append(l.blocks, ids...)
	return nil
}

// Shrink releases whole blocks beyond size bytes and zeroes the tail of the
// last kept block, so growing the file again reads zeros.
func (l *BlockList) Shrink(size uint64) {
	l.mu.Lock()
	need := l.mgr.BlocksFor(size)
	if need > uint64(len(l.blocks)) {
		l.mu.Unlock()
		return
	}
	tail := append([]BlockID(nil), l.blocks[need:]...)
	l.blocks = l.blocks[:need]
	var last BlockID
	inner := size % l.mgr.BlockSize()
	if need > 0 && inner != 0 {
		last = l.blocks[need-1]
	}
	l.mu.Unlock()

	if inner != 0 && need > 0 {
		if mem, err := l.mgr.BlockToAddress(last); err == nil {
			clear(mem[inner:])
		}
	}
	l.mgr.Free(tail)
}

// Locate maps a file offset to its block and the offset inside that block.
func (l *BlockList) Locate(off uint64) (BlockID, uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bs := l.mgr.BlockSize()
	idx := off / bs
	if idx >= uint64(len(l.blocks)) {
		return 0, 0, fserrors.NewInvalidArgumentError("", "offset beyond allocated blocks")
	}
	return l.blocks[idx], off % bs, nil
}

// WriteAt copies p into the blocks starting at off. The range must already
// be reserved.
func (l *BlockList) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fserrors.NewInvalidArgumentError("", "negative offset")
	}
	written := 0
	for written < len(p) {
		id, inner, err := l.Locate(uint64(off) + uint64(written))
		if err != nil {
			return written, err
		}
		mem, err := l.mgr.BlockToAddress(id)
		if err != nil {
			return written, err
		}
		written += copy(mem[inner:], p[written:])
	}
	return written, nil
}

// ReadAt copies from the blocks into p starting at off, stopping at limit
// (the logical file size). It returns io.EOF when the range ends at limit.
func (l *BlockList) ReadAt(p []byte, off int64, limit uint64) (int, error) {
	if off < 0 {
		return 0, fserrors.NewInvalidArgumentError("", "negative offset")
	}
	if uint64(off) >= limit {
		return 0, io.EOF
	}
	want := len(p)
	if remain := limit - uint64(off); uint64(want) > remain {
		want = int(remain)
	}
	read := 0
	for read < want {
		id, inner, err := l.Locate(uint64(off) + uint64(read))
		if err != nil {
			return read, err
		}
		mem, err := l.mgr.BlockToAddress(id)
		if err != nil {
			return read, err
		}
		read += copy(p[read:want], mem[inner:])
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}
