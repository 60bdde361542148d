// Package bmm implements the block memory manager: a fixed pool of
// equally sized blocks that backs every regular file in memfs.
//
// The pool is reserved once by Initialize. Files obtain blocks through a
// BlockList, which grows and shrinks in whole blocks and maps a logical file
// offset to a slice of pool memory.
package bmm

import (
	"fmt"
	"sync"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// BlockID identifies one block in the pool.
type BlockID uint64

// Config sizes the pool.
type Config struct {
	BlockSize  uint64
	BlockCount uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithPoolAllocator overrides how the backing region is reserved.
func WithPoolAllocator(a PoolAllocator) Option {
	return func(m *Manager) { m.allocator = a }
}

// Manager owns the block pool.
//
// Thread safety: all methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	allocator   PoolAllocator
	pool        Pool
	mem         []byte
	bits        *bitmap
	initialized bool
}

// New creates a Manager. No memory is reserved until Initialize.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, allocator: DefaultAllocator}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize reserves the pool. Calling it on an initialized Manager is a
// no-op that succeeds. A failure leaves the Manager uninitialized.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if m.cfg.BlockSize == 0 || m.cfg.BlockCount == 0 {
		return fserrors.NewInvalidArgumentError("", fmt.Sprintf(
			"invalid block pool geometry: block_size=%d block_count=%d", m.cfg.BlockSize, m.cfg.BlockCount))
	}

	pool, err := m.allocator(m.cfg.BlockSize * m.cfg.BlockCount)
	if err != nil {
		return fmt.Errorf("failed to allocate block pool: %w", err)
	}

	m.pool = pool
	m.mem = pool.Bytes()
	m.bits = newBitmap(m.cfg.BlockCount)
	m.initialized = true
	return nil
}

// UnInitialize releases the pool. It is safe to call repeatedly.
func (m *Manager) UnInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false
	m.mem = nil
	m.bits = nil
	pool := m.pool
	m.pool = nil
	return pool.Release()
}

// Initialized reports whether the pool is reserved.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// BlockSize returns the configured block size in bytes.
func (m *Manager) BlockSize() uint64 { return m.cfg.BlockSize }

// BlockCount returns the configured number of blocks.
func (m *Manager) BlockCount() uint64 { return m.cfg.BlockCount }

// FreeCount returns the number of unallocated blocks.
func (m *Manager) FreeCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0
	}
	return m.bits.free
}

// UsedCount returns the number of allocated blocks.
func (m *Manager) UsedCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0
	}
	return m.bits.total - m.bits.free
}

// Alloc reserves n blocks. Either all n are returned or none.
func (m *Manager) Alloc(n uint64) ([]BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fserrors.NewNotInitializedError("block memory manager")
	}
	if n == 0 {
		return nil, nil
	}
	idx, ok := m.bits.alloc(n)
	if !ok {
		return nil, fserrors.NewNoSpaceError(n, m.bits.free)
	}
	ids := make([]BlockID, len(idx))
	for i, v := range idx {
		ids[i] = BlockID(v)
	}
	return ids, nil
}

// Free returns blocks to the pool. Freed blocks are zeroed so a later Alloc
// never exposes another file's bytes.
func (m *Manager) Free(ids []BlockID) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	idx := make([]uint64, len(ids))
	for i, id := range ids {
		idx[i] = uint64(id)
		start := uint64(id) * m.cfg.BlockSize
		clear(m.mem[start : start+m.cfg.BlockSize])
	}
	m.bits.clear(idx)
}

// BlockToAddress returns the pool memory of one allocated block.
func (m *Manager) BlockToAddress(id BlockID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fserrors.NewNotInitializedError("block memory manager")
	}
	if !m.bits.isSet(uint64(id)) {
		return nil, fserrors.NewInvalidArgumentError("", fmt.Sprintf("block %d is not allocated", id))
	}
	start := uint64(id) * m.cfg.BlockSize
	return m.mem[start : start+m.cfg.BlockSize : start+m.cfg.BlockSize], nil
}

// BlocksFor returns how many blocks are needed to hold size bytes.
func (m *Manager) BlocksFor(size uint64) uint64 {
	if m.cfg.BlockSize == 0 {
		return 0
	}
	return (size + m.cfg.BlockSize - 1) / m.cfg.BlockSize
}
