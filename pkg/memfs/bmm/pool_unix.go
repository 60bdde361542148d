//go:build unix

package bmm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapPool is an anonymous shared mapping. Pages are committed lazily by the
// kernel, so a large pool costs nothing until blocks are written.
type mmapPool struct {
	buf []byte
}

func (p *mmapPool) Bytes() []byte { return p.buf }

func (p *mmapPool) Release() error {
	if p.buf == nil {
		return nil
	}
	err := unix.Munmap(p.buf)
	p.buf = nil
	return err
}

// MmapAllocator maps an anonymous shared region for the pool.
func MmapAllocator(size uint64) (Pool, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return &mmapPool{buf: buf}, nil
}

// DefaultAllocator is the allocator used when none is configured.
var DefaultAllocator PoolAllocator = MmapAllocator
