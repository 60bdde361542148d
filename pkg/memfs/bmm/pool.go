package bmm

// Pool is the contiguous memory region that backs every block.
type Pool interface {
	// Bytes returns the whole region. Block i lives at [i*blockSize, (i+1)*blockSize).
	Bytes() []byte
	// Release returns the region to the system. It is called exactly once.
	Release() error
}

// PoolAllocator reserves a region of the given size.
type PoolAllocator func(size uint64) (Pool, error)

// heapPool is a Go-heap backed pool, used where anonymous mappings are not
// available and by tests that want small pools without touching mmap.
type heapPool struct {
	buf []byte
}

func (p *heapPool) Bytes() []byte  { return p.buf }
func (p *heapPool) Release() error { p.buf = nil; return nil }

// HeapAllocator allocates the pool on the Go heap.
func HeapAllocator(size uint64) (Pool, error) {
	return &heapPool{buf: make([]byte, size)}, nil
}
