//go:build !unix

package bmm

// DefaultAllocator is the allocator used when none is configured.
var DefaultAllocator PoolAllocator = HeapAllocator
