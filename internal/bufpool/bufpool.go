// Package bufpool pools the staging buffers that move file content between
// memfs and the under file systems.
//
// Buffers are grouped in size classes. Get rounds a request up to the
// smallest class that fits; requests above the largest class are allocated
// directly and never pooled, so one oversized transfer does not pin memory.
package bufpool

import (
	"sort"
	"sync"
)

// Default size classes: one page of a small file, a typical memfs block
// and the largest upload copy step.
const (
	SmallSize  = 64 << 10
	MediumSize = 1 << 20
	LargeSize  = 4 << 20
)

// Pool hands out byte slices from a fixed set of size classes.
type Pool struct {
	sizes   []int
	classes []sync.Pool
}

// NewPool returns a pool with the given size classes. Non-positive and
// duplicate sizes are ignored; no sizes selects the defaults.
func NewPool(sizes ...int) *Pool {
	seen := make(map[int]bool, len(sizes))
	var clean []int
	for _, s := range sizes {
		if s > 0 && !seen[s] {
			seen[s] = true
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		clean = []int{SmallSize, MediumSize, LargeSize}
	}
	sort.Ints(clean)

	p := &Pool{sizes: clean, classes: make([]sync.Pool, len(clean))}
	for i, size := range clean {
		p.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// class returns the index of the smallest class holding size, or -1.
func (p *Pool) class(size int) int {
	i := sort.SearchInts(p.sizes, size)
	if i == len(p.sizes) {
		return -1
	}
	return i
}

// Get returns a slice of length size. Its capacity is the size class, so
// callers must not rely on cap.
func (p *Pool) Get(size int) []byte {
	size = max(size, 0)
	i := p.class(size)
	if i < 0 {
		return make([]byte, size)
	}
	buf := *(p.classes[i].Get().(*[]byte))
	return buf[:size]
}

// Put returns buf to its class. Slices whose capacity is not exactly a
// class size were not handed out by Get and are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	i := sort.SearchInts(p.sizes, cap(buf))
	if i == len(p.sizes) || p.sizes[i] != cap(buf) {
		return
	}
	full := buf[:cap(buf)]
	p.classes[i].Put(&full)
}

// MaxSize returns the largest pooled size.
func (p *Pool) MaxSize() int {
	return p.sizes[len(p.sizes)-1]
}

var defaultPool = NewPool()

// Get returns a buffer from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put returns a buffer to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }
