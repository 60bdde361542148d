package backup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ParallelLoadContext is the state shared by the shards of one parallel
// copy. Counters are updated from arbitrary workers without an outer lock;
// the shard that brings remaining to zero is the one that finalizes.
type ParallelLoadContext struct {
	// ID correlates the shards in logs.
	ID string

	// Path, Inode and Size describe the memfs file being filled. fd is the
	// writable descriptor held open until the last shard finishes.
	Path  string
	Inode uint64
	Size  uint64
	fd    int

	started time.Time

	total     int
	remaining atomic.Int32
	failedCnt atomic.Uint32
	loaded    atomic.Uint64

	mu         sync.Mutex
	retryCount map[int]int

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewParallelLoadContext returns a context expecting total shards.
func NewParallelLoadContext(total int) *ParallelLoadContext {
	c := &ParallelLoadContext{
		ID:         uuid.NewString(),
		fd:         -1,
		total:      total,
		retryCount: make(map[int]int, total),
		done:       make(chan struct{}),
		started:    time.Now(),
	}
	c.remaining.Store(int32(total))
	return c
}

// Total returns the number of shards.
func (c *ParallelLoadContext) Total() int { return c.total }

// Remaining returns the number of shards that have not reported.
func (c *ParallelLoadContext) Remaining() int { return int(c.remaining.Load()) }

// FailedCount returns the number of shards that reported failure.
func (c *ParallelLoadContext) FailedCount() uint32 { return c.failedCnt.Load() }

// Loaded returns the bytes copied by successful shards.
func (c *ParallelLoadContext) Loaded() uint64 { return c.loaded.Load() }

// register creates the retry entry of a shard.
func (c *ParallelLoadContext) register(taskID int) {
	c.mu.Lock()
	c.retryCount[taskID] = 0
	c.mu.Unlock()
}

// attempt counts one run of a shard and returns the new count. It reports
// false if the shard was never registered.
func (c *ParallelLoadContext) attempt(taskID int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.retryCount[taskID]
	if !ok {
		return 0, false
	}
	n++
	c.retryCount[taskID] = n
	return n, true
}

// Attempts returns how many times a shard has run.
func (c *ParallelLoadContext) Attempts(taskID int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.retryCount[taskID]
	return n, ok
}

func (c *ParallelLoadContext) hasTask(taskID int) bool {
	_, ok := c.Attempts(taskID)
	return ok
}

// finish records the outcome of the whole copy. Only the first call counts.
func (c *ParallelLoadContext) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the copy has finished.
func (c *ParallelLoadContext) Done() <-chan struct{} { return c.done }

// Wait blocks until the copy finishes or ctx ends and returns the outcome.
func (c *ParallelLoadContext) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskInfo is one shard: the byte range [StartOffset, EndOffset) of a file.
type TaskInfo struct {
	TaskID      int
	Length      uint64
	StartOffset uint64
	EndOffset   uint64
	Ctx         *ParallelLoadContext
}

// NewTaskInfo returns a shard description.
func NewTaskInfo(taskID int, length, start, end uint64, ctx *ParallelLoadContext) TaskInfo {
	return TaskInfo{TaskID: taskID, Length: length, StartOffset: start, EndOffset: end, Ctx: ctx}
}

func (t TaskInfo) String() string {
	return fmt.Sprintf("shard %d [%d,%d)", t.TaskID, t.StartOffset, t.EndOffset)
}

// ShardConfig controls how files are split for parallel copies.
type ShardConfig struct {
	// MinShardSize is the smallest range worth a shard of its own.
	MinShardSize uint64

	// MaxShards caps the number of shards per file.
	MaxShards int
}

const (
	defaultMinShardSize = 64 << 20
	defaultMaxShards    = 16
)

func (c ShardConfig) withDefaults() ShardConfig {
	if c.MinShardSize == 0 {
		c.MinShardSize = defaultMinShardSize
	}
	if c.MaxShards <= 0 {
		c.MaxShards = defaultMaxShards
	}
	return c
}

// ShardCount returns clamp(ceil(size/MinShardSize), 1, MaxShards).
func (c ShardConfig) ShardCount(size uint64) int {
	c = c.withDefaults()
	n := (size + c.MinShardSize - 1) / c.MinShardSize
	if n < 1 {
		return 1
	}
	if n > uint64(c.MaxShards) {
		return c.MaxShards
	}
	return int(n)
}

// Split divides size bytes into ShardCount(size) contiguous ranges of
// near-equal length. Every range but the last is a multiple of align when
// align is non-zero, so shards never share a memfs block.
func (c ShardConfig) Split(size, align uint64) [][2]uint64 {
	n := uint64(c.ShardCount(size))
	per := (size + n - 1) / n
	if align > 0 && per%align != 0 {
		per += align - per%align
	}
	if per == 0 {
		return [][2]uint64{{0, 0}}
	}
	var out [][2]uint64
	for start := uint64(0); start < size; start += per {
		out = append(out, [2]uint64{start, min(start+per, size)})
	}
	return out
}
