package apiclient

import (
	"context"
	"time"
)

// PoolStatus is the retry pool part of a Status.
type PoolStatus struct {
	Name      string `json:"name"`
	Submitted int    `json:"submitted"`
	Succeeded int    `json:"succeeded"`
	Retried   int    `json:"retried"`
	Discarded int    `json:"discarded"`
	Failing   int    `json:"failing"`
	Pending   int    `json:"pending"`
	Alarm     bool   `json:"alarm"`
	CCAEPath  string `json:"ccae_path"`
}

// Status is a snapshot of memfs and the backup pipeline.
type Status struct {
	State       string     `json:"state"`
	Progress    int32      `json:"progress"`
	Serviceable bool       `json:"serviceable"`
	Suspended   bool       `json:"suspended"`
	BlockSize   uint64     `json:"block_size"`
	BlockCount  uint64     `json:"block_count"`
	FreeBlocks  uint64     `json:"free_blocks"`
	UsedBlocks  uint64     `json:"used_blocks"`
	OpenFiles   int        `json:"open_files"`
	Pool        PoolStatus `json:"pool"`
	StartedAt   time.Time  `json:"started_at"`
	UptimeSec   int64      `json:"uptime_sec"`
}

// EvictResult reports the outcome of an eviction pass.
type EvictResult struct {
	FreedBytes uint64 `json:"freed_bytes"`
	Files      int    `json:"files"`
	FreeBlocks uint64 `json:"free_blocks"`
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return getResource[Status](ctx, c, "/api/v1/status")
}

// Suspend stops the server from scheduling backup work for new events.
func (c *Client) Suspend(ctx context.Context) (*Status, error) {
	return postResource[Status](ctx, c, "/api/v1/suspend", nil)
}

// Resume undoes Suspend.
func (c *Client) Resume(ctx context.Context) (*Status, error) {
	return postResource[Status](ctx, c, "/api/v1/resume", nil)
}

// Evict runs one eviction pass aiming to free targetFreeBytes.
func (c *Client) Evict(ctx context.Context, targetFreeBytes uint64) (*EvictResult, error) {
	return postResource[EvictResult](ctx, c, "/api/v1/evict", map[string]uint64{
		"target_free_bytes": targetFreeBytes,
	})
}
