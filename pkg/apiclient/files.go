package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// File describes one memfs inode.
type File struct {
	Path    string    `json:"path"`
	Inode   uint64    `json:"inode"`
	Type    string    `json:"type"`
	Size    uint64    `json:"size"`
	Mode    uint32    `json:"mode"`
	Mtime   time.Time `json:"mtime"`
	Writing bool      `json:"writing"`
	Dirty   bool      `json:"dirty"`
}

// WriteResult is the outcome of WriteFile.
type WriteResult struct {
	Path    string `json:"path"`
	Written int64  `json:"written"`
	Synced  bool   `json:"synced"`
}

// WriteOptions tunes WriteFile.
type WriteOptions struct {
	// Mode is the permission of a created file. Zero keeps the server
	// default.
	Mode uint32

	// Sync uploads the file to every target before returning.
	Sync bool
}

// PreloadResult reports the progress of a preload.
type PreloadResult struct {
	Path     string `json:"path"`
	Shards   int    `json:"shards"`
	Pending  int    `json:"pending"`
	Failed   uint32 `json:"failed"`
	Loaded   uint64 `json:"loaded"`
	Complete bool   `json:"complete"`
}

// Stat returns the memfs attributes of path.
func (c *Client) Stat(ctx context.Context, path string) (*File, error) {
	return getResource[File](ctx, c, filePath(path, nil))
}

// WriteFile replaces the memfs file at path with the content of r.
func (c *Client) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) (*WriteResult, error) {
	extra := url.Values{}
	if opts.Mode != 0 {
		extra.Set("mode", strconv.FormatUint(uint64(opts.Mode), 8))
	}
	if opts.Sync {
		extra.Set("sync", "true")
	}
	var result WriteResult
	if err := c.doRaw(ctx, http.MethodPut, filePath(path, extra), "application/octet-stream", r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Remove deletes path from memfs and from every target.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.delete(ctx, filePath(path, nil), nil)
}

// Backup uploads path to every target and returns its attributes after the
// commit. force uploads even when the targets already hold this version.
func (c *Client) Backup(ctx context.Context, path string, force bool) (*File, error) {
	return postResource[File](ctx, c, "/api/v1/files/backup", map[string]any{
		"path":  path,
		"force": force,
	})
}

// Preload loads path from the targets into memfs. With wait the call
// returns once every shard finished.
func (c *Client) Preload(ctx context.Context, path string, wait bool) (*PreloadResult, error) {
	return postResource[PreloadResult](ctx, c, "/api/v1/files/preload", map[string]any{
		"path": path,
		"wait": wait,
	})
}
