package apiclient

import (
	"context"
	"net/url"
	"time"
)

// Target describes one under file system.
type Target struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Files int    `json:"files"`
}

// ViewEntry is one committed file of a target view.
type ViewEntry struct {
	Path       string    `json:"path"`
	Inode      uint64    `json:"inode"`
	Mtime      time.Time `json:"mtime"`
	Generation uint64    `json:"generation"`
	UfsInode   uint64    `json:"ufs_inode"`
}

// Targets lists the targets in replication order.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	return listResources[Target](ctx, c, "/api/v1/targets")
}

// View lists the committed files of the named target sorted by path.
func (c *Client) View(ctx context.Context, target string) ([]ViewEntry, error) {
	return listResources[ViewEntry](ctx, c, "/api/v1/targets/"+url.PathEscape(target)+"/view")
}
