package runtime

import (
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/ckptfs/pkg/backup"
	"github.com/marmos91/ckptfs/pkg/backup/retry"
)

// Status is a point-in-time snapshot of the runtime.
type Status struct {
	State       string
	Progress    int32
	Serviceable bool
	Suspended   bool

	BlockSize  uint64
	BlockCount uint64
	FreeBlocks uint64
	OpenFiles  int

	PoolName string
	Pool     retry.Stats
	CCAEPath string

	StartedAt time.Time
	Uptime    time.Duration
}

// UsedBlocks returns the number of allocated blocks.
func (s Status) UsedBlocks() uint64 {
	return s.BlockCount - s.FreeBlocks
}

// TargetStatus describes one registered under file system.
type TargetStatus struct {
	Name  string
	Type  string
	Files int
}

// Status returns a snapshot of memfs and the retry pool.
func (r *Runtime) Status() Status {
	blockSize, blockCount := r.mem.GetShareFileCfg()
	return Status{
		State:       r.mem.State().String(),
		Progress:    r.mem.Progress(),
		Serviceable: r.mem.IsServiceable(),
		Suspended:   r.initiator.Marked(),
		BlockSize:   blockSize,
		BlockCount:  blockCount,
		FreeBlocks:  r.mem.FreeBlocks(),
		OpenFiles:   r.mem.FileSystem().OpenFiles(),
		PoolName:    r.pool.Name(),
		Pool:        r.pool.Stats(),
		CCAEPath:    r.pool.CCAEPath(),
		StartedAt:   r.startedAt,
		Uptime:      time.Since(r.startedAt),
	}
}

// TargetStatuses lists the targets in replication order with the type they
// were configured with and the number of files their view holds.
func (r *Runtime) TargetStatuses() []TargetStatus {
	types := make(map[string]string, len(r.cfg.Targets))
	for _, t := range r.cfg.Targets {
		types[t.Name] = t.Type
	}
	targets := r.Targets()
	out := make([]TargetStatus, 0, len(targets))
	for _, u := range targets {
		ts := TargetStatus{Name: u.Name(), Type: types[u.Name()]}
		if v := r.target.View(u.Name()); v != nil {
			ts.Files = v.Len()
		}
		out = append(out, ts)
	}
	return out
}

// ViewEntry is one committed file of a target view.
type ViewEntry struct {
	Path string
	backup.ViewEntry
}

// View returns the committed files of the named target sorted by path.
func (r *Runtime) View(name string) ([]ViewEntry, error) {
	v := r.target.View(name)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}
	entries := v.Entries()
	out := make([]ViewEntry, 0, len(entries))
	for p, e := range entries {
		out = append(out, ViewEntry{Path: p, ViewEntry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
