// Package backup persists memfs files to one or more under file systems and
// loads them back.
//
// Writes go through a stage file next to the destination ("<path>.m.stg").
// The stage is locked, filled, synced and renamed over the destination, so
// an observer of the UFS sees either the previous version or the complete
// new one. A crash before the rename leaves only the stage, which the next
// upload or RemoveStageFileFromUfs reaps.
//
// Import graph: memfs, ufs, retry <- backup <- backup/ledger
package backup

import (
	"fmt"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// StageSuffix is appended to a UFS path to name its stage file.
const StageSuffix = ".m.stg"

// StagePath returns the stage file name for path.
func StagePath(path string) string {
	return path + StageSuffix
}

// FileTrace identifies one version of a file. Generation grows every time
// the file is opened for writing or linked, so work scheduled for an older
// generation can be recognised as superseded.
type FileTrace struct {
	Path       string
	Generation uint64
}

// NewFileTrace returns a trace for path at generation gen.
func NewFileTrace(path string, gen uint64) FileTrace {
	return FileTrace{Path: path, Generation: gen}
}

func (t FileTrace) String() string {
	return fmt.Sprintf("%s@%d", t.Path, t.Generation)
}

// Validate checks the path length limit.
func (t FileTrace) Validate() error {
	return fserrors.CheckPath(t.Path)
}
