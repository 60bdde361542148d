package prometheus

import (
	"golang.org/x/sys/unix"

	fserrors "github.com/marmos91/ckptfs/pkg/memfs/errors"
)

// Status label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

func statusOf(err error) string {
	if err == nil {
		return statusSuccess
	}
	return statusError
}

// errnoLabel names the errno carried by err, e.g. "ENOSPC".
func errnoLabel(err error) string {
	if err == nil {
		return statusSuccess
	}
	if name := unix.ErrnoName(fserrors.ErrnoOf(err)); name != "" {
		return name
	}
	return statusError
}

// durationBuckets are milliseconds, from a fast memfs call to a large
// multi-shard upload.
var durationBuckets = []float64{
	1,     // 1ms - memfs metadata
	10,    // 10ms
	50,    // 50ms - small local uploads
	100,   // 100ms
	500,   // 500ms
	1000,  // 1s - remote uploads
	5000,  // 5s
	30000, // 30s - large checkpoints
}
