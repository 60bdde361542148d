package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries task-scoped fields that the *Ctx functions prepend to
// every record.
type LogContext struct {
	TraceID    string    // Correlates every record of one preload or upload
	Operation  string    // preload, upload, remove, evict, ...
	Path       string    // memfs path the task works on
	Inode      uint64    // memfs inode
	Generation uint64    // Upload generation of the file
	Target     string    // Backup target name
	TaskID     uint64    // Retry pool task id
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for operation with a fresh trace id.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		TraceID:   uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPath returns a copy bound to a file.
func (lc *LogContext) WithPath(path string, inode uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Path = path
		clone.Inode = inode
	}
	return clone
}

// WithTarget returns a copy bound to a backup target.
func (lc *LogContext) WithTarget(target string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Target = target
	}
	return clone
}

// WithGeneration returns a copy with the upload generation set.
func (lc *LogContext) WithGeneration(gen uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Generation = gen
	}
	return clone
}

// WithTask returns a copy with the retry pool task id set.
func (lc *LogContext) WithTask(id uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TaskID = id
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
