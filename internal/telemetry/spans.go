package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrPath       = "ckptfs.path"
	AttrInode      = "ckptfs.inode"
	AttrGeneration = "ckptfs.generation"
	AttrTarget     = "ckptfs.target"
	AttrSize       = "ckptfs.size"
	AttrShards     = "ckptfs.shards"
	AttrForce      = "ckptfs.force"
	AttrPool       = "ckptfs.pool"
)

// Span names.
const (
	SpanUpload       = "backup.upload"
	SpanUploadTarget = "backup.upload_target"
	SpanStage        = "backup.stage"
	SpanRemove       = "backup.remove"
	SpanPreload      = "backup.preload"
	SpanEvictBackup  = "backup.evict"
	SpanRecycle      = "memfs.recycle"
)

// Path returns an attribute for a memfs or UFS path.
func Path(p string) attribute.KeyValue { return attribute.String(AttrPath, p) }

// Inode returns an attribute for a memfs inode number.
func Inode(ino uint64) attribute.KeyValue { return attribute.Int64(AttrInode, int64(ino)) }

// Generation returns an attribute for a file generation.
func Generation(g uint64) attribute.KeyValue { return attribute.Int64(AttrGeneration, int64(g)) }

// Target returns an attribute for a backup target name.
func Target(name string) attribute.KeyValue { return attribute.String(AttrTarget, name) }

// Size returns an attribute for a byte count.
func Size(n uint64) attribute.KeyValue { return attribute.Int64(AttrSize, int64(n)) }

// Shards returns an attribute for a shard count.
func Shards(n int) attribute.KeyValue { return attribute.Int(AttrShards, n) }

// Force returns an attribute for a forced upload.
func Force(f bool) attribute.KeyValue { return attribute.Bool(AttrForce, f) }

// StartBackupSpan starts a span for a backup operation on path.
func StartBackupSpan(ctx context.Context, name, path string, generation uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Path(path), Generation(generation)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}
