package logger

import (
	"errors"
	"log/slog"
	"syscall"
	"time"
)

// Standard field keys for structured logging. Use them consistently so logs
// from memfs, the retry pools and the backup targets can be joined.
const (
	// ========================================================================
	// Correlation
	// ========================================================================
	KeyTraceID   = "trace_id"  // Correlates the records of one preload or upload
	KeyTaskID    = "task_id"   // Retry pool task id
	KeyOperation = "operation" // preload, upload, remove, evict, ...
	KeyPool      = "pool"      // Retry pool name
	KeyState     = "state"     // memfs lifecycle state

	// ========================================================================
	// Namespace
	// ========================================================================
	KeyPath      = "path"       // memfs path
	KeyOldPath   = "old_path"   // Rename source
	KeyNewPath   = "new_path"   // Rename destination
	KeyStagePath = "stage_path" // Staging object in the UFS
	KeyFD        = "fd"         // memfs descriptor
	KeyInode     = "inode"      // memfs inode
	KeyUfsInode  = "ufs_inode"  // Inode reported by the UFS
	KeyType      = "type"       // file or dir
	KeySize      = "size"       // Size in bytes
	KeyMode      = "mode"       // Permission bits
	KeyMtime     = "mtime"      // Modification time
	KeyLinkCount = "link_count" // Hard link count

	// ========================================================================
	// Blocks and sharding
	// ========================================================================
	KeyBlockSize  = "block_size"  // Pool block size
	KeyBlocks     = "blocks"      // Block count
	KeyFreeBlocks = "free_blocks" // Unallocated blocks
	KeyOffset     = "offset"      // Byte offset of a shard
	KeyLength     = "length"      // Byte length of a shard
	KeyShard      = "shard"       // Shard index
	KeyShards     = "shards"      // Shard count
	KeyEvicted    = "evicted"     // Files dropped by a recycle pass
	KeyFreed      = "freed_bytes" // Bytes released by a recycle pass

	// ========================================================================
	// Backup
	// ========================================================================
	KeyGeneration = "generation"  // Upload generation
	KeyTarget     = "target"      // Backup target name
	KeyTargetType = "target_type" // local or s3
	KeyBucket     = "bucket"      // S3 bucket
	KeyKey        = "key"         // S3 object key
	KeyRegion     = "region"      // S3 region
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyFailCount  = "fail_count"  // Tasks that exhausted their retries

	// ========================================================================
	// Outcome
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrno      = "errno"       // POSIX errno of the failure
)

// TraceID creates a trace id attribute.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// TaskID creates a task id attribute.
func TaskID(id uint64) slog.Attr {
	return slog.Uint64(KeyTaskID, id)
}

// Operation creates an operation attribute.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Path creates a path attribute.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// StagePath creates a staging path attribute.
func StagePath(p string) slog.Attr {
	return slog.String(KeyStagePath, p)
}

// Inode creates an inode attribute.
func Inode(id uint64) slog.Attr {
	return slog.Uint64(KeyInode, id)
}

// Size creates a size attribute.
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Mtime creates a modification time attribute in RFC 3339 with nanoseconds.
func Mtime(t time.Time) slog.Attr {
	return slog.String(KeyMtime, t.Format(time.RFC3339Nano))
}

// Shard creates a shard attribute group.
func Shard(index int, offset, length uint64) slog.Attr {
	return slog.Group(KeyShard,
		slog.Int("index", index),
		slog.Uint64(KeyOffset, offset),
		slog.Uint64(KeyLength, length))
}

// Generation creates an upload generation attribute.
func Generation(g uint64) slog.Attr {
	return slog.Uint64(KeyGeneration, g)
}

// Target creates a backup target attribute.
func Target(name string) slog.Attr {
	return slog.String(KeyTarget, name)
}

// Attempt creates a retry attempt attribute.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs creates a duration attribute.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err creates an error attribute. A nil error yields an empty attribute,
// which slog drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Errno creates an errno attribute from the first syscall.Errno in err's
// chain. It yields an empty attribute when there is none.
func Errno(err error) slog.Attr {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return slog.Attr{}
	}
	return slog.String(KeyErrno, errno.Error())
}
