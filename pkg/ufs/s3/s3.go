// Package s3 implements a ufs.FileSystem on an S3 bucket.
//
// Object stores have no directories, inodes or locks, so the adapter models
// them:
//   - a directory is a zero-length marker object whose key ends in "/", or
//     any key prefix with objects below it
//   - the inode of an object is a hash of its key and ETag, so it changes
//     whenever the object is rewritten
//   - Rename is CopyObject followed by DeleteObject and is not atomic
//   - Lock is an in-process lock and only excludes writers in this process
//
// Writes are spooled to a local temporary file and uploaded with PutObject
// on Sync and Close.
package s3

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/ufs"
)

const (
	metaMode = "mode"

	defaultFileMode fs.FileMode = 0o644
	defaultDirMode  fs.FileMode = 0o755
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Name identifies the backend. Defaults to "s3:<bucket>/<prefix>".
	Name string

	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all keys (e.g., "ckpt/").
	// Should end with "/" if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// MaxRetries is the maximum number of SDK retry attempts.
	MaxRetries int

	// SpoolDir holds write buffers until upload. Defaults to os.TempDir().
	SpoolDir string
}

// Client is the subset of the S3 API the backend uses. *s3.Client
// satisfies it.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store is an S3-backed ufs.FileSystem.
type Store struct {
	client    Client
	name      string
	bucket    string
	keyPrefix string
	spoolDir  string
	closed    atomic.Bool

	lockMu sync.Mutex
	locks  map[string]struct{}
}

var _ ufs.FileSystem = (*Store)(nil)

// New creates a backend on an existing client.
func New(client Client, cfg Config, opts ...Option) *Store {
	name := cfg.Name
	if name == "" {
		name = "s3:" + cfg.Bucket + "/" + cfg.KeyPrefix
	}
	spool := cfg.SpoolDir
	if spool == "" {
		spool = os.TempDir()
	}
	st := &Store{
		client:    client,
		name:      name,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		spoolDir:  spool,
		locks:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// NewFromConfig creates a backend by building an S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 ufs requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("s3 ufs configured",
		logger.KeyBucket, cfg.Bucket,
		logger.KeyRegion, cfg.Region,
		"endpoint", cfg.Endpoint,
		"prefix", cfg.KeyPrefix)
	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg, opts...), nil
}

// Name implements ufs.FileSystem.
func (s *Store) Name() string { return s.name }

// objectKey returns the key of a clean path. The root maps to the prefix.
func (s *Store) objectKey(clean string) string {
	return s.keyPrefix + strings.TrimPrefix(clean, "/")
}

// dirKey returns the marker key of a clean directory path.
func (s *Store) dirKey(clean string) string {
	if clean == "/" {
		return s.keyPrefix
	}
	return s.objectKey(clean) + "/"
}

func (s *Store) begin(op, p string) (string, error) {
	clean, err := ufs.Clean(p)
	if err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", ufs.PathError(op, clean, syscall.EBADF)
	}
	return clean, nil
}

// remoteErr converts an SDK error into a path error. Transient failures
// carry EAGAIN, everything else EIO, and the SDK error stays in the chain.
func remoteErr(op, p string, err error) error {
	if isNotFoundError(err) {
		return ufs.PathError(op, p, syscall.ENOENT)
	}
	if isPreconditionFailed(err) {
		return ufs.PathError(op, p, syscall.EEXIST)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &fs.PathError{Op: op, Path: p, Err: err}
	}
	errno := syscall.EIO
	if isRetryableError(err) {
		errno = syscall.EAGAIN
	}
	return &fs.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", errno, err)}
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}
	return false
}

// isPreconditionFailed reports a conditional write that lost to an
// existing object.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "412"
	}
	return false
}

// isRetryableError returns true if the error is transient.
func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"InternalError", "ServiceUnavailable", "RequestTimeout":
			return true
		}
	}
	return false
}

// inodeOf derives a stable identity from key and ETag.
func inodeOf(key, etag string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(etag))
	if v := h.Sum64(); v != 0 {
		return v
	}
	return 1
}

func modeFrom(meta map[string]string, def fs.FileMode) fs.FileMode {
	if v, ok := meta[metaMode]; ok {
		if m, err := strconv.ParseUint(v, 8, 32); err == nil {
			return fs.FileMode(m).Perm()
		}
	}
	return def
}

func modeMeta(mode fs.FileMode) map[string]string {
	return map[string]string{metaMode: strconv.FormatUint(uint64(mode.Perm()), 8)}
}

func dirInfo(clean, key string, mode fs.FileMode, mtime time.Time) *ufs.FileInfo {
	return &ufs.FileInfo{
		Path:    clean,
		Mode:    mode | fs.ModeDir,
		ModTime: mtime,
		Inode:   inodeOf(key, ""),
	}
}

// stat resolves clean to a file, a marker directory or an implicit
// directory, in that order.
func (s *Store) stat(ctx context.Context, op, clean string) (*ufs.FileInfo, error) {
	if clean == "/" {
		return dirInfo(clean, s.keyPrefix, defaultDirMode, time.Time{}), nil
	}

	key := s.objectKey(clean)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &ufs.FileInfo{
			Path:    clean,
			Size:    aws.ToInt64(head.ContentLength),
			Mode:    modeFrom(head.Metadata, defaultFileMode),
			ModTime: aws.ToTime(head.LastModified),
			Inode:   inodeOf(key, aws.ToString(head.ETag)),
		}, nil
	}
	if !isNotFoundError(err) {
		return nil, remoteErr(op, clean, err)
	}

	dkey := s.dirKey(clean)
	head, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dkey),
	})
	if err == nil {
		return dirInfo(clean, dkey, modeFrom(head.Metadata, defaultDirMode), aws.ToTime(head.LastModified)), nil
	}
	if !isNotFoundError(err) {
		return nil, remoteErr(op, clean, err)
	}

	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(dkey),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, remoteErr(op, clean, err)
	}
	if len(list.Contents) > 0 {
		return dirInfo(clean, dkey, defaultDirMode, time.Time{}), nil
	}
	return nil, ufs.PathError(op, clean, syscall.ENOENT)
}

// requireParentDir fails with ENOENT or ENOTDIR unless the parent of clean
// is a directory.
func (s *Store) requireParentDir(ctx context.Context, op, clean string) error {
	parent, err := s.stat(ctx, op, ufs.Parent(clean))
	if err != nil {
		if ufs.IsNotExist(err) {
			return ufs.PathError(op, clean, syscall.ENOENT)
		}
		return err
	}
	if !parent.IsDir() {
		return ufs.PathError(op, clean, syscall.ENOTDIR)
	}
	return nil
}

// CreateDirectory implements ufs.FileSystem by writing a marker object.
func (s *Store) CreateDirectory(ctx context.Context, p string, mode fs.FileMode) error {
	clean, err := s.begin("mkdir", p)
	if err != nil {
		return err
	}
	if _, err := s.stat(ctx, "mkdir", clean); err == nil {
		return ufs.PathError("mkdir", clean, syscall.EEXIST)
	} else if !ufs.IsNotExist(err) {
		return err
	}
	if err := s.requireParentDir(ctx, "mkdir", clean); err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.dirKey(clean)),
		Body:     strings.NewReader(""),
		Metadata: modeMeta(mode),
	})
	if err != nil {
		return remoteErr("mkdir", clean, err)
	}
	return nil
}

// PutFile implements ufs.FileSystem. An empty object is written at once so
// the file is visible before the first upload.
func (s *Store) PutFile(ctx context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	return s.create(ctx, "put", p, mode, false)
}

// CreateFile implements ufs.FileSystem. The first upload is conditional on
// the key being absent, so the bucket arbitrates concurrent creators.
func (s *Store) CreateFile(ctx context.Context, p string, mode fs.FileMode) (ufs.WriteHandle, error) {
	return s.create(ctx, "create", p, mode, true)
}

func (s *Store) create(ctx context.Context, op, p string, mode fs.FileMode, exclusive bool) (ufs.WriteHandle, error) {
	clean, err := s.begin(op, p)
	if err != nil {
		return nil, err
	}
	if fi, err := s.stat(ctx, op, clean); err == nil {
		if exclusive {
			return nil, ufs.PathError(op, clean, syscall.EEXIST)
		}
		if fi.IsDir() {
			return nil, ufs.PathError(op, clean, syscall.EISDIR)
		}
	} else if !ufs.IsNotExist(err) {
		return nil, err
	}
	if err := s.requireParentDir(ctx, op, clean); err != nil {
		return nil, err
	}

	spool, err := os.CreateTemp(s.spoolDir, "ckptfs-s3-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file for %s: %w", clean, err)
	}
	w := &writeHandle{
		s:         s,
		ctx:       context.WithoutCancel(ctx),
		path:      clean,
		key:       s.objectKey(clean),
		mode:      mode,
		spool:     spool,
		dirty:     true,
		exclusive: exclusive,
	}
	if err := w.upload(); err != nil {
		w.discard()
		return nil, err
	}
	return w, nil
}

// OpenFile implements ufs.FileSystem.
func (s *Store) OpenFile(ctx context.Context, p string) (ufs.ReadHandle, error) {
	clean, err := s.begin("open", p)
	if err != nil {
		return nil, err
	}
	fi, err := s.stat(ctx, "open", clean)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, ufs.PathError("open", clean, syscall.EISDIR)
	}
	return &readHandle{
		s:    s,
		ctx:  context.WithoutCancel(ctx),
		path: clean,
		key:  s.objectKey(clean),
		size: fi.Size,
	}, nil
}

// Stat implements ufs.FileSystem. Object stores have no symlinks.
func (s *Store) Stat(ctx context.Context, p string) (*ufs.FileInfo, error) {
	clean, err := s.begin("stat", p)
	if err != nil {
		return nil, err
	}
	return s.stat(ctx, "stat", clean)
}

// Lstat implements ufs.FileSystem.
func (s *Store) Lstat(ctx context.Context, p string) (*ufs.FileInfo, error) {
	clean, err := s.begin("lstat", p)
	if err != nil {
		return nil, err
	}
	return s.stat(ctx, "lstat", clean)
}

// ReadDir implements ufs.FileSystem.
func (s *Store) ReadDir(ctx context.Context, p string) ([]*ufs.FileInfo, error) {
	clean, err := s.begin("readdir", p)
	if err != nil {
		return nil, err
	}
	fi, err := s.stat(ctx, "readdir", clean)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, ufs.PathError("readdir", clean, syscall.ENOTDIR)
	}

	base := clean
	if base != "/" {
		base += "/"
	}
	dkey := s.dirKey(clean)
	var out []*ufs.FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dkey),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, remoteErr("readdir", clean, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dkey), "/")
			if name == "" {
				continue
			}
			out = append(out, dirInfo(base+name, aws.ToString(cp.Prefix), defaultDirMode, time.Time{}))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, dkey)
			if name == "" {
				continue
			}
			out = append(out, &ufs.FileInfo{
				Path:    base + name,
				Size:    aws.ToInt64(obj.Size),
				Mode:    defaultFileMode,
				ModTime: aws.ToTime(obj.LastModified),
				Inode:   inodeOf(key, aws.ToString(obj.ETag)),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) deleteKey(ctx context.Context, op, clean, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return remoteErr(op, clean, err)
	}
	return nil
}

// Unlink implements ufs.FileSystem.
func (s *Store) Unlink(ctx context.Context, p string) error {
	clean, err := s.begin("unlink", p)
	if err != nil {
		return err
	}
	fi, err := s.stat(ctx, "unlink", clean)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return ufs.PathError("unlink", clean, syscall.EISDIR)
	}
	return s.deleteKey(ctx, "unlink", clean, s.objectKey(clean))
}

// Rmdir implements ufs.FileSystem.
func (s *Store) Rmdir(ctx context.Context, p string) error {
	clean, err := s.begin("rmdir", p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return ufs.PathError("rmdir", clean, syscall.EBUSY)
	}
	fi, err := s.stat(ctx, "rmdir", clean)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return ufs.PathError("rmdir", clean, syscall.ENOTDIR)
	}

	dkey := s.dirKey(clean)
	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(dkey),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return remoteErr("rmdir", clean, err)
	}
	for _, obj := range list.Contents {
		if aws.ToString(obj.Key) != dkey {
			return ufs.PathError("rmdir", clean, syscall.ENOTEMPTY)
		}
	}
	return s.deleteKey(ctx, "rmdir", clean, dkey)
}

// Rename implements ufs.FileSystem for files only. Directories would need
// every key below them rewritten.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	oldClean, err := s.begin("rename", oldPath)
	if err != nil {
		return err
	}
	newClean, err := ufs.Clean(newPath)
	if err != nil {
		return err
	}
	src, err := s.stat(ctx, "rename", oldClean)
	if err != nil {
		return err
	}
	if src.IsDir() {
		return ufs.PathError("rename", oldClean, syscall.EXDEV)
	}
	if dst, err := s.stat(ctx, "rename", newClean); err == nil && dst.IsDir() {
		return ufs.PathError("rename", newClean, syscall.EISDIR)
	} else if err != nil && !ufs.IsNotExist(err) {
		return err
	}
	if err := s.requireParentDir(ctx, "rename", newClean); err != nil {
		return err
	}

	srcKey := s.objectKey(oldClean)
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(newClean)),
		CopySource: aws.String(copySource(s.bucket, srcKey)),
	})
	if err != nil {
		return remoteErr("rename", oldClean, err)
	}
	return s.deleteKey(ctx, "rename", oldClean, srcKey)
}

// copySource URL-encodes bucket/key one segment at a time.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// Chown implements ufs.FileSystem. Objects carry no ownership, so only the
// existence of the path is checked.
func (s *Store) Chown(ctx context.Context, p string, _, _ uint32) error {
	clean, err := s.begin("chown", p)
	if err != nil {
		return err
	}
	_, err = s.stat(ctx, "chown", clean)
	return err
}

// Lock implements ufs.FileSystem with an in-process lock.
func (s *Store) Lock(ctx context.Context, p string) (ufs.Unlocker, error) {
	clean, err := s.begin("lock", p)
	if err != nil {
		return nil, err
	}
	if _, err := s.stat(ctx, "lock", clean); err != nil {
		return nil, err
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.locks[clean]; held {
		return nil, ufs.PathError("lock", clean, ufs.ErrLocked)
	}
	s.locks[clean] = struct{}{}
	return &unlocker{s: s, path: clean}, nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

type unlocker struct {
	s    *Store
	path string
	once sync.Once
}

func (u *unlocker) Unlock() error {
	u.once.Do(func() {
		u.s.lockMu.Lock()
		delete(u.s.locks, u.path)
		u.s.lockMu.Unlock()
	})
	return nil
}

// writeHandle buffers writes in a spool file and uploads the whole object.
type writeHandle struct {
	s     *Store
	ctx   context.Context
	path  string
	key   string
	mode  fs.FileMode
	spool *os.File

	// exclusive makes the next upload fail if the key exists.
	exclusive bool

	mu     sync.Mutex
	off    int64
	dirty  bool
	closed bool
}

func (w *writeHandle) Write(p []byte) (int, error) {
	w.mu.Lock()
	off := w.off
	w.mu.Unlock()
	n, err := w.WriteAt(p, off)
	w.mu.Lock()
	w.off = off + int64(n)
	w.mu.Unlock()
	return n, err
}

func (w *writeHandle) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fs.ErrClosed
	}
	w.dirty = true
	return w.spool.WriteAt(p, off)
}

// upload puts the spool contents. Caller holds mu or owns w exclusively.
func (w *writeHandle) upload() error {
	if !w.dirty {
		return nil
	}
	fi, err := w.spool.Stat()
	if err != nil {
		return fmt.Errorf("stat spool for %s: %w", w.path, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(w.s.bucket),
		Key:           aws.String(w.key),
		Body:          io.NewSectionReader(w.spool, 0, fi.Size()),
		ContentLength: aws.Int64(fi.Size()),
		Metadata:      modeMeta(w.mode),
	}
	if w.exclusive {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := w.s.client.PutObject(w.ctx, in); err != nil {
		return remoteErr("put", w.path, err)
	}
	w.dirty = false
	w.exclusive = false
	return nil
}

func (w *writeHandle) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fs.ErrClosed
	}
	return w.upload()
}

func (w *writeHandle) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	err := w.upload()
	w.discard()
	return err
}

func (w *writeHandle) discard() {
	name := w.spool.Name()
	_ = w.spool.Close()
	_ = os.Remove(name)
}

// readHandle serves ReadAt with ranged GetObject calls.
type readHandle struct {
	s    *Store
	ctx  context.Context
	path string
	key  string
	size int64
}

func (r *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ufs.PathError("read", r.path, syscall.EINVAL)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > r.size {
		end = r.size
	}

	resp, err := r.s.client.GetObject(r.ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.s.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		return 0, remoteErr("read", r.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.ReadFull(resp.Body, p[:end-off])
	if err != nil {
		return n, fmt.Errorf("read s3 object body %s: %w", r.path, err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (r *readHandle) Close() error { return nil }
