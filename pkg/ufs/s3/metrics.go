package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Metrics receives S3 request observations. A nil Metrics disables
// collection.
type Metrics interface {
	// ObserveRequest records one S3 API call. bytes is the payload size for
	// PutObject and GetObject and zero otherwise.
	ObserveRequest(store, operation string, bytes int64, duration time.Duration, err error)
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records every S3 call the store makes.
func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.client = &instrumentedClient{next: s.client, store: s.name, m: m}
		}
	}
}

// instrumentedClient decorates a Client with request metrics.
type instrumentedClient struct {
	next  Client
	store string
	m     Metrics
}

func (c *instrumentedClient) observe(op string, start time.Time, bytes int64, err error) {
	c.m.ObserveRequest(c.store, op, bytes, time.Since(start), err)
}

func (c *instrumentedClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	out, err := c.next.HeadObject(ctx, in, opts...)
	c.observe("HeadObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	start := time.Now()
	out, err := c.next.GetObject(ctx, in, opts...)
	var n int64
	if out != nil {
		n = aws.ToInt64(out.ContentLength)
	}
	c.observe("GetObject", start, n, err)
	return out, err
}

func (c *instrumentedClient) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	start := time.Now()
	out, err := c.next.PutObject(ctx, in, opts...)
	c.observe("PutObject", start, aws.ToInt64(in.ContentLength), err)
	return out, err
}

func (c *instrumentedClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	start := time.Now()
	out, err := c.next.CopyObject(ctx, in, opts...)
	c.observe("CopyObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	start := time.Now()
	out, err := c.next.DeleteObject(ctx, in, opts...)
	c.observe("DeleteObject", start, 0, err)
	return out, err
}

func (c *instrumentedClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := time.Now()
	out, err := c.next.ListObjectsV2(ctx, in, opts...)
	c.observe("ListObjectsV2", start, 0, err)
	return out, err
}
