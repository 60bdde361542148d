package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	data     []byte
	etag     string
	modified time.Time
	meta     map[string]string
}

// fakeClient is an in-memory bucket implementing Client.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	calls   map[string]int
	failPut error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]*fakeObject), calls: make(map[string]int)}
}

func (c *fakeClient) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["head"]++
	obj, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
		Metadata:      obj.meta,
	}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["get"]++
	obj, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	if r := aws.ToString(in.Range); r != "" {
		var start, end int
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), data...))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["put"]++
	if c.failPut != nil {
		return nil, c.failPut
	}
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := c.objects[aws.ToString(in.Key)]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	c.objects[aws.ToString(in.Key)] = &fakeObject{data: data, etag: etag, modified: time.Now(), meta: in.Metadata}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["copy"]++
	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	_, key, _ := strings.Cut(src, "/")
	obj, ok := c.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	cp := *obj
	cp.modified = time.Now()
	c.objects[aws.ToString(in.Key)] = &cp
	return &s3.CopyObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["delete"]++
	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["list"]++
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	limit := int(aws.ToInt32(in.MaxKeys))

	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := make(map[string]bool)
	for _, k := range keys {
		if limit > 0 && len(out.Contents)+len(out.CommonPrefixes) >= limit {
			break
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		obj := c.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			ETag:         aws.String(obj.etag),
			LastModified: aws.Time(obj.modified),
		})
	}
	return out, nil
}
