//go:build integration

package s3

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/ckptfs/pkg/ufs"
	"github.com/marmos91/ckptfs/pkg/ufs/ufstest"
)

const (
	localstackImage  = "localstack/localstack:3.0"
	localstackRegion = "us-east-1"
)

// localstackEndpoint returns LOCALSTACK_ENDPOINT when set, otherwise starts
// a throwaway Localstack container for the test.
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
	ctr, err := testcontainers.Run(ctx, localstackImage,
		testcontainers.WithExposedPorts("4566/tcp"),
		testcontainers.WithEnv(map[string]string{
			"SERVICES":              "s3",
			"DEFAULT_REGION":        localstackRegion,
			"EAGER_SERVICE_LOADING": "1",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(90*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start localstack")

	endpoint, err := ctr.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)
	return endpoint
}

// newBucket creates a uniquely named bucket through a plain SDK client.
func newBucket(t *testing.T, endpoint string) string {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(localstackRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := fmt.Sprintf("ckptfs-it-%d", time.Now().UnixNano())
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err, "create bucket")
	return bucket
}

// openStore builds a Store the way a configured s3 target does.
func openStore(t *testing.T, endpoint string) *Store {
	t.Helper()
	st, err := NewFromConfig(context.Background(), Config{
		Bucket:          newBucket(t, endpoint),
		Region:          localstackRegion,
		Endpoint:        endpoint,
		KeyPrefix:       "ckpt/",
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		SpoolDir:        t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIntegration_Conformance(t *testing.T) {
	endpoint := localstackEndpoint(t)

	ufstest.RunConformanceSuite(t, func(t *testing.T) ufs.FileSystem {
		return openStore(t, endpoint)
	})
}

func TestIntegration_LargeStageCommit(t *testing.T) {
	endpoint := localstackEndpoint(t)
	st := openStore(t, endpoint)
	ctx := context.Background()

	require.NoError(t, st.CreateDirectory(ctx, "/step-9", 0o755))

	payload := make([]byte, 12<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	// Write the stage out of order, the way parallel shards land.
	w, err := st.PutFile(ctx, "/step-9/model.pt.m.stg", 0o644)
	require.NoError(t, err)
	half := len(payload) / 2
	_, err = w.WriteAt(payload[half:], int64(half))
	require.NoError(t, err)
	_, err = w.WriteAt(payload[:half], 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, st.Rename(ctx, "/step-9/model.pt.m.stg", "/step-9/model.pt"))

	_, err = st.Stat(ctx, "/step-9/model.pt.m.stg")
	assert.True(t, ufs.IsNotExist(err), "stage must be gone after commit, got %v", err)

	fi, err := st.Stat(ctx, "/step-9/model.pt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), fi.Size)
	assert.NotZero(t, fi.Inode)

	r, err := st.OpenFile(ctx, "/step-9/model.pt")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	got := make([]byte, 1<<20)
	off := int64(len(payload) - len(got))
	n, err := r.ReadAt(got, off)
	require.NoError(t, err)
	assert.Equal(t, len(got), n)
	assert.True(t, bytes.Equal(payload[off:], got), "tail range mismatch")
}
