//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/kenneth/secsend/internal/config"
	"github.com/kenneth/secsend/internal/id"
)

// TestS3BackendAgainstMinio exercises the conditional-PUT lock and
// exclusive-create paths against a real S3-compatible server,
// substituting If-None-Match for O_EXCL, using the testcontainers-go
// minio module.
func TestS3BackendAgainstMinio(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	require.NoError(t, err)
	defer container.Terminate(ctx)

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	backend, err := NewS3Backend(ctx, config.S3Config{
		Bucket:       "secsend-test",
		Region:       "us-east-1",
		Endpoint:     "http://" + endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	_, err = backend.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &backend.bucket})
	require.NoError(t, err)

	fileID, _ := id.GenerateRoot()
	obj := New(backend, fileID, nil)

	require.NoError(t, obj.Create(ctx, sampleRecord()))
	require.Error(t, obj.Create(ctx, sampleRecord()), "exclusive create must reject a second write")

	u, err := obj.LockWrite(ctx)
	require.NoError(t, err)
	_, err = obj.LockWrite(ctx)
	require.Error(t, err, "conditional-PUT lock must reject a concurrent holder")
	require.NoError(t, u.Unlock(ctx))
}
