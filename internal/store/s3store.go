package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kenneth/secsend/internal/config"
	"github.com/kenneth/secsend/internal/id"
)

// S3Backend is the alternate object-store backend for deployments that
// share storage across many relay processes, built on the S3 client's
// PutObject/GetObject/DeleteObject/HeadObject calls. Where the
// filesystem backend uses O_EXCL for exclusive metadata creation and
// lock sidecars, this backend uses conditional PUT (If-None-Match: *)
// on both.
type S3Backend struct {
	client *s3.Client
	bucket string
	locker *RedisLocker
}

// WithLocker swaps the conditional-PUT lock for a RedisLocker, for
// deployments where cfg.LockBackend is "redis" and write exclusion
// must hold across many relay processes. Returns b for chaining.
func (b *S3Backend) WithLocker(locker *RedisLocker) *S3Backend {
	b.locker = locker
	return b
}

// NewS3Backend builds an S3Backend from cfg using the AWS SDK v2
// default credential chain, overridden by cfg.AccessKey/SecretKey when set.
func NewS3Backend(ctx context.Context, cfg config.S3Config) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

func (b *S3Backend) Open(fileID id.ID) Handle {
	_, fullHex := id.PathSegments(fileID)
	return &s3Handle{
		client:     b.client,
		bucket:     b.bucket,
		metaKey:    fullHex + ".metadata",
		contentKey: fullHex + ".content",
		lockKey:    fullHex + ".metadata.lock",
		locker:     b.locker,
	}
}

type s3Handle struct {
	client     *s3.Client
	bucket     string
	metaKey    string
	contentKey string
	lockKey    string
	locker     *RedisLocker
}

func (h *s3Handle) Metadata(ctx context.Context) ([]byte, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &h.bucket, Key: &h.metaKey})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3store: get metadata: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (h *s3Handle) WriteMetadata(ctx context.Context, data []byte) error {
	ifNoneMatch := "*"
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &h.bucket,
		Key:         &h.metaKey,
		Body:        bytes.NewReader(data),
		IfNoneMatch: &ifNoneMatch,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrExists
		}
		return fmt.Errorf("s3store: put metadata: %w", err)
	}
	return nil
}

func (h *s3Handle) ReplaceMetadata(ctx context.Context, data []byte) error {
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &h.bucket,
		Key:    &h.metaKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3store: replace metadata: %w", err)
	}
	return nil
}

func (h *s3Handle) Size(ctx context.Context) (int64, error) {
	out, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &h.bucket, Key: &h.contentKey})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("s3store: head content: %w", err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// AppendContent has no native S3 equivalent (objects are immutable);
// s3Writer buffers a full replacement PUT of previous-content+new-bytes
// on Close, acceptable for the relay's append-then-finish usage pattern
// where pushes are infrequent relative to object lifetime.
func (h *s3Handle) AppendContent(ctx context.Context) (io.WriteCloser, error) {
	existing, err := h.readAllContent(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &s3Writer{ctx: ctx, handle: h, buf: bytes.NewBuffer(existing)}, nil
}

func (h *s3Handle) readAllContent(ctx context.Context) ([]byte, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &h.bucket, Key: &h.contentKey})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3store: get content: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

type s3Writer struct {
	ctx    context.Context
	handle *s3Handle
	buf    *bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	_, err := w.handle.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: &w.handle.bucket,
		Key:    &w.handle.contentKey,
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("s3store: put content: %w", err)
	}
	return nil
}

func (h *s3Handle) ReadContent(ctx context.Context, off int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", off)
	in := &s3.GetObjectInput{Bucket: &h.bucket, Key: &h.contentKey}
	if off > 0 {
		in.Range = &rangeHeader
	}
	out, err := h.client.GetObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3store: get content: %w", err)
	}
	return out.Body, nil
}

// Lock creates a zero-byte lock object with If-None-Match: *, the
// conditional-PUT analogue of the filesystem backend's O_EXCL sidecar.
// When the backend was built WithLocker, a RedisLocker lease is used
// instead, so a crashed holder's lock self-expires.
func (h *s3Handle) Lock(ctx context.Context) (Unlocker, error) {
	if h.locker != nil {
		return h.locker.Lock(ctx, h.lockKey)
	}
	ifNoneMatch := "*"
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &h.bucket,
		Key:         &h.lockKey,
		Body:        bytes.NewReader(nil),
		IfNoneMatch: &ifNoneMatch,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("s3store: put lock: %w", err)
	}
	return &s3Unlocker{ctx: ctx, client: h.client, bucket: h.bucket, key: h.lockKey}, nil
}

type s3Unlocker struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
}

func (u *s3Unlocker) Unlock(ctx context.Context) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &u.bucket, Key: &u.key})
	if err != nil {
		return fmt.Errorf("s3store: delete lock: %w", err)
	}
	return nil
}

func (h *s3Handle) Delete(ctx context.Context) error {
	_, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &h.bucket, Key: &h.metaKey})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("s3store: head metadata before delete: %w", err)
	}
	if _, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &h.bucket, Key: &h.metaKey}); err != nil {
		return fmt.Errorf("s3store: delete metadata: %w", err)
	}
	if _, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &h.bucket, Key: &h.contentKey}); err != nil {
		return fmt.Errorf("s3store: delete content: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 412
	}
	return false
}
