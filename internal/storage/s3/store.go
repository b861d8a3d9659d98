// Package s3 implements the storage Backend using the AWS SDK, for S3 and
// S3-compatible stores (MinIO, GCS interop, Azure gateways).
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/snapgc-io/snapgc/internal/storage"
)

// maxBatchKeys is the S3 DeleteObjects per-request limit.
const maxBatchKeys = 1000

// Config configures an S3 backend.
type Config struct {
	// Bucket is the name of the S3 bucket holding snapshot payloads.
	Bucket string

	// KeyPrefix is prepended to every snapshot id to form the object key
	// (e.g. "snapshots/").
	KeyPrefix string

	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for
	// MinIO). If empty, uses the default AWS endpoint for the region.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials.
	// If empty, the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for MinIO and
	// some S3-compatible stores).
	UsePathStyle bool
}

// Backend implements storage.Backend on an S3 bucket. A snapshot payload is
// a single object at <KeyPrefix><id>; DeletePayloadBatch uses the native
// DeleteObjects bulk API.
type Backend struct {
	client *awss3.Client
	bucket string
	prefix string

	mu     sync.RWMutex
	closed bool
}

// New creates an S3 backend with the given configuration.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	} else {
		opts = append(opts, awsconfig.WithRegion("us-east-1"))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*awss3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Backend{
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (b *Backend) key(id string) string {
	return b.prefix + id
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.ErrClosed
	}
	return nil
}

// DeletePayload removes the payload object. S3 DeleteObject succeeds on a
// missing key, which matches the idempotency contract.
func (b *Backend) DeletePayload(ctx context.Context, id string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return b.wrapError("Delete", id, err)
	}
	return nil
}

// DeletePayloadBatch deletes payloads with the DeleteObjects bulk API,
// chunking at the S3 per-request key limit. A request-level failure is a
// catastrophic batch error: failed stays empty and the error is returned.
// The exception is a request failure after an earlier chunk already
// reported per-id failures: the ids of the failed chunk are then added to
// failed and the remaining chunks are still attempted.
func (b *Backend) DeletePayloadBatch(ctx context.Context, ids []string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	var failed []string
	for start := 0; start < len(ids); start += maxBatchKeys {
		end := start + maxBatchKeys
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		objects := make([]types.ObjectIdentifier, len(chunk))
		for i, id := range chunk {
			objects[i] = types.ObjectIdentifier{Key: aws.String(b.key(id))}
		}

		out, err := b.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			if len(failed) > 0 {
				// Earlier chunks already produced per-id failures;
				// report the ids of this chunk as failed instead of
				// escalating to a catastrophic error mid-batch.
				failed = append(failed, chunk...)
				continue
			}
			return nil, b.wrapError("DeleteBatch", fmt.Sprintf("%d ids", len(ids)), err)
		}

		for _, derr := range out.Errors {
			key := aws.ToString(derr.Key)
			if len(key) >= len(b.prefix) {
				failed = append(failed, key[len(b.prefix):])
			}
		}
	}
	return failed, nil
}

// Exists probes the payload object with a HEAD request.
func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := b.checkClosed(); err != nil {
		return false, err
	}
	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, b.wrapError("Exists", id, err)
	}
	return true, nil
}

// Close releases resources associated with the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) wrapError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden {
		return &storage.PayloadError{Op: op, ID: id, Err: storage.ErrAccessDenied}
	}
	return &storage.PayloadError{Op: op, ID: id, Err: err}
}

var _ storage.Backend = (*Backend)(nil)
