package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrFileNotFound indicates no stored object exists for the tracing.
var ErrFileNotFound = errors.New("tracing file not found")

// uploadExtensions are the formats the upload collaborator may store, probed
// in order.
var uploadExtensions = []string{".csv", ".xlsx"}

// Options configures the bucket reader.
type Options struct {
	Region   string
	Endpoint string // optional; set for local stacks (localstack/minio)
	Bucket   string
	Prefix   string
}

// BucketReader fetches uploaded tracing files from object storage. It
// implements the ingestion file-fetcher port.
type BucketReader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewBucketReader builds an S3-backed reader.
//
// Supported env vars besides Options (local-friendly):
//   - AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY via the default chain
func NewBucketReader(ctx context.Context, opts Options) (*BucketReader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}

	// Local stacks do not validate credentials, but the SDK requires them.
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BucketReader{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// FetchFile downloads the stored file for a tracing, probing the supported
// upload formats under the configured prefix.
func (b *BucketReader) FetchFile(ctx context.Context, tracingID uuid.UUID) ([]byte, string, error) {
	for _, ext := range uploadExtensions {
		key := path.Join(b.prefix, tracingID.String()+ext)

		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				continue
			}
			return nil, "", fmt.Errorf("get object %s: %w", key, err)
		}

		payload, readErr := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if readErr != nil {
			return nil, "", fmt.Errorf("read object %s: %w", key, readErr)
		}
		return payload, path.Base(key), nil
	}

	return nil, "", fmt.Errorf("%w: tracing %s in bucket %s", ErrFileNotFound, tracingID, b.bucket)
}
