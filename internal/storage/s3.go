package storage

import (
	"context"
	"errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Backend implements Backend against an S3-compatible object store.
// It is the deployment alternative to FilesystemBackend named in §6's
// "Storage backend connection" configuration key.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates a new S3 blob store backend. Credentials are
// resolved by the default AWS SDK chain (environment, shared config,
// instance role); cfg carries no credential settings.
func NewS3Backend(cfg Config) (*S3Backend, error) {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewErrorWithCause("LoadAWSConfig", "failed to load AWS configuration", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
		if awsCfg.Credentials == nil {
			o.Credentials = credentials.NewStaticCredentialsProvider("", "", "")
		}
	})

	return &S3Backend{client: client, bucket: cfg.S3Bucket}, nil
}

// Put uploads key's content, replacing any existing object.
func (b *S3Backend) Put(ctx context.Context, key string, data io.Reader, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   &b.bucket,
		Key:      &key,
		Body:     data,
		Metadata: metadata,
	})
	if err != nil {
		return NewErrorWithCause("S3PutObject", "failed to upload blob", err)
	}
	return nil
}

// Get opens key for reading.
func (b *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, NewErrorWithCause("S3GetObject", "failed to download blob", err)
	}
	return out.Body, out.Metadata, nil
}

// Head reports whether key is present.
func (b *S3Backend) Head(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, NewErrorWithCause("S3HeadObject", "failed to probe blob", err)
	}
	return true, nil
}

// Delete removes key; deleting an absent key is not an error.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return NewErrorWithCause("S3DeleteObject", "failed to delete blob", err)
	}
	return nil
}

// Close releases resources held by the backend. The AWS SDK client
// manages its own connection pool and needs no explicit teardown.
func (b *S3Backend) Close() error { return nil }

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
