package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
)

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	MaxRetries      uint64
	MaxBackoff      time.Duration
}

// S3Backend is a Backend implementation over an S3-compatible bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	config S3Config
}

// NewS3Backend constructs an S3Backend from cfg.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, config: cfg}, nil
}

func (b *S3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + name
}

func (b *S3Backend) backoffPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = b.config.MaxBackoff
	return backoff.WithMaxRetries(bo, b.config.MaxRetries)
}

// Put uploads r under name (spec.md §4.2, §6).
func (b *S3Backend) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	telemetry.SetAttributes(ctx, telemetry.StoreType("s3"), telemetry.Bucket(b.bucket), telemetry.Region(b.config.Region))

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("objectstore: read upload body for %s: %w", name, err)
	}

	op := func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(b.key(name)),
			Body:          strings.NewReader(string(data)),
			ContentLength: aws.Int64(size),
		})
		if err != nil && !isRetryableS3Error(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b.backoffPolicy(), ctx)); err != nil {
		return fmt.Errorf("objectstore: put %s: %w", name, err)
	}
	logger.Debug("objectstore: put complete", logger.VolumeName(name), logger.Size(size))
	return nil
}

// Get returns a reader for the named object.
func (b *S3Backend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	telemetry.SetAttributes(ctx, telemetry.StoreType("s3"), telemetry.Bucket(b.bucket), telemetry.Region(b.config.Region))

	var result *s3.GetObjectOutput
	op := func() error {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(name)),
		})
		if err != nil {
			if isNotFoundS3Error(err) {
				return backoff.Permanent(ErrNotFound)
			}
			if !isRetryableS3Error(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b.backoffPolicy(), ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: get %s: %w", name, err)
	}
	return result.Body, nil
}

// Delete removes the named object. Idempotent.
func (b *S3Backend) Delete(ctx context.Context, name string) error {
	telemetry.SetAttributes(ctx, telemetry.StoreType("s3"), telemetry.Bucket(b.bucket), telemetry.Region(b.config.Region))

	op := func() error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(name)),
		})
		if err != nil && !isRetryableS3Error(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b.backoffPolicy(), ctx)); err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", name, err)
	}
	return nil
}

// List returns every object under prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	var continuationToken *string

	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.key(prefix)),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			name := aws.ToString(obj.Key)
			if b.prefix != "" {
				name = strings.TrimPrefix(name, strings.TrimSuffix(b.prefix, "/")+"/")
			}
			entries = append(entries, Entry{
				Name:         name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return entries, nil
}

// Healthcheck verifies the bucket is reachable.
func (b *S3Backend) Healthcheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("objectstore: healthcheck: %w", err)
	}
	return nil
}

func isNotFoundS3Error(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

func isRetryableS3Error(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException",
			"InternalError", "ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout")
}
