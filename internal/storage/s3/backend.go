package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/galerly/transform/pkg/errors"
)

// Backend implements types.ObjectStore over a single S3 bucket. The
// originals and renditions namespaces are two Backend instances pointed at
// different buckets.
type Backend struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	metrics BackendMetrics
}

// Config represents S3 backend configuration
type Config struct {
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	ForcePathStyle bool          `yaml:"force_path_style"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NewDefaultConfig returns the default S3 backend configuration
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

// BackendMetrics tracks S3 backend performance counters
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// NewBackend creates a new S3 backend for the given bucket
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	logger := slog.Default().With("component", "s3-backend", "bucket", bucket)

	return &Backend{
		client:  client,
		bucket:  bucket,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

// Get retrieves the full object bytes from S3
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		b.recordError(err)
		return nil, b.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		b.recordError(err)
		return nil, errors.Wrap(errors.ErrCodeStorageRead,
			fmt.Sprintf("failed to read object body for %s", key), err).
			WithComponent("s3-backend").WithOperation("GetObject")
	}

	b.mu.Lock()
	b.metrics.BytesDownloaded += int64(len(data))
	b.mu.Unlock()
	b.recordMetrics(time.Since(start), false)

	return data, nil
}

// Put stores an object in S3. Duplicate writes for the same key are
// harmless; rendition content is a deterministic function of the key.
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		b.recordError(err)
		return b.translateError(err, "PutObject", key)
	}

	b.mu.Lock()
	b.metrics.BytesUploaded += int64(len(data))
	b.mu.Unlock()
	b.recordMetrics(time.Since(start), false)

	b.logger.Debug("object stored", "key", key, "size", len(data), "content_type", contentType)
	return nil
}

// Exists reports whether the object is present via a HEAD request
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	input := &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}

	if _, err := b.client.HeadObject(ctx, input); err != nil {
		if isNotFound(err) {
			b.recordMetrics(time.Since(start), false)
			return false, nil
		}
		b.recordError(err)
		return false, b.translateError(err, "HeadObject", key)
	}

	b.recordMetrics(time.Since(start), false)
	return true, nil
}

// HealthCheck verifies the bucket is reachable
func (b *Backend) HealthCheck(ctx context.Context) error {
	input := &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	}

	if _, err := b.client.HeadBucket(ctx, input); err != nil {
		return fmt.Errorf("S3 health check failed for bucket %s: %w", b.bucket, err)
	}

	return nil
}

// GetMetrics returns a snapshot of the backend counters
func (b *Backend) GetMetrics() BackendMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Backend) recordMetrics(duration time.Duration, isError bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	if isError {
		b.metrics.Errors++
	}

	// Rolling average latency
	if b.metrics.Requests == 1 {
		b.metrics.AverageLatency = duration
	} else {
		b.metrics.AverageLatency = time.Duration(
			(int64(b.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (b *Backend) recordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Errors++
	b.metrics.LastError = err.Error()
	b.metrics.LastErrorTime = time.Now()
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isNotFound(err):
		return errors.Wrap(errors.ErrCodeObjectNotFound,
			fmt.Sprintf("object not found: %s", key), err).
			WithComponent("s3-backend").WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.ErrCodeBucketNotFound,
			fmt.Sprintf("bucket not found: %s", b.bucket), err).
			WithComponent("s3-backend").WithOperation(operation)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeOperationTimeout,
			fmt.Sprintf("%s timed out for %s", operation, key), err).
			WithComponent("s3-backend").WithOperation(operation)
	case operation == "PutObject":
		return errors.Wrap(errors.ErrCodeStorageWrite,
			fmt.Sprintf("%s failed for %s", operation, key), err).
			WithComponent("s3-backend").WithOperation(operation)
	default:
		return errors.Wrap(errors.ErrCodeStorageRead,
			fmt.Sprintf("%s failed for %s", operation, key), err).
			WithComponent("s3-backend").WithOperation(operation)
	}
}

// isNotFound covers both GetObject's NoSuchKey and HeadObject's NotFound,
// plus generic API error codes from non-AWS S3 implementations.
func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
