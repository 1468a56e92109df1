// Package s3 implements ObjectStorage on Amazon S3 and S3-compatible
// services (MinIO, LocalStack) through aws-sdk-go-v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
	storagetypes "github.com/beladevo/libreoffice-docx-to-pdf/storage/types"
)

// API is the subset of *s3.Client used by Client.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client implements ObjectStorage for one bucket. Keys are placed below
// the configured prefix.
type Client struct {
	api     API
	bucket  string
	prefix  string
	logger  types.Logger
	metrics types.Metrics
}

// NewClient builds an S3 client from the archive configuration. No request
// is sent until the first Put or Exists.
func NewClient(cfg *config.ArchiveConfig, logger types.Logger, metrics types.Metrics) (*Client, error) {
	if cfg.S3.Bucket == "" {
		return nil, errors.New("invalid S3 configuration: bucket is required")
	}

	awsCfg, err := buildAWSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithAPI(api, cfg.S3.Bucket, cfg.S3.Prefix, logger, metrics), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api API, bucket, prefix string, logger types.Logger, metrics types.Metrics) *Client {
	return &Client{
		api:     api,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger,
		metrics: metrics,
	}
}

// Put uploads body under prefix/key. body should be an io.ReadSeeker
// (an *os.File in practice) so the SDK can sign the payload.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, metadata storagetypes.ObjectMetadata) error {
	objectKey, err := c.objectKey(key)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("s3_put", time.Since(start).Seconds())
	}()

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
		Body:   body,
	}
	if metadata.ContentType != "" {
		input.ContentType = aws.String(metadata.ContentType)
	}
	if metadata.ContentLength > 0 {
		input.ContentLength = aws.Int64(metadata.ContentLength)
	}
	if len(metadata.UserMetadata) > 0 {
		input.Metadata = metadata.UserMetadata
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		c.metrics.RecordError("s3_put", "s3_error")
		c.logger.Error(ctx, "Failed to put object", err, types.Fields{
			"bucket": c.bucket,
			"key":    objectKey,
		})
		return fmt.Errorf("failed to put object: %w", err)
	}

	c.metrics.RecordSuccess("s3_put")
	c.logger.Debug(ctx, "Object stored", types.Fields{
		"bucket": c.bucket,
		"key":    objectKey,
	})
	return nil
}

// Exists issues a HeadObject for prefix/key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	objectKey, err := c.objectKey(key)
	if err != nil {
		return false, err
	}

	_, err = c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}

func (c *Client) objectKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", storagetypes.ErrInvalidKey
	}
	if c.prefix == "" {
		return key, nil
	}
	return path.Join(c.prefix, key), nil
}

func buildAWSConfig(cfg *config.ArchiveConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.S3.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3.Region))
	}

	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3.AccessKeyID,
				cfg.S3.SecretAccessKey,
				"",
			),
		))
	}

	// A buildable client keeps AWS_CA_BUNDLE working: the SDK can only add
	// root CAs to clients that accept transport options.
	if cfg.Timeout > 0 {
		optFns = append(optFns, awsconfig.WithHTTPClient(
			awshttp.NewBuildableClient().WithTimeout(cfg.Timeout),
		))
	}

	return awsconfig.LoadDefaultConfig(context.Background(), optFns...)
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
