package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"audiovault/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	uploadTimeout  = 10 * time.Minute
)

// Client implements Storage on top of an S3-compatible bucket.
type Client struct {
	api       S3API
	presigner Presigner
	bucket    string
	logger    *zap.Logger
}

// sdkPresigner adapts the SDK presign client to the Presigner interface.
type sdkPresigner struct {
	presign *s3.PresignClient
}

func (p *sdkPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// NewClient creates the adapter and verifies bucket access.
func NewClient(conf *Config, logger *zap.Logger) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	if conf.AccessKeyID == "" || conf.SecretAccessKey == "" || conf.Bucket == "" {
		return nil, fmt.Errorf("missing required configuration: accessKeyID, secretAccessKey, and bucket are required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	client := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	})

	c := &Client{
		api:       client,
		presigner: &sdkPresigner{presign: s3.NewPresignClient(client)},
		bucket:    conf.Bucket,
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(conf.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return c, nil
}

// NewClientWithAPI wires an existing S3 API implementation, used by tests.
func NewClientWithAPI(api S3API, presigner Presigner, bucket string, logger *zap.Logger) *Client {
	return &Client{
		api:       api,
		presigner: presigner,
		bucket:    bucket,
		logger:    logger,
	}
}

// Put stores a blob under key. Failures are reported as transient store
// errors so the caller can retry with backoff.
func (c *Client) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if key == "" || data == nil {
		return fmt.Errorf("key and data are required")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrObjectStoreUnavailable, key, err)
	}

	c.logger.Debug("object stored",
		zap.String("key", key),
		zap.String("content_type", contentType),
	)

	return nil
}

// Get opens a blob for reading.
func (c *Client) Get(ctx context.Context, key string) (Object, error) {
	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrObjectStoreUnavailable, key, err)
	}

	obj := &object{ReadCloser: result.Body}
	if result.ContentLength != nil {
		obj.contentLength = *result.ContentLength
	}
	if result.ContentType != nil {
		obj.contentType = *result.ContentType
	}

	return obj, nil
}

// Delete removes a blob. An already-missing object is treated as success so
// compensation and reconciliation passes can repeat safely.
func (c *Client) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if err != nil && (errors.As(err, &nsk) || errors.As(err, &nf)) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: head %s: %v", domain.ErrObjectStoreUnavailable, key, err)
	}

	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrObjectStoreUnavailable, key, err)
	}

	return nil
}

// Sign issues a time-limited GET URL for key. The URL is re-derivable on
// demand; signing never touches the blob itself.
func (c *Client) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		ttl = DefaultSignTTL
	}

	url, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: sign %s: %v", domain.ErrObjectStoreUnavailable, key, err)
	}

	return url, nil
}
