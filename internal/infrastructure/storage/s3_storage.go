// Package storage archives cash event receipts in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker"
	appfinance "github.com/tradeledger/backend/internal/application/finance"
	infraconfig "github.com/tradeledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrStorageUnavailable is returned while the upload circuit breaker is open
var ErrStorageUnavailable = errors.New("receipt storage is unavailable")

const receiptContentType = "application/json"

// S3API is the subset of the S3 client used by S3ReceiptStore
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3ReceiptStore implements appfinance.ReceiptStore on any S3-compatible
// store (AWS S3, MinIO, RustFS). Uploads run behind a circuit breaker so an
// unreachable store fails fast instead of stalling the event bus workers.
type S3ReceiptStore struct {
	client  S3API
	bucket  string
	region  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// BreakerSettings tunes the upload circuit breaker
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerSettings opens after 5 consecutive failures and probes again after 30s
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

type storeOptions struct {
	client  S3API
	breaker BreakerSettings
	logger  *zap.Logger
}

// S3ReceiptStoreOption is a functional option for configuring S3ReceiptStore
type S3ReceiptStoreOption func(*storeOptions)

// WithLogger sets a custom logger for S3ReceiptStore
func WithLogger(logger *zap.Logger) S3ReceiptStoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithClient replaces the SDK client, mainly for tests
func WithClient(client S3API) S3ReceiptStoreOption {
	return func(o *storeOptions) {
		o.client = client
	}
}

// WithBreakerSettings replaces the default circuit breaker settings
func WithBreakerSettings(settings BreakerSettings) S3ReceiptStoreOption {
	return func(o *storeOptions) {
		o.breaker = settings
	}
}

// NewS3ReceiptStore creates a receipt store from configuration.
// Static credentials are used when both keys are set; otherwise the default AWS credential chain applies.
func NewS3ReceiptStore(cfg *infraconfig.StorageConfig, opts ...S3ReceiptStoreOption) (*S3ReceiptStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("storage access key and secret key must be set together")
	}

	o := storeOptions{
		breaker: DefaultBreakerSettings(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client := o.client
	if client == nil {
		var err error
		client, err = newS3Client(cfg, region)
		if err != nil {
			return nil, err
		}
	}

	store := &S3ReceiptStore{
		client:  client,
		bucket:  cfg.Bucket,
		region:  region,
		timeout: cfg.Timeout,
		logger:  o.logger,
	}
	store.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "receipt-store-" + cfg.Bucket,
		MaxRequests: o.breaker.HalfOpenRequests,
		Timeout:     o.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			store.logger.Warn("Receipt store circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return store, nil
}

func newS3Client(cfg *infraconfig.StorageConfig, region string) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup to ensure the bucket is ready.
func (s *S3ReceiptStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating receipt bucket", zap.String("bucket", s.bucket))
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// PutReceipt uploads a receipt body under key, replacing any previous object
func (s *S3ReceiptStore) PutReceipt(ctx context.Context, key string, body []byte) error {
	if key == "" {
		return errors.New("receipt key is required")
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		putCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			putCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.client.PutObject(putCtx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(receiptContentType),
		})
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	case err != nil:
		return fmt.Errorf("failed to upload receipt: %w", err)
	}
	return nil
}

// Bucket returns the bucket name
func (s *S3ReceiptStore) Bucket() string {
	return s.bucket
}

// BreakerState reports the upload circuit breaker state
func (s *S3ReceiptStore) BreakerState() gobreaker.State {
	return s.breaker.State()
}

var _ appfinance.ReceiptStore = (*S3ReceiptStore)(nil)
