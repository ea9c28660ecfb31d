/*
 * client.go MinIO 对象存储客户端：模式目录（patterns 桶）的远程加载与抽取结果归档（results 桶）。
 */

package minio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// MinIOAPI is the part of *minio.Client this package uses. GetObject
// returns a ReadCloser so tests can fake it.
type MinIOAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type sdkClient struct{ *minio.Client }

func (c sdkClient) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucket, object, opts)
}

type BucketConfig struct {
	Patterns string `mapstructure:"patterns"`
	Results  string `mapstructure:"results"`
}

type MinIOConfig struct {
	Endpoint          string       `mapstructure:"endpoint"`
	AccessKeyID       string       `mapstructure:"access_key_id"`
	SecretAccessKey   string       `mapstructure:"secret_access_key"`
	UseSSL            bool         `mapstructure:"use_ssl"`
	Region            string       `mapstructure:"region"`
	Buckets           BucketConfig `mapstructure:"buckets"`
	PatternPrefix     string       `mapstructure:"pattern_prefix"`
	ResultsExpiryDays int          `mapstructure:"results_expiry_days"`
}

func applyDefaults(cfg *MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Buckets.Patterns == "" {
		cfg.Buckets.Patterns = "lexextract-patterns"
	}
	if cfg.Buckets.Results == "" {
		cfg.Buckets.Results = "lexextract-results"
	}
	if cfg.PatternPrefix == "" {
		cfg.PatternPrefix = "patterns/"
	}
	if cfg.ResultsExpiryDays == 0 {
		cfg.ResultsExpiryDays = 30
	}
}

var (
	ErrMinIOClientClosed = errors.New(errors.ErrCodeInternal, "minio client is closed")
	ErrObjectNotFound    = errors.New(errors.ErrCodeNotFound, "object not found")
)

type MinIOClient struct {
	client MinIOAPI
	config *MinIOConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewMinIOClient connects, creates missing buckets and installs the results
// expiry rule.
func NewMinIOClient(cfg *MinIOConfig, log logging.Logger) (*MinIOClient, error) {
	applyDefaults(cfg)
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}

	c := NewMinIOClientWithAPI(sdkClient{client}, cfg, log)
	if err := c.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	c.SetupLifecycleRules(ctx)
	c.logger.Info("minio client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewMinIOClientWithAPI wraps an existing API implementation without any
// network round trip.
func NewMinIOClientWithAPI(api MinIOAPI, cfg *MinIOConfig, log logging.Logger) *MinIOClient {
	applyDefaults(cfg)
	return &MinIOClient{client: api, config: cfg, logger: logging.OrNop(log).Named("minio")}
}

func (c *MinIOClient) buckets() []string {
	return []string{c.config.Buckets.Patterns, c.config.Buckets.Results}
}

func (c *MinIOClient) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range c.buckets() {
		exists, err := c.client.BucketExists(ctx, bucket)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to check bucket existence")
		}
		if exists {
			continue
		}
		if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, fmt.Sprintf("failed to create bucket %s", bucket))
		}
		c.logger.Info("created bucket", logging.String("bucket", bucket))
	}
	return nil
}

// SetupLifecycleRules expires archived results. Failure is logged only.
func (c *MinIOClient) SetupLifecycleRules(ctx context.Context) {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "results-expiry",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(c.config.ResultsExpiryDays)},
	}}
	if err := c.client.SetBucketLifecycle(ctx, c.config.Buckets.Results, cfg); err != nil {
		c.logger.Warn("failed to set lifecycle for results bucket", logging.Err(err))
	}
}

func (c *MinIOClient) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrMinIOClientClosed
	}
	return nil
}

func (c *MinIOClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type HealthStatus struct {
	Healthy        bool
	Latency        time.Duration
	BucketStatuses map[string]bool
	Error          string
}

func (c *MinIOClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	_, err := c.client.ListBuckets(ctx)
	status := &HealthStatus{
		Healthy:        err == nil,
		Latency:        time.Since(start),
		BucketStatuses: make(map[string]bool),
	}
	if err != nil {
		status.Error = err.Error()
		return status, err
	}
	for _, b := range c.buckets() {
		exists, _ := c.client.BucketExists(ctx, b)
		status.BucketStatuses[b] = exists
		if !exists {
			status.Healthy = false
			status.Error = fmt.Sprintf("bucket %s missing", b)
		}
	}
	return status, nil
}

//Personal.AI order the ending
