package opensearch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

var (
	ErrInvalidConfig    = errors.New(errors.ErrCodeValidation, "invalid opensearch configuration")
	ErrConnectionFailed = errors.New(errors.ErrCodeExternalService, "opensearch connection failed")
)

// ClientConfig holds the configuration for the OpenSearch client.
type ClientConfig struct {
	Addresses           []string      `mapstructure:"addresses"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	TLSEnabled          bool          `mapstructure:"tls_enabled"`
	TLSCertPath         string        `mapstructure:"tls_cert_path"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

func (c *ClientConfig) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

// Client manages the OpenSearch connection and tracks cluster health.
type Client struct {
	client  *opensearch.Client
	config  ClientConfig
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
}

// NewClient creates a client, pings the cluster and starts the background
// health check.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	transport := &http.Transport{MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost}
	if cfg.TLSEnabled {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read opensearch CA certificate")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrInvalidConfig.WithDetail("no certificates in " + cfg.TLSCertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  func(int) time.Duration { return cfg.RetryBackoff },
		Transport:     transport,
		RetryOnStatus: []int{502, 503, 504, 429},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create opensearch client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		client: client,
		config: cfg,
		logger: logging.OrNop(logger).Named("opensearch"),
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer pingCancel()
	if err := c.Ping(pingCtx); err != nil {
		cancel()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	go c.startHealthCheck(ctx)
	return c, nil
}

// Ping checks the connection to OpenSearch.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("opensearch ping failed", logging.Err(err))
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		c.logger.Warn("opensearch ping returned error status", logging.Int("status", resp.StatusCode))
		return errors.New(errors.ErrCodeExternalService, "ping returned error status")
	}
	c.healthy.Store(true)
	return nil
}

func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// GetClient returns the underlying OpenSearch client.
func (c *Client) GetClient() *opensearch.Client { return c.client }

// Close stops the health check.
func (c *Client) Close() error {
	c.cancel()
	c.logger.Info("opensearch client closed")
	return nil
}

func (c *Client) startHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			curr := c.healthy.Load()

			if prev && !curr {
				c.logger.Error("opensearch cluster became unhealthy", logging.Err(err))
			} else if !prev && curr {
				c.logger.Info("opensearch cluster recovered")
			}
		}
	}
}

// ValidateConfig validates the client configuration.
func ValidateConfig(cfg ClientConfig) error {
	if len(cfg.Addresses) == 0 {
		return ErrInvalidConfig.WithDetail("at least one address is required")
	}
	if cfg.MaxRetries < 0 {
		return ErrInvalidConfig.WithDetail("max_retries must be >= 0")
	}
	if cfg.RequestTimeout < 0 {
		return ErrInvalidConfig.WithDetail("request_timeout must be >= 0")
	}
	if cfg.TLSEnabled && cfg.TLSCertPath == "" {
		return ErrInvalidConfig.WithDetail("tls_cert_path is required when tls_enabled is true")
	}
	return nil
}

//Personal.AI order the ending
