// Package config defines the configuration of the LexExtract services. Each
// component section reuses the component's own config type so a field is
// declared once.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/backend"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	grpcserver "github.com/turtacn/LexExtract-Intelligence/internal/interfaces/grpc"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is the sustained request rate per client IP. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// PatternsConfig says where catalogs come from.
type PatternsConfig struct {
	Dirs   []string `mapstructure:"dirs"`
	Files  []string `mapstructure:"files"`
	Watch  bool     `mapstructure:"watch"`
	// FromMinIO adds the catalogs under minio.pattern_prefix.
	FromMinIO  bool                      `mapstructure:"from_minio"`
	Complexity patterns.ComplexityLimits `mapstructure:"complexity"`
}

// Paths returns every configured directory and file.
func (p PatternsConfig) Paths() []string {
	return append(append([]string(nil), p.Dirs...), p.Files...)
}

// BackendConfig configures the inference backend.
type BackendConfig struct {
	Enabled bool `mapstructure:"enabled"`
	backend.HTTPConfig `mapstructure:",squash"`
	// GRPCHealthAddress switches probing to the gRPC health protocol.
	GRPCHealthAddress string `mapstructure:"grpc_health_address"`
	// Cache memoises stage responses in Redis.
	Cache    bool          `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds producer and consumer settings.
type KafkaConfig struct {
	Enabled           bool                 `mapstructure:"enabled"`
	Brokers           []string             `mapstructure:"brokers"`
	GroupID           string               `mapstructure:"group_id"`
	AutoOffsetReset   string               `mapstructure:"auto_offset_reset"`
	RequestTopic      string               `mapstructure:"request_topic"`
	ResultTopic       string               `mapstructure:"result_topic"`
	DeadLetterTopic   string               `mapstructure:"dead_letter_topic"`
	AutoCreateTopics  bool                 `mapstructure:"auto_create_topics"`
	ReplicationFactor int                  `mapstructure:"replication_factor"`
	Security          kafka.SecurityConfig `mapstructure:"security"`
	Retry             kafka.RetryConfig    `mapstructure:"retry"`
}

// ProducerConfig derives the producer settings.
func (k KafkaConfig) ProducerConfig() kafka.ProducerConfig {
	return kafka.ProducerConfig{Brokers: k.Brokers, Acks: "all", Security: k.Security}
}

// ConsumerConfig derives the consumer settings.
func (k KafkaConfig) ConsumerConfig() kafka.ConsumerConfig {
	retry := k.Retry
	if retry.DeadLetterTopic == "" {
		retry.DeadLetterTopic = k.DeadLetterTopic
	}
	return kafka.ConsumerConfig{
		Brokers:         k.Brokers,
		GroupID:         k.GroupID,
		Topics:          []string{k.RequestTopic},
		AutoOffsetReset: k.AutoOffsetReset,
		Security:        k.Security,
		Retry:           retry,
	}
}

type RedisConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	redis.RedisConfig `mapstructure:",squash"`
	KeyPrefix         string `mapstructure:"key_prefix"`
}

type Neo4jConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	neo4j.Neo4jConfig `mapstructure:",squash"`
}

type OpenSearchConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	opensearch.ClientConfig `mapstructure:",squash"`
	Indexer                 opensearch.IndexerConfig `mapstructure:"indexer"`
}

type MinIOConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	minio.MinIOConfig `mapstructure:",squash"`
	// ArchiveResults stores every result JSON in the results bucket.
	ArchiveResults bool `mapstructure:"archive_results"`
}

// GRPCConfig exposes the grpc.health.v1 endpoint.
type GRPCConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	grpcserver.Config `mapstructure:",squash"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// WorkerConfig tunes the Kafka worker.
type WorkerConfig struct {
	// LockTTL bounds how long one document may be held by a worker.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// HTTPAddr serves health probes and metrics for the worker.
	HTTPAddr string `mapstructure:"http_addr"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	GRPC       GRPCConfig        `mapstructure:"grpc"`
	Log        logging.LogConfig `mapstructure:"log"`
	Patterns   PatternsConfig    `mapstructure:"patterns"`
	Pipeline   pipeline.Config   `mapstructure:"pipeline"`
	Backend    BackendConfig     `mapstructure:"backend"`
	Mode       mode.Config       `mapstructure:"mode"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Neo4j      Neo4jConfig       `mapstructure:"neo4j"`
	OpenSearch OpenSearchConfig  `mapstructure:"opensearch"`
	MinIO      MinIOConfig       `mapstructure:"minio"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Worker     WorkerConfig      `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks cross-field constraints. It expects ApplyDefaults to have
// run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Patterns.Paths()) == 0 && !c.Patterns.FromMinIO {
		return fmt.Errorf("patterns: at least one of dirs, files or from_minio is required")
	}
	if c.Patterns.FromMinIO && !c.MinIO.Enabled {
		return fmt.Errorf("patterns.from_minio requires minio.enabled")
	}
	if c.Pipeline.MaxTextBytes <= 0 {
		return fmt.Errorf("pipeline.max_text_bytes must be positive")
	}
	if err := c.Pipeline.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("pipeline.orchestrator: %w", err)
	}
	if c.Backend.Enabled && c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required when backend.enabled is true")
	}
	if c.Backend.Cache && !c.Redis.Enabled {
		return fmt.Errorf("backend.cache requires redis.enabled")
	}
	if c.Mode.FailureThreshold < 1 {
		return fmt.Errorf("mode.failure_threshold must be at least 1")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka.enabled is true")
		}
		if c.Kafka.RequestTopic == "" || c.Kafka.ResultTopic == "" {
			return fmt.Errorf("kafka.request_topic and kafka.result_topic are required")
		}
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc.enabled is true")
	}
	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri is required when neo4j.enabled is true")
	}
	if c.OpenSearch.Enabled {
		if err := opensearch.ValidateConfig(c.OpenSearch.ClientConfig); err != nil {
			return fmt.Errorf("opensearch: %w", err)
		}
	}
	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required when minio.enabled is true")
	}
	return nil
}

//Personal.AI order the ending
