package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

const validConfigYAML = `
server:
  port: 9090
log:
  level: debug
patterns:
  dirs: ["configs/patterns"]
pipeline:
  max_text_bytes: 2048
  orchestrator:
    stage_timeouts:
      validation: 500ms
backend:
  enabled: true
  base_url: "http://inference:8000"
  api_key: "secret"
  requests_per_second: 5
  grpc_health_address: "inference:9000"
mode:
  failure_threshold: 5
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
neo4j:
  enabled: true
  uri: "bolt://graph:7687"
  username: "neo4j"
opensearch:
  enabled: true
  addresses: ["http://search:9200"]
  indexer:
    index: "entities"
minio:
  enabled: true
  endpoint: "minio:9000"
  buckets:
    patterns: "catalogs"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DefaultHTTPHost, cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2048, cfg.Pipeline.MaxTextBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.Orchestrator.StageTimeouts[common.StageValidation])
	assert.Equal(t, 3*time.Second, cfg.Pipeline.Orchestrator.StageTimeouts[common.StageEnhancement], "unset stages keep defaults")

	assert.Equal(t, "http://inference:8000", cfg.Backend.BaseURL)
	assert.Equal(t, "secret", cfg.Backend.APIKey)
	assert.Equal(t, 5.0, cfg.Backend.RequestsPerSecond)
	assert.Equal(t, "inference:9000", cfg.Backend.GRPCHealthAddress)
	assert.Equal(t, 5, cfg.Mode.FailureThreshold)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "lexextract.extraction.requested", cfg.Kafka.RequestTopic)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "entities", cfg.OpenSearch.Indexer.Index)
	assert.Equal(t, "catalogs", cfg.MinIO.Buckets.Patterns)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEXEXTRACT_SERVER_PORT", "7070")
	t.Setenv("LEXEXTRACT_BACKEND_BASE_URL", "http://override:8000")
	t.Setenv("LEXEXTRACT_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "http://override:8000", cfg.Backend.BaseURL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPPort, cfg.Server.Port)
	assert.Equal(t, []string{DefaultPatternsDir}, cfg.Patterns.Paths())
	assert.Equal(t, 4, cfg.Patterns.Complexity.MaxAlternationDepth)
	assert.False(t, cfg.Backend.Enabled)
	assert.Equal(t, DefaultGRPCAddr, cfg.GRPC.Addr)
	assert.Equal(t, DefaultWorkerAddr, cfg.Worker.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"backend url", func(c *Config) { c.Backend.Enabled = true }, "backend.base_url"},
		{"cache without redis", func(c *Config) { c.Backend.Cache = true }, "redis.enabled"},
		{"kafka brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"minio patterns", func(c *Config) { c.Patterns.FromMinIO = true }, "minio.enabled"},
		{"floor", func(c *Config) { c.Pipeline.Orchestrator.ConfidenceFloor = 2 }, "confidence_floor"},
		{"stage", func(c *Config) {
			c.Pipeline.Orchestrator.EnabledStages = []common.Stage{"summarise"}
		}, "enabled_stages"},
		{"opensearch", func(c *Config) { c.OpenSearch.Enabled = true }, "opensearch"},
		{"grpc addr", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Addr = "" }, "grpc.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Mode.Cooldown = time.Minute
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Mode.Cooldown)
	assert.Equal(t, 3, cfg.Mode.FailureThreshold)
	assert.Equal(t, DefaultLockTTL, cfg.Worker.LockTTL)
	require.NoError(t, cfg.Validate())
}

func TestKafkaConfig_Derived(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Kafka.Brokers = []string{"k:9092"}

	cc := cfg.Kafka.ConsumerConfig()
	assert.Equal(t, []string{"lexextract.extraction.requested"}, cc.Topics)
	assert.Equal(t, "lexextract.dead_letter", cc.Retry.DeadLetterTopic)
	assert.Equal(t, "all", cfg.Kafka.ProducerConfig().Acks)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load("../../configs/lexextract.yaml")
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "lexextract-entities", cfg.OpenSearch.Indexer.Index)
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, validConfigYAML)
	changed := make(chan *Config, 1)
	require.NoError(t, Watch(path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil))

	time.Sleep(50 * time.Millisecond)
	updated := validConfigYAML + "\nworker:\n  lock_ttl: 5m\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, 5*time.Minute, c.Worker.LockTTL)
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}

//Personal.AI order the ending
