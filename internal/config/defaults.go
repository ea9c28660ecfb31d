package config

import (
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/orchestrator"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
)

const (
	DefaultHTTPHost        = "0.0.0.0"
	DefaultHTTPPort        = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodySize     = 4 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultPatternsDir = "configs/patterns"

	DefaultRedisAddr  = "localhost:6379"
	DefaultRedisMode  = "standalone"
	DefaultKeyPrefix  = "lexextract:"
	DefaultCacheTTL   = 24 * time.Hour
	DefaultKafkaGroup = "lexextract-workers"
	DefaultNeo4jURI   = "bolt://localhost:7687"
	DefaultMetricsNS  = "lexextract"
	DefaultLockTTL    = 2 * time.Minute
	DefaultGRPCAddr   = "0.0.0.0:9090"
	DefaultWorkerAddr = "0.0.0.0:8081"
)

// ApplyDefaults fills zero-value fields. Explicit values always win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHTTPHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultHTTPPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}

	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = DefaultGRPCAddr
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Patterns / pipeline ───────────────────────────────────────────────────
	if len(cfg.Patterns.Paths()) == 0 && !cfg.Patterns.FromMinIO {
		cfg.Patterns.Dirs = []string{DefaultPatternsDir}
	}
	lim := patterns.DefaultComplexityLimits()
	c := &cfg.Patterns.Complexity
	if c.MaxNestedQuantifiers == 0 {
		c.MaxNestedQuantifiers = lim.MaxNestedQuantifiers
	}
	if c.MaxAlternationDepth == 0 {
		c.MaxAlternationDepth = lim.MaxAlternationDepth
	}
	if c.MaxAlternationBranches == 0 {
		c.MaxAlternationBranches = lim.MaxAlternationBranches
	}
	if c.MaxRepeat == 0 {
		c.MaxRepeat = lim.MaxRepeat
	}

	pd := pipeline.NewConfig()
	if cfg.Pipeline.MaxTextBytes == 0 {
		cfg.Pipeline.MaxTextBytes = pd.MaxTextBytes
	}
	if cfg.Pipeline.MatchingBudget == 0 {
		cfg.Pipeline.MatchingBudget = pd.MatchingBudget
	}
	applyOrchestratorDefaults(&cfg.Pipeline.Orchestrator)

	// ── Backend / mode ────────────────────────────────────────────────────────
	if cfg.Backend.CacheTTL == 0 {
		cfg.Backend.CacheTTL = DefaultCacheTTL
	}
	md := mode.NewConfig()
	if cfg.Mode.ProbeInterval == 0 {
		cfg.Mode.ProbeInterval = md.ProbeInterval
	}
	if cfg.Mode.ProbeTimeout == 0 {
		cfg.Mode.ProbeTimeout = md.ProbeTimeout
	}
	if cfg.Mode.FailureThreshold == 0 {
		cfg.Mode.FailureThreshold = md.FailureThreshold
	}
	if cfg.Mode.Cooldown == 0 {
		cfg.Mode.Cooldown = md.Cooldown
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = DefaultRedisMode
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroup
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = kafka.TopicExtractionRequested
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = kafka.TopicExtractionCompleted
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = kafka.TopicDeadLetter
	}
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}

	// ── Metrics / worker ──────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNS
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = DefaultLockTTL
	}
	if cfg.Worker.HTTPAddr == "" {
		cfg.Worker.HTTPAddr = DefaultWorkerAddr
	}
}

func applyOrchestratorDefaults(o *orchestrator.Config) {
	d := orchestrator.NewConfig()
	if o.DefaultStageTimeout == 0 {
		o.DefaultStageTimeout = d.DefaultStageTimeout
	}
	if o.MaxEntitiesPerRequest == 0 {
		o.MaxEntitiesPerRequest = d.MaxEntitiesPerRequest
	}
	if o.ConfidenceFloor == 0 {
		o.ConfidenceFloor = d.ConfidenceFloor
	}
	if o.MaxValidationAdjustment == 0 {
		o.MaxValidationAdjustment = d.MaxValidationAdjustment
	}
	if o.StageTimeouts == nil {
		o.StageTimeouts = map[common.Stage]time.Duration{}
	}
	for s, t := range d.StageTimeouts {
		if _, ok := o.StageTimeouts[s]; !ok {
			o.StageTimeouts[s] = t
		}
	}
}

//Personal.AI order the ending
