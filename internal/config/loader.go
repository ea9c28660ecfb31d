package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "LEXEXTRACT"

// newViper maps nested keys to LEXEXTRACT_<SECTION>_<FIELD>, e.g.
// backend.base_url to LEXEXTRACT_BACKEND_BASE_URL.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers the keys that should be settable from the
// environment alone. AutomaticEnv only consults keys viper already knows.
func bindEnvKeys(v *viper.Viper) {
	for _, k := range []string{
		"server.host", "server.port", "server.rate_limit",
		"grpc.enabled", "grpc.addr",
		"log.level", "log.format",
		"patterns.dirs", "patterns.watch", "patterns.from_minio",
		"backend.enabled", "backend.base_url", "backend.api_key", "backend.grpc_health_address", "backend.cache",
		"redis.enabled", "redis.addr", "redis.password",
		"kafka.enabled", "kafka.brokers", "kafka.group_id",
		"neo4j.enabled", "neo4j.uri", "neo4j.username", "neo4j.password",
		"opensearch.enabled", "opensearch.addresses", "opensearch.username", "opensearch.password",
		"minio.enabled", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
		"metrics.enabled", "worker.http_addr",
	} {
		_ = v.BindEnv(k)
	}
}

// Load reads the YAML file at configPath, applies LEXEXTRACT_* overrides and
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from LEXEXTRACT_* variables and defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrDefault loads configPath when given, otherwise the environment.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	// Comma separated lists from the environment arrive as one element.
	cfg.Patterns.Dirs = splitList(cfg.Patterns.Dirs)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.OpenSearch.Addresses = splitList(cfg.OpenSearch.Addresses)

	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Watch calls onChange with the re-parsed Config whenever configPath changes.
// Only hot-reloadable settings (log level, rate limits, pattern locations)
// should be applied by callers. Invalid revisions are reported to onError
// and otherwise ignored.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load for main(); it panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

//Personal.AI order the ending
