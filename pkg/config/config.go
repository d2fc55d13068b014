// Package config loads and validates the gateway configuration.
//
// Configuration is a single YAML file. Secrets (provider API keys, the Redis
// password) support ${ENV_VAR} expansion so they can stay out of the file.
// The pacer section can be hot-reloaded at runtime via Watcher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/ganymede/pkg/assembler"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/telemetry/logging"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/thread"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   metrics.Config  `yaml:"metrics"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Storage   StorageConfig   `yaml:"storage"`
	Pacer     PacerConfig     `yaml:"pacer"`
	Providers []ProviderEntry `yaml:"providers"`
	Routing   RoutingConfig   `yaml:"routing"`
	Tokens    TokensConfig    `yaml:"tokens"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig configures request orchestration.
type GatewayConfig struct {
	// SystemPrompt is prepended to every assembled context.
	SystemPrompt string `yaml:"system_prompt"`

	// SubscriberBuffer is the per-subscriber event channel headroom.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// UpstreamTimeout bounds one upstream call end to end.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// PersistTimeout bounds the post-completion turn write.
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// AssemblerConfig configures context assembly and its history cache.
type AssemblerConfig struct {
	assembler.Config `yaml:",inline"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig selects the history cache backend.
type CacheConfig struct {
	// Type is "redis", "memory", or "none".
	Type string `yaml:"type"`

	// Redis configures the Redis cache when Type is "redis".
	Redis assembler.RedisCacheConfig `yaml:"redis"`

	// MaxTurns and TTL configure the memory cache when Type is "memory".
	MaxTurns int           `yaml:"max_turns"`
	TTL      time.Duration `yaml:"ttl"`
}

// StorageConfig selects the turn store backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention configures idle thread pruning.
	Retention thread.RetentionConfig `yaml:"retention"`
}

// SQLiteConfig mirrors thread.SQLiteConfig in YAML form.
type SQLiteConfig struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	WALMode      *bool         `yaml:"wal_mode"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// PacerConfig configures upstream admission limits.
type PacerConfig struct {
	Defaults  pacer.Limits            `yaml:"defaults"`
	Providers map[string]pacer.Limits `yaml:"providers"`
}

// ProviderEntry configures one upstream provider.
type ProviderEntry struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RoutingConfig configures model-to-provider resolution.
type RoutingConfig struct {
	Rules           []routing.Rule `yaml:"rules"`
	DefaultProvider string         `yaml:"default_provider"`
}

// TokensConfig configures token estimation.
type TokensConfig struct {
	// CharsPerToken maps model name prefixes to characters-per-token ratios.
	CharsPerToken map[string]float64 `yaml:"chars_per_token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Metrics: metrics.Config{
			Enabled:   true,
			Namespace: "ganymede",
		},
		Gateway: GatewayConfig{
			SubscriberBuffer: 64,
			UpstreamTimeout:  5 * time.Minute,
			PersistTimeout:   10 * time.Second,
		},
		Assembler: AssemblerConfig{
			Config: assembler.Config{
				MaxHistoryTurns:  50,
				MaxContextTokens: 8192,
			},
			Cache: CacheConfig{
				Type:     "memory",
				MaxTurns: 50,
				TTL:      30 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			SQLite: SQLiteConfig{
				Path: "data/threads.db",
			},
			Retention: thread.RetentionConfig{
				RetentionDays: 0,
			},
		},
		Pacer: PacerConfig{
			Defaults: pacer.Limits{
				MaxConcurrent: 4,
				MaxQueueDepth: 32,
				MaxWait:       10 * time.Second,
			},
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.expandSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets applies ${ENV_VAR} expansion to secret-bearing fields.
func (c *Config) expandSecrets() {
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
	c.Assembler.Cache.Redis.Password = os.ExpandEnv(c.Assembler.Cache.Redis.Password)
}

// Validate checks the configuration for contradictions before startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name must not be empty")
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url must not be empty", p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
	}

	for _, rule := range c.Routing.Rules {
		if rule.ModelPrefix == "" {
			return fmt.Errorf("routing rule with empty model_prefix")
		}
		if !names[rule.Provider] {
			return fmt.Errorf("routing rule for prefix %q names unknown provider %q",
				rule.ModelPrefix, rule.Provider)
		}
	}
	if c.Routing.DefaultProvider != "" && !names[c.Routing.DefaultProvider] {
		return fmt.Errorf("routing.default_provider %q is not a configured provider",
			c.Routing.DefaultProvider)
	}

	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.backend %q must be sqlite or memory", c.Storage.Backend)
	}

	switch c.Assembler.Cache.Type {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("assembler.cache.type %q must be redis, memory, or none",
			c.Assembler.Cache.Type)
	}
	if c.Assembler.Cache.Type == "redis" && c.Assembler.Cache.Redis.Addr == "" {
		return fmt.Errorf("assembler.cache.redis.addr required for redis cache")
	}

	for name, limits := range c.Pacer.Providers {
		if !names[name] {
			return fmt.Errorf("pacer limits for unknown provider %q", name)
		}
		if limits.MaxConcurrent < 0 || limits.MaxQueueDepth < 0 {
			return fmt.Errorf("pacer limits for %q must not be negative", name)
		}
	}

	return nil
}

// ThreadSQLiteConfig converts the YAML form to the thread package's config.
func (c *Config) ThreadSQLiteConfig() *thread.SQLiteConfig {
	out := thread.DefaultSQLiteConfig()
	if c.Storage.SQLite.Path != "" {
		out.Path = c.Storage.SQLite.Path
	}
	if c.Storage.SQLite.MaxOpenConns > 0 {
		out.MaxOpenConns = c.Storage.SQLite.MaxOpenConns
	}
	if c.Storage.SQLite.MaxIdleConns > 0 {
		out.MaxIdleConns = c.Storage.SQLite.MaxIdleConns
	}
	if c.Storage.SQLite.WALMode != nil {
		out.WALMode = *c.Storage.SQLite.WALMode
	}
	if c.Storage.SQLite.BusyTimeout > 0 {
		out.BusyTimeout = c.Storage.SQLite.BusyTimeout
	}
	return out
}
