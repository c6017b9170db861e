// Package config loads and validates scrapekit configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Static    StaticConfig    `mapstructure:"static"`
	Rendered  RenderedConfig  `mapstructure:"rendered"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Targets   []TargetConfig  `mapstructure:"targets"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EngineConfig governs worker pool and queue behavior.
type EngineConfig struct {
	Workers             int    `mapstructure:"workers"`
	QueueDepth          int    `mapstructure:"queue_depth"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
}

// RateLimitConfig sets the default per-host politeness limits.
type RateLimitConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	MinIntervalMs int `mapstructure:"min_interval_ms"`
}

// RetryConfig configures backoff behavior for transient failures.
type RetryConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"`
	BaseDelayMs     int `mapstructure:"base_delay_ms"`
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
}

// StaticConfig configures the plain HTTP fetch backend.
type StaticConfig struct {
	RespectRobots bool `mapstructure:"respect_robots"`
}

// RenderedConfig configures the headless browser backend.
type RenderedConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	PoolSize          int    `mapstructure:"pool_size"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector      string `mapstructure:"wait_selector"`
	SettleDelayMs     int    `mapstructure:"settle_delay_ms"`
}

// ArchiveConfig selects where raw page bodies are persisted.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
}

// SinkConfig selects where extracted records go.
type SinkConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// PostgresConfig controls the result table connection.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig names the result topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TargetConfig describes one URL to scrape, with named CSS selectors.
type TargetConfig struct {
	URL       string            `mapstructure:"url"`
	Backend   string            `mapstructure:"backend"`
	Priority  int               `mapstructure:"priority"`
	Selectors map[string]string `mapstructure:"selectors"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_depth", 64)
	v.SetDefault("engine.fetch_timeout_seconds", 15)
	v.SetDefault("engine.user_agent", "scrapekit/0.1")
	v.SetDefault("ratelimit.max_concurrent", 2)
	v.SetDefault("ratelimit.min_interval_ms", 1000)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_seconds", 30)
	v.SetDefault("static.respect_robots", true)
	v.SetDefault("rendered.enabled", false)
	v.SetDefault("rendered.pool_size", 1)
	v.SetDefault("rendered.nav_timeout_seconds", 45)
	v.SetDefault("rendered.wait_selector", "body")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("sink.provider", "log")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Engine.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.fetch_timeout_seconds must be > 0")
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		return fmt.Errorf("ratelimit.max_concurrent must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Rendered.Enabled && c.Rendered.PoolSize <= 0 {
		return fmt.Errorf("rendered.pool_size must be > 0 when rendered is enabled")
	}
	switch c.Sink.Provider {
	case "log", "memory":
	case "postgres":
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn must be set when sink.provider is postgres")
		}
	case "pubsub":
		if c.Sink.PubSub.ProjectID == "" || c.Sink.PubSub.TopicID == "" {
			return fmt.Errorf("sink.pubsub.project_id and topic_id must be set when sink.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown sink.provider %q", c.Sink.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	for i, target := range c.Targets {
		if target.URL == "" {
			return fmt.Errorf("targets[%d].url is required", i)
		}
		if len(target.Selectors) == 0 {
			return fmt.Errorf("targets[%d].selectors must not be empty", i)
		}
	}
	return nil
}

// FetchTimeout converts the configured seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Engine.FetchTimeoutSeconds) * time.Second
}
