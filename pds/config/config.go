package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/public-discourse-sandbox/pds"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	PDS       PDSConfig       `mapstructure:"pds"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Activity  ActivityConfig  `mapstructure:"activity"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	Type      string `mapstructure:"type"`
	AuthToken string `mapstructure:"auth_token"` // remote libsql only
	// Embedded-only configuration
	LibSQLDataDir string `mapstructure:"libsql_data_dir"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
}

// PDSConfig stores sandbox-wide settings.
type PDSConfig struct {
	Database DatabaseConfig `mapstructure:"database"`
	CacheDir string         `mapstructure:"cacheDir"`
}

// LLMConfig stores the process-wide completion defaults. Personas may override
// api_key, base_url and model individually.
type LLMConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	AnalysisModel    string        `mapstructure:"analysis_model"`    // sentiment/keyword calls
	Timeout          time.Duration `mapstructure:"timeout"`           // per provider call
	MaxContentLength int           `mapstructure:"max_content_length"` // characters
	MaxTokenLength   int           `mapstructure:"max_token_length"`   // working memory, whitespace tokens
	RetryAttempts    int           `mapstructure:"retry_attempts"`     // total attempts, not retries
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`      // 0 = immediate re-attempt
}

// ActivityConfig tunes the posting backoff heuristic.
type ActivityConfig struct {
	RecencyThresholds []time.Duration `mapstructure:"recency_thresholds"` // ascending
	RecencyPenalties  []float64       `mapstructure:"recency_penalties"`  // one per threshold
	Window            time.Duration   `mapstructure:"window"`
	SampleSize        int             `mapstructure:"sample_size"`
	ShareCap          float64         `mapstructure:"share_cap"`
	ContextPosts      int             `mapstructure:"context_posts"` // grounding posts for original posts
}

// DispatchConfig controls fan-out of persona tasks.
type DispatchConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	Ledger         string        `mapstructure:"ledger"` // "memory" | "redis"
	LedgerTTL      time.Duration `mapstructure:"ledger_ttl"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
}

// RedisConfig holds the redis connection used by the redis dispatch ledger.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Memoize post analysis
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Safety
	EnableGuardrails bool     `mapstructure:"enable_guardrails"`
	BlockedWords     []string `mapstructure:"blocked_words"` // generated posts containing these are flagged

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// SchedulerConfig controls periodic original-post generation.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`      // cron expression
	TenantID string `mapstructure:"tenant_id"` // empty = any tenant
	Force    bool   `mapstructure:"force"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" | "json"
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.AutomaticEnv()
	// llm.api_key becomes LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file; defaults and environment apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pds.cacheDir", internal.DefaultCacheDir)
	v.SetDefault("pds.database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("pds.database.type", internal.DefaultDatabaseType)
	v.SetDefault("pds.database.libsql_data_dir", internal.DefaultDatabaseDir)
	v.SetDefault("pds.database.max_open_conns", 1)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.analysis_model", "gpt-3.5-turbo")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_content_length", 280)
	v.SetDefault("llm.max_token_length", 512)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.retry_backoff", "0s")

	v.SetDefault("activity.recency_thresholds", []string{"1h", "4h", "8h"})
	v.SetDefault("activity.recency_penalties", []float64{0.8, 0.5, 0.3})
	v.SetDefault("activity.window", "24h")
	v.SetDefault("activity.sample_size", 20)
	v.SetDefault("activity.share_cap", 0.7)
	v.SetDefault("activity.context_posts", 10)

	v.SetDefault("dispatch.max_concurrency", 8)
	v.SetDefault("dispatch.ledger", "memory")
	v.SetDefault("dispatch.ledger_ttl", "168h")
	v.SetDefault("dispatch.task_timeout", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 1000)
	v.SetDefault("harness.cache_ttl_seconds", 3600)
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.blocked_words", []string{})
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 30m")
	v.SetDefault("scheduler.tenant_id", "")
	v.SetDefault("scheduler.force", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects configurations the harness cannot run with.
func (c *Config) Validate() error {
	if c.LLM.RetryAttempts < 1 {
		return fmt.Errorf("llm.retry_attempts must be at least 1, got %d", c.LLM.RetryAttempts)
	}
	if c.LLM.MaxContentLength < 4 {
		return fmt.Errorf("llm.max_content_length must be at least 4, got %d", c.LLM.MaxContentLength)
	}
	if c.LLM.MaxTokenLength < 1 {
		return fmt.Errorf("llm.max_token_length must be positive, got %d", c.LLM.MaxTokenLength)
	}
	if len(c.Activity.RecencyThresholds) != len(c.Activity.RecencyPenalties) {
		return fmt.Errorf("activity.recency_thresholds (%d) and activity.recency_penalties (%d) must have the same length",
			len(c.Activity.RecencyThresholds), len(c.Activity.RecencyPenalties))
	}
	for i := 1; i < len(c.Activity.RecencyThresholds); i++ {
		if c.Activity.RecencyThresholds[i] <= c.Activity.RecencyThresholds[i-1] {
			return fmt.Errorf("activity.recency_thresholds must be ascending")
		}
	}
	switch c.Dispatch.Ledger {
	case "memory", "redis":
	default:
		return fmt.Errorf("dispatch.ledger must be \"memory\" or \"redis\", got %q", c.Dispatch.Ledger)
	}
	return nil
}
