// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Profile    ProfileConfig    `yaml:"profile" mapstructure:"profile"`
	Webcrawl   WebcrawlConfig   `yaml:"webcrawl" mapstructure:"webcrawl"`
	TechStack  TechStackConfig  `yaml:"techstack" mapstructure:"techstack"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds settings for the OpenAI-compatible completion backend.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ProfileConfig holds the professional-profile lookup API settings.
type ProfileConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WebcrawlConfig holds the website crawl-and-summarize API settings.
type WebcrawlConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TechStackConfig holds the technology-footprint detection API settings.
type TechStackConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EnrichConfig configures the orchestrator and batch coordinator.
type EnrichConfig struct {
	DefaultProvider string  `yaml:"default_provider" mapstructure:"default_provider"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	ItemDelayMs     int     `yaml:"item_delay_ms" mapstructure:"item_delay_ms"`
	ChunkDelayMs    int     `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoffMs   int     `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	LLMTimeoutSecs  int     `yaml:"llm_timeout_secs" mapstructure:"llm_timeout_secs"`
}

// QueueConfig configures the job queue and worker pools.
type QueueConfig struct {
	PollIntervalMs    int            `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxAttempts       int            `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMs         int            `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	KeepCompleted     int            `yaml:"keep_completed" mapstructure:"keep_completed"`
	KeepFailed        int            `yaml:"keep_failed" mapstructure:"keep_failed"`
	ShutdownGraceSecs int            `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
	Concurrency       map[string]int `yaml:"concurrency" mapstructure:"concurrency"`
}

// TemplatesConfig points at the prompt-template file.
type TemplatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background queue-health checker.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("profile.base_url", "https://api.profilelens.io/v2")
	v.SetDefault("profile.timeout_secs", 30)
	v.SetDefault("webcrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("webcrawl.timeout_secs", 60)
	v.SetDefault("techstack.base_url", "https://api.builtwith.com/v21")
	v.SetDefault("techstack.timeout_secs", 30)

	v.SetDefault("enrich.default_provider", "anthropic")
	v.SetDefault("enrich.concurrency", 3)
	v.SetDefault("enrich.item_delay_ms", 500)
	v.SetDefault("enrich.chunk_delay_ms", 2000)
	v.SetDefault("enrich.max_attempts", 3)
	v.SetDefault("enrich.base_backoff_ms", 500)
	v.SetDefault("enrich.rate_per_second", 2.0)
	v.SetDefault("enrich.llm_timeout_secs", 120)

	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_ms", 5000)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 500)
	v.SetDefault("queue.shutdown_grace_secs", 30)
	v.SetDefault("queue.concurrency", map[string]int{
		"enrich_prospect":         4,
		"enrich_batch":            1,
		"generate_message":        8,
		"generate_batch_messages": 1,
		"import_records":          2,
		"export_records":          2,
	})

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.backlog_threshold", 500)
}

// PoolConcurrency returns the configured worker concurrency for a job
// family, defaulting to 1.
func (c QueueConfig) PoolConcurrency(family string) int {
	if n, ok := c.Concurrency[family]; ok && n > 0 {
		return n
	}
	return 1
}

// ItemDelay returns the intra-chunk stagger duration.
func (c EnrichConfig) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMs) * time.Millisecond
}

// ChunkDelay returns the inter-chunk delay duration.
func (c EnrichConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMs) * time.Millisecond
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
