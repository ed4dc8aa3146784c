package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CopyForge server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Batch    BatchConfig
	Notify   NotifyConfig
	Records  RecordsConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BatchConfig holds the defaults applied to every submitted batch.
type BatchConfig struct {
	Concurrency            int
	MaxQueueDepth          int
	AttemptTimeout         time.Duration
	MaxAttempts            int
	RetryDelay             time.Duration
	ExhaustedDelay         time.Duration
	SequentialThreshold    int
	CheckpointEvery        int
	CompactEvery           int
	MaxConsecutiveFailures int
	CheckpointWait         time.Duration
	RequireResume          bool
	ContextMaxBytes        int
	Retention              time.Duration
}

type NotifyConfig struct {
	SlackWebhookURL string
	SendTimeout     time.Duration
}

type RecordsConfig struct {
	BaseURL string
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("COPYFORGE_PORT", 8080),
			Env:      envString("COPYFORGE_ENV", "development"),
			LogLevel: strings.ToLower(envString("LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Batch: BatchConfig{
			Concurrency:            envInt("BATCH_CONCURRENCY", 3),
			MaxQueueDepth:          envInt("BATCH_MAX_QUEUE_DEPTH", 0),
			AttemptTimeout:         envDurationSecs("BATCH_ATTEMPT_TIMEOUT_SECS", 120*time.Second),
			MaxAttempts:            envInt("BATCH_MAX_ATTEMPTS", 2),
			RetryDelay:             envDurationSecs("BATCH_RETRY_DELAY_SECS", 5*time.Second),
			ExhaustedDelay:         envDurationSecs("BATCH_EXHAUSTED_DELAY_SECS", 20*time.Second),
			SequentialThreshold:    envInt("BATCH_SEQUENTIAL_THRESHOLD", 10),
			CheckpointEvery:        envInt("BATCH_CHECKPOINT_EVERY", 10),
			CompactEvery:           envInt("BATCH_COMPACT_EVERY", 10),
			MaxConsecutiveFailures: envInt("BATCH_MAX_CONSECUTIVE_FAILURES", 3),
			CheckpointWait:         envDuration("BATCH_CHECKPOINT_WAIT", 0),
			RequireResume:          envBool("BATCH_REQUIRE_RESUME", false),
			ContextMaxBytes:        envInt("BATCH_CONTEXT_MAX_BYTES", 4000),
			Retention:              envDuration("BATCH_RETENTION", 5*time.Minute),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
			SendTimeout:     envDuration("NOTIFY_SEND_TIMEOUT", 4*time.Second),
		},
		Records: RecordsConfig{
			BaseURL: strings.TrimRight(os.Getenv("RECORDS_BASE_URL"), "/"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, mock; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.MaxQueueDepth < 0 {
		return fmt.Errorf("BATCH_MAX_QUEUE_DEPTH must not be negative, got %d", c.Batch.MaxQueueDepth)
	}
	if c.Batch.MaxAttempts < 1 {
		return fmt.Errorf("BATCH_MAX_ATTEMPTS must be at least 1, got %d", c.Batch.MaxAttempts)
	}
	if c.Batch.CheckpointEvery < 1 {
		return fmt.Errorf("BATCH_CHECKPOINT_EVERY must be at least 1, got %d", c.Batch.CheckpointEvery)
	}
	if c.Batch.CompactEvery < 1 {
		return fmt.Errorf("BATCH_COMPACT_EVERY must be at least 1, got %d", c.Batch.CompactEvery)
	}
	if c.Batch.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("BATCH_MAX_CONSECUTIVE_FAILURES must be at least 1, got %d", c.Batch.MaxConsecutiveFailures)
	}
	if c.Batch.Retention < 0 {
		return fmt.Errorf("BATCH_RETENTION must not be negative, got %s", c.Batch.Retention)
	}

	if u := c.Notify.SlackWebhookURL; u != "" && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return fmt.Errorf("SLACK_WEBHOOK_URL must start with http:// or https://, got %q", u)
	}
	if u := c.Records.BaseURL; u != "" && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return fmt.Errorf("RECORDS_BASE_URL must start with http:// or https://, got %q", u)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
