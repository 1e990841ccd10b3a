package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8080)
// - HTTP_RATE_LIMIT_RPS: per-caller requests per second, 0 disables (default: 10)
// - HTTP_RATE_LIMIT_BURST: per-caller burst (default: 20)
//
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-3.5-turbo)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 30)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Translation Configuration:
// - SUPPORTED_LANGUAGES: comma-separated BCP 47 target tags (default: en,de,fr,es,it,pt,ja,ko,zh)
// - CHUNK_SIZE: max characters per document chunk (default: 2000)
// - WORKER_COUNT: parallel chunk workers (default: 2)
// - CHUNK_TIMEOUT: per-chunk translation timeout in seconds (default: 120)
// - COST_PER_1K_TOKENS: projected spend per 1000 tokens (default: 0.01)
//
// Sweep Configuration:
// - SWEEP_CRON_EXPR: stall sweep schedule (default: */5 * * * *)
// - STALL_AFTER: minutes without progress before a job is failed (default: 15)
//
// Storage Configuration:
// - DB_PATH: SQLite database path, empty keeps jobs in memory (default: /data/doctrans.db)
//
// System Configuration:
// - LOG_LEVEL: debug, info, warn, error or fatal (default: info)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Sweep     SweepConfig     `json:"sweep"`
	Storage   StorageConfig   `json:"storage"`
	System    SystemConfig    `json:"system"`
}

type HTTPConfig struct {
	Addr           string  `json:"addr"`
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
}

// LLMConfig holds the configuration for the LLM client.
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, etc.)
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

type TranslateConfig struct {
	SupportedLanguages []string `json:"supported_languages"`
	ChunkSize          int      `json:"chunk_size"`
	WorkerCount        int      `json:"worker_count"`
	ChunkTimeoutSec    int      `json:"chunk_timeout_sec"`
	CostPer1KTokens    float64  `json:"cost_per_1k_tokens"`
}

type SweepConfig struct {
	CronExpr      string `json:"cron_expr"`
	StallAfterMin int    `json:"stall_after_min"`
}

type StorageConfig struct {
	DBPath string `json:"db_path"`
}

type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:           getEnvString("HTTP_ADDR", ":8080"),
			RateLimitRPS:   getEnvFloat("HTTP_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("HTTP_RATE_LIMIT_BURST", 20),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-3.5-turbo"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 30),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Translate: TranslateConfig{
			SupportedLanguages: getEnvStringList("SUPPORTED_LANGUAGES", []string{"en", "de", "fr", "es", "it", "pt", "ja", "ko", "zh"}),
			ChunkSize:          getEnvInt("CHUNK_SIZE", 2000),
			WorkerCount:        getEnvInt("WORKER_COUNT", 2),
			ChunkTimeoutSec:    getEnvInt("CHUNK_TIMEOUT", 120),
			CostPer1KTokens:    getEnvFloat("COST_PER_1K_TOKENS", 0.01),
		},
		Sweep: SweepConfig{
			CronExpr:      getEnvString("SWEEP_CRON_EXPR", "*/5 * * * *"),
			StallAfterMin: getEnvInt("STALL_AFTER", 15),
		},
		Storage: StorageConfig{
			DBPath: getEnvString("DB_PATH", "/data/doctrans.db"),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if len(c.Translate.SupportedLanguages) == 0 {
		return fmt.Errorf("SUPPORTED_LANGUAGES must not be empty")
	}
	if c.Translate.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Translate.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.Sweep.StallAfterMin <= 0 {
		return fmt.Errorf("STALL_AFTER must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringList gets a comma-separated list from environment variables with default
func getEnvStringList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
