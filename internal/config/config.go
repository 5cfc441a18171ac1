// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const (
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultGeminiModel = "gemini-2.5-flash"
)

// Config holds all application configuration.
type Config struct {
	Port               string           `yaml:"port"`
	FrontendURL        string           `yaml:"frontend_url"`
	DBPath             string           `yaml:"db_path"`
	LogLevel           string           `yaml:"log_level"`
	MaxRequestBodySize int64            `yaml:"max_request_body_size"`
	LLM                LLMConfig        `yaml:"llm"`
	RateLimit          RateLimitConfig  `yaml:"rate_limit"`
	Transcript         TranscriptConfig `yaml:"transcript"`
	Retention          RetentionConfig  `yaml:"retention"`
}

// LLMConfig selects and tunes the generation/classification oracle.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window"`
}

// TranscriptConfig controls NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// RetentionConfig controls deletion of stale sessions. A zero SessionTTL
// keeps sessions forever.
type RetentionConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
	Interval   time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               "8080",
		DBPath:             "./data/screener.db",
		LogLevel:           "info",
		MaxRequestBodySize: 1 << 20,
		LLM: LLMConfig{
			Provider:    ProviderGroq,
			Model:       defaultGroqModel,
			Temperature: 0.7,
			MaxTokens:   500,
			Timeout:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 30,
			WindowDuration:    time.Minute,
		},
		Transcript: TranscriptConfig{
			Enabled:   false,
			Dir:       "./data/transcripts",
			QueueSize: 1000,
		},
		Retention: RetentionConfig{
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MaxRequestBodySize = int64(getEnvInt("MAX_REQUEST_BODY_BYTES", int(c.MaxRequestBodySize)))

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout)

	// A provider-specific key only applies to its own provider; LLM_API_KEY
	// applies to whichever provider is selected and wins.
	providerKeys := map[string]string{
		ProviderGroq:   "GROQ_API_KEY",
		ProviderOpenAI: "OPENAI_API_KEY",
		ProviderGemini: "GEMINI_API_KEY",
	}
	if env, ok := providerKeys[c.LLM.Provider]; ok {
		c.LLM.APIKey = getEnv(env, c.LLM.APIKey)
	}
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration)

	c.Transcript.Enabled = getEnvBool("TRANSCRIPT_ENABLED", c.Transcript.Enabled)
	c.Transcript.Dir = getEnv("TRANSCRIPT_DIR", c.Transcript.Dir)
	c.Transcript.QueueSize = getEnvInt("TRANSCRIPT_QUEUE_SIZE", c.Transcript.QueueSize)

	c.Retention.SessionTTL = getEnvDuration("SESSION_RETENTION", c.Retention.SessionTTL)
	c.Retention.Interval = getEnvDuration("RETENTION_INTERVAL", c.Retention.Interval)
}

func (c *Config) applyProviderDefaults() {
	if c.LLM.Provider == ProviderGemini && c.LLM.Model == defaultGroqModel {
		c.LLM.Model = defaultGeminiModel
	}
	if c.LLM.BaseURL != "" {
		return
	}
	switch c.LLM.Provider {
	case ProviderGroq:
		c.LLM.BaseURL = "https://api.groq.com/openai/v1"
	case ProviderOpenAI:
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return errors.New("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	switch c.LLM.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return errors.New("LLM_MODEL cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return errors.New("TRANSCRIPT_DIR cannot be empty when transcripts are enabled")
	}
	if c.Transcript.QueueSize <= 0 {
		return errors.New("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	if c.Retention.SessionTTL < 0 {
		return errors.New("SESSION_RETENTION cannot be negative")
	}
	if c.Retention.SessionTTL > 0 && c.Retention.Interval <= 0 {
		return errors.New("RETENTION_INTERVAL must be > 0 when retention is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list derived from FRONTEND_URL.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" || c.FrontendURL == "*" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
