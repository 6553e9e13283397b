package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Upstream    UpstreamConfig  `toml:"upstream"`
	Vector      VectorConfig    `toml:"vector"`
	LLM         LLMConfig       `toml:"llm"`
	Dedup       DedupConfig     `toml:"dedup"`
	Retention   RetentionConfig `toml:"retention"`
	Stream      StreamConfig    `toml:"stream"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// UpstreamConfig configures the webset provider client and poll loop.
type UpstreamConfig struct {
	APIKey       string `toml:"api_key"`       // EXA_API_KEY overrides
	BaseURL      string `toml:"base_url"`      // Provider API base URL
	PollInterval string `toml:"poll_interval"` // e.g. "3s" between status polls
	PollDeadline string `toml:"poll_deadline"` // e.g. "50m" wall-clock budget per job
	PageLimit    int    `toml:"page_limit"`    // Items per cursor page (max 100)
}

// VectorConfig configures the external embedding index facade.
type VectorConfig struct {
	URL     string `toml:"url"`     // Base URL, VECTOR_URL overrides
	Timeout string `toml:"timeout"` // Per-request timeout, e.g. "2s"
	TopK    int    `toml:"top_k"`   // Recall depth for queries
}

// LLMConfig configures the adjudicator's chat provider.
type LLMConfig struct {
	Provider        string  `toml:"provider"` // "gemini" (default) or "claude"
	GoogleAPIKey    string  `toml:"google_api_key"`
	AnthropicAPIKey string  `toml:"anthropic_api_key"`
	Model           string  `toml:"model"`
	Timeout         string  `toml:"timeout"`
	Temperature     float32 `toml:"temperature"`
	MaxTokens       int     `toml:"max_tokens"`
	BatchSize       int     `toml:"batch_size"`    // Flush at this many staged decisions
	BatchLatency    string  `toml:"batch_latency"` // Flush this long after first enqueue
}

// DedupConfig toggles the core pipeline and its optional layers.
type DedupConfig struct {
	Enabled       bool                `toml:"enabled"`
	URLResolution URLResolutionConfig `toml:"url_resolution"`
}

// URLResolutionConfig configures HEAD-based canonicalization of suspicious
// URL pairs (company mode only).
type URLResolutionConfig struct {
	Enabled   bool   `toml:"enabled"`
	Timeout   string `toml:"timeout"`    // Per-request timeout, e.g. "3s"
	CacheSize int    `toml:"cache_size"` // Global FIFO cache bound
}

// RetentionConfig configures the cron sweeper for old completed jobs.
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron expression
	MaxAge   string `toml:"max_age"`  // Prune terminal jobs older than this
}

// StreamConfig tunes subscriber delivery.
type StreamConfig struct {
	BufferSize     int    `toml:"buffer_size"`     // Per-subscriber frame buffer
	StatusInterval string `toml:"status_interval"` // Min interval between status frames
}

// DefaultConfig returns the built-in defaults applied before any file or
// environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/dedup-webset"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://api.exa.ai/websets/v0",
			PollInterval: "3s",
			PollDeadline: "50m",
			PageLimit:    100,
		},
		Vector: VectorConfig{
			URL:     "http://localhost:8001",
			Timeout: "2s",
			TopK:    5,
		},
		LLM: LLMConfig{
			Provider:     "gemini",
			Model:        "",
			Timeout:      "30s",
			Temperature:  0.0,
			MaxTokens:    2048,
			BatchSize:    25,
			BatchLatency: "300ms",
		},
		Dedup: DedupConfig{
			Enabled: true,
			URLResolution: URLResolutionConfig{
				Enabled:   false,
				Timeout:   "3s",
				CacheSize: 2000,
			},
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
			MaxAge:   "720h",
		},
		Stream: StreamConfig{
			BufferSize:     256,
			StatusInterval: "1s",
		},
	}
}

// LoadConfig builds the configuration from defaults, then each file in order
// (later files override earlier ones), then environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides maps the documented environment variables onto the config
// tree. Environment wins over files.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EXA_API_KEY"); v != "" {
		config.Upstream.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		config.LLM.GoogleAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("VECTOR_URL"); v != "" {
		config.Vector.URL = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		// Legacy variable from the original deployment; the document store is
		// embedded now, so only honor it as a data directory hint.
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("ENABLE_DEDUP"); v != "" {
		config.Dedup.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ENABLE_URL_RESOLUTION"); v != "" {
		config.Dedup.URLResolution.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DEDUP_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Upstream.PageLimit <= 0 || c.Upstream.PageLimit > 100 {
		return fmt.Errorf("upstream page_limit must be in 1..100, got %d", c.Upstream.PageLimit)
	}
	if c.LLM.BatchSize <= 0 {
		return fmt.Errorf("llm batch_size must be positive, got %d", c.LLM.BatchSize)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"upstream.poll_interval", c.Upstream.PollInterval},
		{"upstream.poll_deadline", c.Upstream.PollDeadline},
		{"vector.timeout", c.Vector.Timeout},
		{"llm.timeout", c.LLM.Timeout},
		{"llm.batch_latency", c.LLM.BatchLatency},
		{"dedup.url_resolution.timeout", c.Dedup.URLResolution.Timeout},
		{"retention.max_age", c.Retention.MaxAge},
		{"stream.status_interval", c.Stream.StatusInterval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.name, d.value)
		}
	}
	return nil
}

// Duration parses a duration config field that Validate has already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
