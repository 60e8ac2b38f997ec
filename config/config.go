package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static defaults document: columnar writer settings,
// cache writer settings, and the global writer-enable switches. Preset
// selection (label, channel set, symbol source, CPU affinity index,
// per-channel log_interval_s) lives in a separate document, see
// shards.go.
type Config struct {
	Feedline FeedlineConfig `yaml:"feedline"`
	Columnar ColumnarConfig `yaml:"columnar"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type FeedlineConfig struct {
	Name               string `yaml:"name"`
	Version            string `yaml:"version"`
	EnableColumnar     bool   `yaml:"enable_columnar"`
	EnableCache        bool   `yaml:"enable_cache"`
	HousekeepIntervalS int    `yaml:"housekeep_interval_s"`
}

// ColumnarConfig configures the batched HTTP columnar writer
// (spec.md §6: "columnar URL, database, batch_rows, flush_interval_ms,
// compression"). Millisecond fields are plain ints, not time.Duration,
// since yaml.v3 has no text-unmarshal hook for time.Duration and would
// otherwise read "250" as 250 nanoseconds.
type ColumnarConfig struct {
	URL             string `yaml:"url"`
	Database        string `yaml:"database"`
	BatchRows       int    `yaml:"batch_rows"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
	Compression     string `yaml:"compression"`
	InsertTimeoutMs int    `yaml:"insert_timeout_ms"`
}

func (c ColumnarConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c ColumnarConfig) InsertTimeout() time.Duration {
	return time.Duration(c.InsertTimeoutMs) * time.Millisecond
}

// CacheConfig configures the pipelined KV cache writer (spec.md §6:
// "cache URL, pipeline_size, flush_interval_ms, stream_maxlen").
type CacheConfig struct {
	URL             string `yaml:"url"`
	PipelineSize    int    `yaml:"pipeline_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
	StreamMaxLen    int64  `yaml:"stream_maxlen"`
	DialTimeoutMs   int    `yaml:"dial_timeout_ms"`
}

func (c CacheConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c CacheConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

type LoggingConfig struct {
	Level                   string                 `yaml:"level"`
	Format                  string                 `yaml:"format"`
	Output                  string                 `yaml:"output"`
	MaxAge                  int                    `yaml:"max_age"`
	Fields                  map[string]interface{} `yaml:"fields"`
	CloudWatchRegion        string                 `yaml:"cloudwatch_region"`
	CloudWatchNS            string                 `yaml:"cloudwatch_namespace"`
	HealthCloudWatchEnabled bool                   `yaml:"health_cloudwatch_enabled"`
}

// LoadConfig reads and validates the defaults document, applying
// environment-variable overrides for credential-bearing fields before
// any socket or HTTP client is constructed (spec.md §7's "configuration
// error — fatal before any socket is opened").
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		Columnar: ColumnarConfig{
			BatchRows:       5000,
			FlushIntervalMs: 250,
			Compression:     "lz4",
			InsertTimeoutMs: 10_000,
		},
		Cache: CacheConfig{
			PipelineSize:    200,
			FlushIntervalMs: 50,
			DialTimeoutMs:   3_000,
		},
		Feedline: FeedlineConfig{
			HousekeepIntervalS: 60,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("FEEDLINE_COLUMNAR_URL"); v != "" {
		cfg.Columnar.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEEDLINE_CACHE_DSN"); v != "" {
		cfg.Cache.URL = strings.TrimSpace(v)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Feedline.Name == "" {
		return fmt.Errorf("feedline.name is required")
	}
	if cfg.Feedline.EnableColumnar && cfg.Columnar.URL == "" {
		return fmt.Errorf("columnar.url is required when enable_columnar is true")
	}
	if cfg.Feedline.EnableColumnar && cfg.Columnar.BatchRows <= 0 {
		return fmt.Errorf("columnar.batch_rows must be greater than 0")
	}
	if cfg.Feedline.EnableCache && cfg.Cache.URL == "" {
		return fmt.Errorf("cache.url is required when enable_cache is true")
	}
	if cfg.Feedline.EnableCache && cfg.Cache.PipelineSize <= 0 {
		return fmt.Errorf("cache.pipeline_size must be greater than 0")
	}
	if !cfg.Feedline.EnableColumnar && !cfg.Feedline.EnableCache {
		return fmt.Errorf("at least one of enable_columnar or enable_cache must be true")
	}
	return nil
}
