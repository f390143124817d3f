// Package config loads harvester settings from defaults, an optional YAML
// file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Keys as they appear in the YAML file.
const (
	KeyOutputFolder   = "output_folder"
	KeyBatchCount     = "batch_count"
	KeyBatchSpan      = "batch_span"
	KeyMaxConcurrency = "max_concurrency"
	KeyFetchTimeout   = "fetch_timeout"
	KeyRateLimit      = "rate_limit"
	KeyBurst          = "burst"
	KeyResume         = "resume"
	KeyBaseURL        = "base_url"
	KeyUserAgent      = "user_agent"
	KeyMaxAttempts    = "max_attempts"
	KeyRedisURL       = "redis_url"
	KeyCacheTTL       = "cache_ttl"
	KeyLogLevel       = "log_level"
	KeyLogPretty      = "log_pretty"
	KeyMetricsAddr    = "metrics_addr"
)

// envNames maps config keys to environment variables.
var envNames = map[string]string{
	KeyOutputFolder:   "OUTPUT_FOLDER",
	KeyBatchCount:     "HARVEST_BATCH_COUNT",
	KeyBatchSpan:      "HARVEST_BATCH_SPAN",
	KeyMaxConcurrency: "HARVEST_MAX_CONCURRENCY",
	KeyFetchTimeout:   "HARVEST_FETCH_TIMEOUT",
	KeyRateLimit:      "HARVEST_RATE_LIMIT",
	KeyBurst:          "HARVEST_BURST",
	KeyResume:         "HARVEST_RESUME",
	KeyBaseURL:        "HARVEST_BASE_URL",
	KeyUserAgent:      "HARVEST_USER_AGENT",
	KeyMaxAttempts:    "HARVEST_MAX_ATTEMPTS",
	KeyRedisURL:       "REDIS_URL",
	KeyCacheTTL:       "CACHE_TTL",
	KeyLogLevel:       "LOG_LEVEL",
	KeyLogPretty:      "LOG_PRETTY",
	KeyMetricsAddr:    "METRICS_ADDR",
}

// DefaultUserAgent identifies the harvester to the poem API.
const DefaultUserAgent = "souyun-harvester/0.1.0"

// ErrMissingOutputFolder is returned when OUTPUT_FOLDER is not set.
var ErrMissingOutputFolder = errors.New("OUTPUT_FOLDER is not set")

// Config holds every runtime setting of the harvester.
type Config struct {
	OutputFolder   string
	BatchCount     int
	BatchSpan      int
	MaxConcurrency int
	FetchTimeout   time.Duration
	RateLimit      float64
	Burst          int
	Resume         bool
	BaseURL        string
	UserAgent      string
	MaxAttempts    int
	RedisURL       string
	CacheTTL       time.Duration
	LogLevel       string
	LogPretty      bool
	MetricsAddr    string
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyBatchCount, 110)
	v.SetDefault(KeyBatchSpan, 10000)
	v.SetDefault(KeyMaxConcurrency, 10)
	v.SetDefault(KeyFetchTimeout, 30*time.Second)
	v.SetDefault(KeyRateLimit, 0.0)
	v.SetDefault(KeyBurst, 1)
	v.SetDefault(KeyResume, false)
	v.SetDefault(KeyBaseURL, "https://api.sou-yun.cn")
	v.SetDefault(KeyUserAgent, DefaultUserAgent)
	v.SetDefault(KeyMaxAttempts, 1)
	v.SetDefault(KeyCacheTTL, 24*time.Hour)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPretty, false)

	for key, env := range envNames {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, env)
	}

	return v
}

// Load reads the optional YAML file at path and overlays the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return FromViper(v), nil
}

// ReadFile merges the YAML file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// FromViper extracts a Config from v. Flags bound to v take precedence.
func FromViper(v *viper.Viper) Config {
	return Config{
		OutputFolder:   v.GetString(KeyOutputFolder),
		BatchCount:     v.GetInt(KeyBatchCount),
		BatchSpan:      v.GetInt(KeyBatchSpan),
		MaxConcurrency: v.GetInt(KeyMaxConcurrency),
		FetchTimeout:   v.GetDuration(KeyFetchTimeout),
		RateLimit:      v.GetFloat64(KeyRateLimit),
		Burst:          v.GetInt(KeyBurst),
		Resume:         v.GetBool(KeyResume),
		BaseURL:        v.GetString(KeyBaseURL),
		UserAgent:      v.GetString(KeyUserAgent),
		MaxAttempts:    v.GetInt(KeyMaxAttempts),
		RedisURL:       v.GetString(KeyRedisURL),
		CacheTTL:       v.GetDuration(KeyCacheTTL),
		LogLevel:       v.GetString(KeyLogLevel),
		LogPretty:      v.GetBool(KeyLogPretty),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
	}
}

// Validate checks the settings a run cannot start without.
func (c Config) Validate() error {
	if c.OutputFolder == "" {
		return ErrMissingOutputFolder
	}
	info, err := os.Stat(c.OutputFolder)
	if err != nil {
		return fmt.Errorf("output folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output folder %s is not a directory", c.OutputFolder)
	}

	if c.BatchCount <= 0 {
		return fmt.Errorf("batch count must be > 0 (got %d)", c.BatchCount)
	}
	if c.BatchSpan <= 0 {
		return fmt.Errorf("batch span must be > 0 (got %d)", c.BatchSpan)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be > 0 (got %d)", c.MaxConcurrency)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0 (got %d)", c.MaxAttempts)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0 (got %v)", c.RateLimit)
	}
	return nil
}
