// Package config provides configuration file support for cachecore.
// It handles loading, validation, and environment variable interpolation
// for cachecore.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full cachecore configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	TTL       TTLConfig       `mapstructure:"ttl"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds settings for the operational HTTP endpoint
// (/metrics, /healthz, /stats).
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// CacheConfig holds the layered cache settings.
type CacheConfig struct {
	L1MaxEntries              int           `mapstructure:"l1_max_entries"`
	DefaultTTL                time.Duration `mapstructure:"default_ttl"`
	MaxMemoryMB               int           `mapstructure:"max_memory_mb"`
	CompressionThresholdBytes int           `mapstructure:"compression_threshold_bytes"`
	CompressionAlgorithm      string        `mapstructure:"compression_algorithm"`
	CompressionLevel          int           `mapstructure:"compression_level"`
	MaintenanceInterval       time.Duration `mapstructure:"maintenance_interval"`
	WarmConcurrency           int           `mapstructure:"warm_concurrency"`
}

// RedisConfig holds the distributed tier settings.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
}

// TTLConfig holds the TTL learning settings.
type TTLConfig struct {
	PatternRetentionHours  int `mapstructure:"pattern_retention_hours"`
	PredictionCacheSeconds int `mapstructure:"prediction_cache_seconds"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 9090,
			Host: "0.0.0.0",
		},
		Cache: CacheConfig{
			L1MaxEntries:              10000,
			DefaultTTL:                time.Hour,
			MaxMemoryMB:               100,
			CompressionThresholdBytes: 4096,
			CompressionAlgorithm:      "deflate",
			CompressionLevel:          6,
			MaintenanceInterval:       time.Minute,
			WarmConcurrency:           8,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			KeyPrefix:   "tw:cache:",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			OpTimeout:   250 * time.Millisecond,
		},
		TTL: TTLConfig{
			PatternRetentionHours:  168,
			PredictionCacheSeconds: 3600,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid. Out-of-range values are rejected here,
// never silently clamped.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}

	// Cache validation
	if cfg.Cache.L1MaxEntries <= 0 {
		errs = append(errs, fmt.Sprintf("cache.l1_max_entries: must be positive, got %d", cfg.Cache.L1MaxEntries))
	}
	if cfg.Cache.DefaultTTL < 0 {
		errs = append(errs, fmt.Sprintf("cache.default_ttl: must be non-negative, got %s", cfg.Cache.DefaultTTL))
	}
	if cfg.Cache.MaxMemoryMB <= 0 {
		errs = append(errs, fmt.Sprintf("cache.max_memory_mb: must be positive, got %d", cfg.Cache.MaxMemoryMB))
	}
	if cfg.Cache.CompressionThresholdBytes < 0 {
		errs = append(errs, fmt.Sprintf("cache.compression_threshold_bytes: must be non-negative, got %d", cfg.Cache.CompressionThresholdBytes))
	}
	validAlgorithms := map[string]bool{"none": true, "deflate": true, "": true}
	if !validAlgorithms[cfg.Cache.CompressionAlgorithm] {
		errs = append(errs, fmt.Sprintf("cache.compression_algorithm: unsupported algorithm %q (supported: none, deflate)", cfg.Cache.CompressionAlgorithm))
	}
	if cfg.Cache.CompressionAlgorithm == "deflate" && (cfg.Cache.CompressionLevel < 1 || cfg.Cache.CompressionLevel > 9) {
		errs = append(errs, fmt.Sprintf("cache.compression_level: must be between 1 and 9, got %d", cfg.Cache.CompressionLevel))
	}
	if cfg.Cache.MaintenanceInterval < 0 {
		errs = append(errs, fmt.Sprintf("cache.maintenance_interval: must be non-negative, got %s", cfg.Cache.MaintenanceInterval))
	}
	if cfg.Cache.WarmConcurrency < 0 {
		errs = append(errs, fmt.Sprintf("cache.warm_concurrency: must be non-negative, got %d", cfg.Cache.WarmConcurrency))
	}

	// Redis validation
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			errs = append(errs, "redis.addr: required when redis is enabled")
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, fmt.Sprintf("redis.db: must be non-negative, got %d", cfg.Redis.DB))
		}
		if cfg.Redis.PoolSize < 0 {
			errs = append(errs, fmt.Sprintf("redis.pool_size: must be non-negative, got %d", cfg.Redis.PoolSize))
		}
		if cfg.Redis.OpTimeout < 0 {
			errs = append(errs, fmt.Sprintf("redis.op_timeout: must be non-negative, got %s", cfg.Redis.OpTimeout))
		}
	}

	// TTL validation
	if cfg.TTL.PatternRetentionHours <= 0 {
		errs = append(errs, fmt.Sprintf("ttl.pattern_retention_hours: must be positive, got %d", cfg.TTL.PatternRetentionHours))
	}
	if cfg.TTL.PredictionCacheSeconds < 0 || cfg.TTL.PredictionCacheSeconds > 3600 {
		errs = append(errs, fmt.Sprintf("ttl.prediction_cache_seconds: must be between 0 and 3600, got %d", cfg.TTL.PredictionCacheSeconds))
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Cache.CompressionAlgorithm = InterpolateEnv(cfg.Cache.CompressionAlgorithm)
	cfg.Redis.Addr = InterpolateEnv(cfg.Redis.Addr)
	cfg.Redis.Password = InterpolateEnv(cfg.Redis.Password)
	cfg.Redis.KeyPrefix = InterpolateEnv(cfg.Redis.KeyPrefix)
	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a cachecore.yaml file.
func GenerateTemplate() string {
	return `# cachecore configuration

server:
  port: 9090
  host: 0.0.0.0

cache:
  l1_max_entries: 10000
  default_ttl: 1h
  max_memory_mb: 100
  compression_threshold_bytes: 4096
  compression_algorithm: deflate   # none or deflate
  compression_level: 6             # 1 (fastest) to 9 (best ratio)
  maintenance_interval: 1m
  warm_concurrency: 8

redis:
  enabled: false
  addr: localhost:6379
  password: ${REDIS_PASSWORD:-}
  db: 0
  key_prefix: "tw:cache:"
  pool_size: 10
  dial_timeout: 5s
  op_timeout: 250ms

ttl:
  pattern_retention_hours: 168     # 7 days
  prediction_cache_seconds: 3600   # at most 1 hour

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
