// Package config handles YAML configuration loading with environment
// variable expansion, in the shape this service's fields need: gateway
// credentials, store DSN, pool sizing, the rate limiter, and the asset
// installer's cloud target.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level service configuration.
type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Database   DatabaseConfig   `yaml:"database"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Pools      PoolsConfig      `yaml:"pools"`
	Assets     AssetsConfig     `yaml:"assets"`
	Admin      AdminConfig      `yaml:"admin"`
	Cache      CacheConfig      `yaml:"cache"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// DiscordConfig holds the credentials and REST/gateway basics.
type DiscordConfig struct {
	Token      string `yaml:"token"`
	APIBaseURL string `yaml:"api_base_url"`
	Intents    int    `yaml:"intents"`
}

// DatabaseConfig holds the store's SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// RateLimitConfig holds the shared token-bucket limiter's parameters.
type RateLimitConfig struct {
	Capacity      float64 `yaml:"capacity"`
	RefillRate    float64 `yaml:"refill_rate"`
	HonorHeaders  bool    `yaml:"honor_headers"`
}

// PoolConfig is one pool's worker-count policy.
type PoolConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// PoolsConfig holds per-pool sizing and the shared sweep timeout.
type PoolsConfig struct {
	BLP                PoolConfig `yaml:"blp"`
	Rembg              PoolConfig `yaml:"rembg"`
	Icon               PoolConfig `yaml:"icon"`
	SweepTimeoutMin    int        `yaml:"sweep_timeout_minutes"`
}

// AssetsConfig controls the SIGUSR2 model-asset installer.
type AssetsConfig struct {
	Hosting    string `yaml:"hosting"` // "s3" or "gcs"
	Bucket     string `yaml:"bucket"`
	ObjectKey  string `yaml:"object_key"`
	Region     string `yaml:"region"`   // S3 only
	DestPath   string `yaml:"dest_path"`
}

// AdminConfig holds the ops HTTP surface settings.
type AdminConfig struct {
	Addr            string        `yaml:"addr"`
	AdminKey        string        `yaml:"admin_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig holds the channel-metadata cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values,
// leaving unresolvable references untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment
// variables, and validates the fields the service cannot start without.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Discord: DiscordConfig{
			APIBaseURL: "https://discord.com/api/v10",
			Intents:    33280,
		},
		Database: DatabaseConfig{
			DSN: "raftbot.db",
		},
		RateLimits: RateLimitConfig{
			Capacity:   40,
			RefillRate: 40,
		},
		Pools: PoolsConfig{
			BLP:             PoolConfig{MaxWorkers: 3},
			Rembg:           PoolConfig{MaxWorkers: 3},
			Icon:            PoolConfig{MaxWorkers: 3},
			SweepTimeoutMin: 10,
		},
		Assets: AssetsConfig{
			Hosting:  "s3",
			DestPath: "models/u2net.onnx",
		},
		Admin: AdminConfig{
			Addr:            ":8090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("config: discord.token is required")
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}

	return cfg, nil
}
