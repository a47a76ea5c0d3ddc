// Package config loads the server configuration from a YAML file with
// MENZ_* environment overrides. The loaded Config is an immutable snapshot:
// nothing in the hot path re-reads or re-resolves it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultPath is where a default configuration is written on first run,
// mirroring the upstream server's behavior.
const DefaultPath = "config/fugumt_translator.yaml"

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Translation TranslationConfig `mapstructure:"translation"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the listener and connection cap.
type ServerConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	MaxConnections int    `mapstructure:"max_connections" validate:"gte=1"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TranslationConfig configures the translation backend and decoding
// parameters. Model/device selection is resolved once at startup.
type TranslationConfig struct {
	Backend     string  `mapstructure:"backend" validate:"oneof=marian openai"`
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	ModelEnJa   string  `mapstructure:"model_en_ja"`
	ModelJaEn   string  `mapstructure:"model_ja_en"`
	Device      string  `mapstructure:"device" validate:"oneof=auto cpu cuda mps"`
	MaxLength   int     `mapstructure:"max_length" validate:"gte=1"`
	NumBeams    int     `mapstructure:"num_beams" validate:"gte=1"`
	Temperature float64 `mapstructure:"temperature" validate:"gt=0"`
	UseCache    bool    `mapstructure:"use_cache"`
}

// PerformanceConfig bounds concurrency, queueing, and per-request deadlines.
type PerformanceConfig struct {
	BatchSize      int     `mapstructure:"batch_size" validate:"gte=1"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds" validate:"gt=0"`
	WorkerThreads  int     `mapstructure:"worker_threads" validate:"gte=1"`
	QueueCeiling   int     `mapstructure:"queue_ceiling" validate:"gte=1"`
}

// Timeout returns the per-request deadline budget.
func (p PerformanceConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// CacheConfig selects the translation-result cache backend.
type CacheConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory redis"`
	Capacity      int    `mapstructure:"capacity" validate:"gte=1"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 55002)
	v.SetDefault("server.max_connections", 50)

	v.SetDefault("translation.backend", "marian")
	v.SetDefault("translation.endpoint", "http://127.0.0.1:55010")
	v.SetDefault("translation.model_en_ja", "staka/fugumt-en-ja")
	v.SetDefault("translation.model_ja_en", "staka/fugumt-ja-en")
	v.SetDefault("translation.device", "auto")
	v.SetDefault("translation.max_length", 512)
	v.SetDefault("translation.num_beams", 4)
	v.SetDefault("translation.temperature", 1.0)
	v.SetDefault("translation.use_cache", true)

	v.SetDefault("performance.batch_size", 1)
	v.SetDefault("performance.timeout_seconds", 30.0)
	v.SetDefault("performance.worker_threads", 4)
	v.SetDefault("performance.queue_ceiling", 256)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/fugumt_translator.log")
}

// Load reads configuration from path (DefaultPath when empty), applies
// MENZ_* environment overrides, validates, and returns the snapshot. A
// missing file at the default path is created with defaults; a missing file
// at an explicitly given path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("MENZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := writeDefaults(v, path); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// writeDefaults creates the default config file so operators have something
// to edit, as the upstream server does on first run.
func writeDefaults(v *viper.Viper, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
