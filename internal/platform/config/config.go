// Package config loads trialstore settings: defaults, then an optional YAML
// file, then TRIALSTORE_* (and standard OTEL_*) environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/trialstore/internal/platform/logger"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendSQL    = "sql"
	BackendBadger = "badger"
)

type Config struct {
	Backend string        `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`
	Mongo   MongoConfig   `yaml:"mongo"`
	SQL     SQLConfig     `yaml:"sql"`
	Badger  BadgerConfig  `yaml:"badger"`
	Redis   RedisConfig   `yaml:"redis"`
	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type SQLConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// RedisConfig enables the lookup cache when Addr is set.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type EngineConfig struct {
	OpTimeoutMS    int `yaml:"op_timeout_ms"`
	RetryAttempts  int `yaml:"retry_attempts"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9464".
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() Config {
	return Config{
		Backend: BackendMemory,
		Log:     LogConfig{Mode: "dev", Level: "info"},
		Mongo:   MongoConfig{Database: "trialstore"},
		SQL:     SQLConfig{Driver: "postgres"},
		Badger:  BadgerConfig{SyncWrites: true},
		Redis:   RedisConfig{TTLSeconds: 600},
		Engine: EngineConfig{
			OpTimeoutMS:    10000,
			RetryAttempts:  16,
			RetryBackoffMS: 2,
		},
		Tracing: TracingConfig{SampleRatio: 0.1},
	}
}

// Load reads path (skipped when empty), applies the environment and
// validates the result.
func Load(path string, log *logger.Logger) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(log)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(log *logger.Logger) {
	c.Backend = GetEnv("TRIALSTORE_BACKEND", c.Backend, log)
	c.Log.Mode = GetEnv("TRIALSTORE_LOG_MODE", c.Log.Mode, log)
	c.Log.Level = GetEnv("TRIALSTORE_LOG_LEVEL", c.Log.Level, log)
	c.Mongo.URI = GetEnv("TRIALSTORE_MONGO_URI", c.Mongo.URI, log)
	c.Mongo.Database = GetEnv("TRIALSTORE_MONGO_DB", c.Mongo.Database, log)
	c.SQL.Driver = GetEnv("TRIALSTORE_SQL_DRIVER", c.SQL.Driver, log)
	c.SQL.DSN = GetEnv("TRIALSTORE_SQL_DSN", c.SQL.DSN, log)
	c.Badger.Path = GetEnv("TRIALSTORE_BADGER_PATH", c.Badger.Path, log)
	c.Redis.Addr = GetEnv("TRIALSTORE_REDIS_ADDR", c.Redis.Addr, log)
	c.Redis.Password = GetEnv("TRIALSTORE_REDIS_PASSWORD", c.Redis.Password, log)
	c.Engine.OpTimeoutMS = GetEnvAsInt("TRIALSTORE_OP_TIMEOUT_MS", c.Engine.OpTimeoutMS, log)
	c.Engine.RetryAttempts = GetEnvAsInt("TRIALSTORE_RETRY_ATTEMPTS", c.Engine.RetryAttempts, log)
	c.Metrics.Addr = GetEnv("TRIALSTORE_METRICS_ADDR", c.Metrics.Addr, log)
	c.Tracing.Enabled = GetEnvAsBool("OTEL_ENABLED", c.Tracing.Enabled, log)
	c.Tracing.Endpoint = GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint, log)
	c.Tracing.Headers = GetEnv("OTEL_EXPORTER_OTLP_HEADERS", c.Tracing.Headers, log)
	c.Tracing.Insecure = GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure, log)
	c.Tracing.SampleRatio = GetEnvAsFloat("OTEL_SAMPLER_RATIO", c.Tracing.SampleRatio, log)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo backend requires mongo.uri"))
		}
		if c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo backend requires mongo.database"))
		}
	case BackendSQL:
		switch strings.ToLower(c.SQL.Driver) {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("unknown sql.driver %q", c.SQL.Driver))
		}
		if c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql backend requires sql.dsn"))
		}
	case BackendBadger:
		if c.Badger.Path == "" && !c.Badger.InMemory {
			errs = append(errs, errors.New("badger backend requires badger.path or badger.in_memory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Engine.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("engine.retry_attempts must be >= 0, got %d", c.Engine.RetryAttempts))
	}
	if c.Engine.OpTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("engine.op_timeout_ms must be >= 0, got %d", c.Engine.OpTimeoutMS))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0,1], got %v", c.Tracing.SampleRatio))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) OpTimeout() time.Duration {
	return time.Duration(c.Engine.OpTimeoutMS) * time.Millisecond
}

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffMS) * time.Millisecond
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}
