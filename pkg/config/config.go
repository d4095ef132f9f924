// Package config provides configuration loading for the collection engine:
// defaults, layered with an optional YAML file, overridden by environment
// variables with the TIDEWATCH_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration.
type Config struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	// HTTP ingest API
	HTTPPort int `yaml:"http_port"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, text

	// Self-tracing
	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingSampling float64 `yaml:"tracing_sampling"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`

	// Pipeline
	WindowInterval         time.Duration `yaml:"window_interval"`
	BufferCapacity         int           `yaml:"buffer_capacity"`
	BackpressurePolicy     string        `yaml:"backpressure_policy"` // reject, drop-oldest
	TraceTimeout           time.Duration `yaml:"trace_timeout"`
	AlertHysteresisWindows int           `yaml:"alert_hysteresis_windows"`
	SeriesMaxIdleWindows   int           `yaml:"series_max_idle_windows"`
	ShutdownGrace          time.Duration `yaml:"shutdown_grace"`

	// Dispatcher retry budget
	Retry RetryConfig `yaml:"retry_backoff"`

	// Alert rules file (YAML)
	RulesPath string `yaml:"rules_path"`

	Sinks      SinksConfig      `yaml:"sinks"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Redis      RedisConfig      `yaml:"redis"`
}

// RetryConfig bounds the dispatcher's retry budget.
type RetryConfig struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SinksConfig toggles the built-in sinks.
type SinksConfig struct {
	Console      bool           `yaml:"console"`
	FilePath     string         `yaml:"file_path"`
	HTTPEndpoint string         `yaml:"http_endpoint"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Influx       InfluxConfig   `yaml:"influx"`

	// AlertWebhook receives alert events in addition to the sinks.
	AlertWebhook string `yaml:"alert_webhook"`
}

// PostgresConfig configures the Postgres archive sink.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// InfluxConfig configures the InfluxDB metrics sink.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// DeadLetterConfig selects the dead-letter backend.
type DeadLetterConfig struct {
	Backend  string `yaml:"backend"` // log, file, redis
	FilePath string `yaml:"file_path"`
	RedisKey string `yaml:"redis_key"`
	MaxLen   int64  `yaml:"max_len"`
}

// RedisConfig configures the Redis connection used by the Redis dead-letter
// backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Environment: "development",
		Version:     "dev",

		HTTPPort:  8080,
		LogLevel:  "info",
		LogFormat: "json",

		TracingEnabled:  false,
		TracingSampling: 1.0,
		OTLPEndpoint:    "localhost:4317",

		WindowInterval:         10 * time.Second,
		BufferCapacity:         4096,
		BackpressurePolicy:     "reject",
		TraceTimeout:           30 * time.Second,
		AlertHysteresisWindows: 3,
		SeriesMaxIdleWindows:   3,
		ShutdownGrace:          10 * time.Second,

		Retry: RetryConfig{
			Base:        200 * time.Millisecond,
			Cap:         5 * time.Second,
			MaxAttempts: 5,
		},

		Sinks: SinksConfig{Console: true},
		DeadLetter: DeadLetterConfig{
			Backend:  "log",
			RedisKey: "tidewatch:dead-letter",
			MaxLen:   1000,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("TIDEWATCH_ENV", c.Environment)
	c.Version = getEnv("TIDEWATCH_VERSION", c.Version)
	c.HTTPPort = getEnvInt("TIDEWATCH_HTTP_PORT", c.HTTPPort)
	c.LogLevel = getEnv("TIDEWATCH_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("TIDEWATCH_LOG_FORMAT", c.LogFormat)

	c.TracingEnabled = getEnvBool("TIDEWATCH_TRACING_ENABLED", c.TracingEnabled)
	c.TracingSampling = getEnvFloat("TIDEWATCH_TRACING_SAMPLING", c.TracingSampling)
	c.OTLPEndpoint = getEnv("TIDEWATCH_OTLP_ENDPOINT", c.OTLPEndpoint)

	c.WindowInterval = getEnvDuration("TIDEWATCH_WINDOW_INTERVAL", c.WindowInterval)
	c.BufferCapacity = getEnvInt("TIDEWATCH_BUFFER_CAPACITY", c.BufferCapacity)
	c.BackpressurePolicy = getEnv("TIDEWATCH_BACKPRESSURE_POLICY", c.BackpressurePolicy)
	c.TraceTimeout = getEnvDuration("TIDEWATCH_TRACE_TIMEOUT", c.TraceTimeout)
	c.AlertHysteresisWindows = getEnvInt("TIDEWATCH_ALERT_HYSTERESIS_WINDOWS", c.AlertHysteresisWindows)
	c.SeriesMaxIdleWindows = getEnvInt("TIDEWATCH_SERIES_MAX_IDLE_WINDOWS", c.SeriesMaxIdleWindows)
	c.ShutdownGrace = getEnvDuration("TIDEWATCH_SHUTDOWN_GRACE", c.ShutdownGrace)

	c.Retry.Base = getEnvDuration("TIDEWATCH_RETRY_BASE", c.Retry.Base)
	c.Retry.Cap = getEnvDuration("TIDEWATCH_RETRY_CAP", c.Retry.Cap)
	c.Retry.MaxAttempts = getEnvInt("TIDEWATCH_RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)

	c.RulesPath = getEnv("TIDEWATCH_RULES_PATH", c.RulesPath)

	c.Sinks.Console = getEnvBool("TIDEWATCH_SINK_CONSOLE", c.Sinks.Console)
	c.Sinks.FilePath = getEnv("TIDEWATCH_SINK_FILE", c.Sinks.FilePath)
	c.Sinks.HTTPEndpoint = getEnv("TIDEWATCH_SINK_HTTP_ENDPOINT", c.Sinks.HTTPEndpoint)
	c.Sinks.AlertWebhook = getEnv("TIDEWATCH_ALERT_WEBHOOK", c.Sinks.AlertWebhook)

	c.Sinks.Postgres.Enabled = getEnvBool("TIDEWATCH_SINK_POSTGRES_ENABLED", c.Sinks.Postgres.Enabled)
	c.Sinks.Postgres.Host = getEnv("TIDEWATCH_DB_HOST", c.Sinks.Postgres.Host)
	c.Sinks.Postgres.Port = getEnvInt("TIDEWATCH_DB_PORT", c.Sinks.Postgres.Port)
	c.Sinks.Postgres.User = getEnv("TIDEWATCH_DB_USER", c.Sinks.Postgres.User)
	c.Sinks.Postgres.Password = getEnv("TIDEWATCH_DB_PASSWORD", c.Sinks.Postgres.Password)
	c.Sinks.Postgres.Database = getEnv("TIDEWATCH_DB_NAME", c.Sinks.Postgres.Database)
	c.Sinks.Postgres.SSLMode = getEnv("TIDEWATCH_DB_SSLMODE", c.Sinks.Postgres.SSLMode)

	c.Sinks.Influx.Enabled = getEnvBool("TIDEWATCH_SINK_INFLUX_ENABLED", c.Sinks.Influx.Enabled)
	c.Sinks.Influx.URL = getEnv("TIDEWATCH_INFLUX_URL", c.Sinks.Influx.URL)
	c.Sinks.Influx.Token = getEnv("TIDEWATCH_INFLUX_TOKEN", c.Sinks.Influx.Token)
	c.Sinks.Influx.Org = getEnv("TIDEWATCH_INFLUX_ORG", c.Sinks.Influx.Org)
	c.Sinks.Influx.Bucket = getEnv("TIDEWATCH_INFLUX_BUCKET", c.Sinks.Influx.Bucket)

	c.DeadLetter.Backend = getEnv("TIDEWATCH_DEAD_LETTER_BACKEND", c.DeadLetter.Backend)
	c.DeadLetter.FilePath = getEnv("TIDEWATCH_DEAD_LETTER_FILE", c.DeadLetter.FilePath)
	c.DeadLetter.RedisKey = getEnv("TIDEWATCH_DEAD_LETTER_REDIS_KEY", c.DeadLetter.RedisKey)

	c.Redis.Addr = getEnv("TIDEWATCH_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("TIDEWATCH_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("TIDEWATCH_REDIS_DB", c.Redis.DB)
}

// Validate checks option values that have a closed set or a lower bound.
func (c *Config) Validate() error {
	if c.BackpressurePolicy != "reject" && c.BackpressurePolicy != "drop-oldest" {
		return fmt.Errorf("backpressure_policy must be reject or drop-oldest, got %q", c.BackpressurePolicy)
	}
	if c.WindowInterval <= 0 {
		return fmt.Errorf("window_interval must be positive, got %v", c.WindowInterval)
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", c.BufferCapacity)
	}
	if c.TraceTimeout <= 0 {
		return fmt.Errorf("trace_timeout must be positive, got %v", c.TraceTimeout)
	}
	if c.AlertHysteresisWindows < 1 {
		return fmt.Errorf("alert_hysteresis_windows must be at least 1, got %d", c.AlertHysteresisWindows)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.DeadLetter.Backend {
	case "log", "file", "redis":
	default:
		return fmt.Errorf("dead_letter backend must be log, file or redis, got %q", c.DeadLetter.Backend)
	}
	if c.DeadLetter.Backend == "file" && c.DeadLetter.FilePath == "" {
		return fmt.Errorf("dead_letter file backend requires file_path")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string for the archive sink.
func (c *Config) DatabaseDSN() string {
	pg := c.Sinks.Postgres
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode,
	)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
