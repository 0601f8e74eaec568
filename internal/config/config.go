package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"shopassist/internal/webhooks"
)

const (
	// DefaultConfigPath is read when --config is not provided; it may be absent.
	DefaultConfigPath = "config.yml"
	defaultPort       = 8080
	defaultEnv        = "development"
)

// Config holds runtime startup configuration loaded from YAML and the environment.
type Config struct {
	Env       string          `yaml:"env"` // "development" | "production"
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the PostgreSQL store; an empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig enables the shared delivery lock and the pub/sub delivery feed.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RateLimitConfig is a per-merchant token bucket; RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts          int             `yaml:"max_attempts"`
	MaxFailureCount      int             `yaml:"max_failure_count"`
	RetryIntervals       []time.Duration `yaml:"retry_intervals"`
	RequestTimeout       time.Duration   `yaml:"request_timeout"`
	ResponseExcerptLimit int             `yaml:"response_excerpt_limit"`
	FailureCounting      string          `yaml:"failure_counting"`
	LockTTL              time.Duration   `yaml:"lock_ttl"`
	SweepInterval        time.Duration   `yaml:"sweep_interval"`
	SweepBatch           int             `yaml:"sweep_batch"`
	SweepConcurrency     int             `yaml:"sweep_concurrency"`
}

func Default() Config {
	eng := webhooks.DefaultConfig()
	return Config{
		Env: defaultEnv,
		Server: ServerConfig{
			Port:              defaultPort,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database:  DatabaseConfig{Migrate: true},
		Log:       LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Webhooks: WebhookConfig{
			MaxAttempts:          eng.MaxAttempts,
			MaxFailureCount:      eng.MaxFailureCount,
			RetryIntervals:       append([]time.Duration(nil), eng.Retry.Intervals...),
			RequestTimeout:       webhooks.DefaultRequestTimeout,
			ResponseExcerptLimit: webhooks.DefaultExcerptLimit,
			FailureCounting:      string(eng.FailureCounting),
			LockTTL:              eng.LockTTL,
			SweepInterval:        30 * time.Second,
			SweepBatch:           eng.SweepBatch,
			SweepConcurrency:     eng.SweepConcurrency,
		},
	}
}

// Load reads path (DefaultConfigPath when empty) over the defaults, applies
// environment overrides and validates the result. A missing file is only an
// error when path was given explicitly.
func Load(path string) (*Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath
	}
	cfg := Default()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv layers the deployment environment variables over the file.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = n
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DB_MIGRATE %q: %w", v, err)
		}
		cfg.Database.Migrate = b
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_RPS %q: %w", v, err)
		}
		cfg.RateLimit.RPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_BURST %q: %w", v, err)
		}
		cfg.RateLimit.Burst = n
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_MAX_ATTEMPTS %q: %w", v, err)
		}
		cfg.Webhooks.MaxAttempts = n
	}
	if v := os.Getenv("WEBHOOK_MAX_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_MAX_FAILURES %q: %w", v, err)
		}
		cfg.Webhooks.MaxFailureCount = n
	}
	if v := os.Getenv("WEBHOOK_FAILURE_COUNTING"); v != "" {
		cfg.Webhooks.FailureCounting = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("invalid env %q, expected development or production", c.Env)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d, expected 1-65535", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if c.RateLimit.RPS < 0 || (c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1) {
		return fmt.Errorf("invalid rate_limit: rps=%v burst=%d", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	w := c.Webhooks
	if w.MaxAttempts < 1 {
		return fmt.Errorf("invalid webhooks.max_attempts %d, expected >= 1", w.MaxAttempts)
	}
	if w.MaxFailureCount < 1 {
		return fmt.Errorf("invalid webhooks.max_failure_count %d, expected >= 1", w.MaxFailureCount)
	}
	if len(w.RetryIntervals) == 0 {
		return errors.New("webhooks.retry_intervals must not be empty")
	}
	for i, d := range w.RetryIntervals {
		if d <= 0 {
			return fmt.Errorf("invalid webhooks.retry_intervals[%d] %v, expected > 0", i, d)
		}
	}
	if w.RequestTimeout <= 0 {
		return fmt.Errorf("invalid webhooks.request_timeout %v", w.RequestTimeout)
	}
	if w.LockTTL <= w.RequestTimeout {
		return fmt.Errorf("webhooks.lock_ttl %v must exceed request_timeout %v", w.LockTTL, w.RequestTimeout)
	}
	if w.ResponseExcerptLimit < 1 {
		return fmt.Errorf("invalid webhooks.response_excerpt_limit %d", w.ResponseExcerptLimit)
	}
	if !webhooks.FailureCounting(w.FailureCounting).Valid() {
		return fmt.Errorf("invalid webhooks.failure_counting %q, expected delivery or attempt", w.FailureCounting)
	}
	if w.SweepInterval <= 0 || w.SweepBatch < 1 || w.SweepConcurrency < 1 {
		return fmt.Errorf("invalid webhooks sweep settings: interval=%v batch=%d concurrency=%d", w.SweepInterval, w.SweepBatch, w.SweepConcurrency)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + strconv.Itoa(c.Server.Port) }

// EngineConfig maps the webhook section onto the delivery engine's settings.
func (w WebhookConfig) EngineConfig() webhooks.Config {
	cfg := webhooks.DefaultConfig()
	cfg.MaxAttempts = w.MaxAttempts
	cfg.MaxFailureCount = w.MaxFailureCount
	cfg.Retry = webhooks.RetrySchedule{Intervals: append([]time.Duration(nil), w.RetryIntervals...)}
	cfg.FailureCounting = webhooks.FailureCounting(w.FailureCounting)
	cfg.LockTTL = w.LockTTL
	cfg.SweepBatch = w.SweepBatch
	cfg.SweepConcurrency = w.SweepConcurrency
	return cfg
}
