package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/mycelian/mycelian-companion/internal/logger"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

const envPrefix = "COMPANION"

// Sleep strategies for choosing the global next wake interval.
const (
	SleepStrategyLast = "last"
	SleepStrategyMin  = "min"
)

// Config holds the configuration for the companion service.
// Environment variables are parsed from the COMPANION_ prefix.
type Config struct {
	// Build target selects high-level environment: local, cloud-dev, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"cloud-dev"`

	// Derived or override drivers
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	CacheDriver string `envconfig:"CACHE_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/companion.db"`
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// Memory store
	MemoryCacheTTLSeconds int    `envconfig:"MEMORY_CACHE_TTL_SECONDS" default:"300"`
	MemoryRetentionDays   int    `envconfig:"MEMORY_RETENTION_DAYS" default:"90"`
	EncryptionEnabled     bool   `envconfig:"ENCRYPTION_ENABLED" default:"false"`
	EncryptionKey         string `envconfig:"ENCRYPTION_KEY" default:""`

	// Text generation
	LLMBaseURL           string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	LLMModel             string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMFastModel         string `envconfig:"LLM_FAST_MODEL" default:"gpt-4o-mini"`
	LLMTimeoutSeconds    int    `envconfig:"LLM_TIMEOUT_SECONDS" default:"60"`
	LLMMaxRetries        int    `envconfig:"LLM_MAX_RETRIES" default:"0"` // failed calls wait for the next cycle
	LLMRequestsPerMinute int    `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"30"`

	// Autonomous scheduler
	SchedulerEnabled           bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerMinSleepHours     int    `envconfig:"SCHEDULER_MIN_SLEEP_HOURS" default:"1"`
	SchedulerMaxSleepHours     int    `envconfig:"SCHEDULER_MAX_SLEEP_HOURS" default:"12"`
	SchedulerDefaultSleepHours int    `envconfig:"SCHEDULER_DEFAULT_SLEEP_HOURS" default:"4"`
	SchedulerSleepStrategy     string `envconfig:"SCHEDULER_SLEEP_STRATEGY" default:"last"`

	BriefingEnabled bool `envconfig:"BRIEFING_ENABLED" default:"true"`
	BriefingHour    int  `envconfig:"BRIEFING_HOUR" default:"7"`

	SweepCron string `envconfig:"SWEEP_CRON" default:"0 3 * * *"`

	DispatchWebhookURL string `envconfig:"DISPATCH_WEBHOOK_URL" default:""`
	DefaultTimezone    string `envconfig:"DEFAULT_TIMEZONE" default:"UTC"`

	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver and CacheDriver when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB, defaultCache string

	switch c.BuildTarget {
	case "cloud-dev", "cloud":
		defaultDB, defaultCache = "postgres", "redis"
	case "local":
		defaultDB, defaultCache = "sqlite", "memory"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}
	if c.CacheDriver == "" || c.CacheDriver == "auto" {
		c.CacheDriver = defaultCache
	}

	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	allowedCache := map[string]bool{"redis": true, "memory": true}
	if !allowedCache[c.CacheDriver] {
		return fmt.Errorf("unsupported CACHE_DRIVER: %s", c.CacheDriver)
	}
	return nil
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.EncryptionEnabled {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}
	if c.SchedulerMinSleepHours < 1 || c.SchedulerMinSleepHours > c.SchedulerMaxSleepHours {
		return fmt.Errorf("invalid sleep bounds [%d,%d]", c.SchedulerMinSleepHours, c.SchedulerMaxSleepHours)
	}
	if c.SchedulerDefaultSleepHours < c.SchedulerMinSleepHours || c.SchedulerDefaultSleepHours > c.SchedulerMaxSleepHours {
		return fmt.Errorf("default sleep hours %d outside [%d,%d]",
			c.SchedulerDefaultSleepHours, c.SchedulerMinSleepHours, c.SchedulerMaxSleepHours)
	}
	switch c.SchedulerSleepStrategy {
	case SleepStrategyLast, SleepStrategyMin:
	default:
		return fmt.Errorf("unsupported SCHEDULER_SLEEP_STRATEGY: %s", c.SchedulerSleepStrategy)
	}
	if c.BriefingHour < 0 || c.BriefingHour > 23 {
		return fmt.Errorf("BRIEFING_HOUR must be within [0,23], got %d", c.BriefingHour)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

// EncryptionKeyBytes decodes the 32-byte hex master key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// New creates a new Config from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
// Example: COMPANION_HTTP_PORT, COMPANION_LLM_MODEL
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("cache_driver", cfg.CacheDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("llm_model", cfg.LLMModel).
		Str("llm_fast_model", cfg.LLMFastModel).
		Bool("encryption", cfg.EncryptionEnabled).
		Bool("scheduler", cfg.SchedulerEnabled).
		Str("sleep_strategy", cfg.SchedulerSleepStrategy).
		Str("sweep_cron", cfg.SweepCron).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Bool("webhook_present", cfg.DispatchWebhookURL != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		BuildTarget: "local",
		DBDriver:    "sqlite",
		CacheDriver: "memory",
		Environment: EnvTesting,
		LogLevel:    "debug",
		HTTPPort:    8080,
		SQLitePath:  ":memory:",

		MemoryCacheTTLSeconds: 300,
		MemoryRetentionDays:   90,

		LLMBaseURL:           "http://localhost:11434/v1",
		LLMModel:             "test-model",
		LLMFastModel:         "test-model",
		LLMTimeoutSeconds:    5,
		LLMRequestsPerMinute: 600,

		SchedulerEnabled:           false,
		SchedulerMinSleepHours:     1,
		SchedulerMaxSleepHours:     12,
		SchedulerDefaultSleepHours: 4,
		SchedulerSleepStrategy:     SleepStrategyLast,

		BriefingEnabled: true,
		BriefingHour:    7,
		SweepCron:       "0 3 * * *",
		DefaultTimezone: "UTC",

		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) MemoryCacheTTL() time.Duration {
	return time.Duration(c.MemoryCacheTTLSeconds) * time.Second
}

func (c *Config) MemoryRetention() time.Duration {
	return time.Duration(c.MemoryRetentionDays) * 24 * time.Hour
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) HealthProbeTimeout() time.Duration {
	return time.Duration(c.HealthProbeTimeoutSeconds) * time.Second
}
