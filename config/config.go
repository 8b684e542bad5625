// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apimeter/apimeter/adapters/notify"
	"github.com/apimeter/apimeter/domain/alert"
	"github.com/apimeter/apimeter/domain/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Usage     UsageConfig     `yaml:"usage"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
	Header    string `yaml:"header"` // Header name for API key (default: X-API-Key)
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Scopes  []ScopeConfig `yaml:"scopes"`
}

// ScopeConfig configures one rate limit scope.
type ScopeConfig struct {
	Name   string        `yaml:"name"`
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	// PathPrefixes restricts the scope to an endpoint class. Empty means
	// every request.
	PathPrefixes []string `yaml:"path_prefixes,omitempty"`
}

// UsageConfig configures usage record batching.
type UsageConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AlertConfig configures alert evaluation and delivery.
type AlertConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Sinks      []notify.Config `yaml:"sinks"`
}

// ThresholdConfig configures alert thresholds. Zero values fall back to the
// built-in defaults.
type ThresholdConfig struct {
	ResponseTimeWarning   float64 `yaml:"response_time_warning"`  // seconds
	ResponseTimeCritical  float64 `yaml:"response_time_critical"` // seconds
	ErrorRateWarning      float64 `yaml:"error_rate_warning"`     // fraction
	ErrorRateCritical     float64 `yaml:"error_rate_critical"`    // fraction
	UsageSpikeWarning     float64 `yaml:"usage_spike_warning"`    // multiple of daily average
	UsageSpikeCritical    float64 `yaml:"usage_spike_critical"`   // multiple of daily average
	UnauthorizedThreshold int64   `yaml:"unauthorized_threshold"` // failed requests per hour
}

// RetentionConfig configures data retention.
type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"` // cron expression, empty disables
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /metrics endpoint
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	APIMETER_DATABASE_DSN      - Database path (default: apimeter.db)
//	APIMETER_SERVER_HOST       - Server host (default: 0.0.0.0)
//	APIMETER_SERVER_PORT       - Server port (default: 8080)
//	APIMETER_AUTH_KEY_PREFIX   - API key prefix (default: am_)
//	APIMETER_AUTH_HEADER       - API key header (default: X-API-Key)
//	APIMETER_RATELIMIT_ENABLED - Enable rate limiting (default: true)
//	APIMETER_RETENTION_DAYS    - Retention period in days (default: 90)
//	APIMETER_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	APIMETER_LOG_FORMAT        - Log format: json or console (default: json)
//	APIMETER_METRICS_ENABLED   - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables when the file does not exist.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// Limits converts the configured scopes into domain limits.
func (c *Config) Limits() []ratelimit.Limit {
	if !c.RateLimit.Enabled {
		return nil
	}
	limits := make([]ratelimit.Limit, 0, len(c.RateLimit.Scopes))
	for _, s := range c.RateLimit.Scopes {
		limits = append(limits, ratelimit.Limit{
			Scope:        ratelimit.Scope(s.Name),
			Limit:        s.Limit,
			Window:       s.Window,
			PathPrefixes: s.PathPrefixes,
		})
	}
	return limits
}

// Thresholds converts the configured thresholds into domain thresholds,
// filling zero values from the defaults.
func (c *Config) Thresholds() alert.Thresholds {
	th := alert.DefaultThresholds()
	t := c.Alerts.Thresholds
	if t.ResponseTimeWarning > 0 {
		th.ResponseTimeWarning = t.ResponseTimeWarning
	}
	if t.ResponseTimeCritical > 0 {
		th.ResponseTimeCritical = t.ResponseTimeCritical
	}
	if t.ErrorRateWarning > 0 {
		th.ErrorRateWarning = t.ErrorRateWarning
	}
	if t.ErrorRateCritical > 0 {
		th.ErrorRateCritical = t.ErrorRateCritical
	}
	if t.UsageSpikeWarning > 0 {
		th.UsageSpikeWarning = t.UsageSpikeWarning
	}
	if t.UsageSpikeCritical > 0 {
		th.UsageSpikeCritical = t.UsageSpikeCritical
	}
	if t.UnauthorizedThreshold > 0 {
		th.UnauthorizedMin = t.UnauthorizedThreshold
	}
	return th
}

// applyEnvOverrides applies APIMETER_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APIMETER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("APIMETER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APIMETER_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("APIMETER_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("APIMETER_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("APIMETER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("APIMETER_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}
	if v := os.Getenv("APIMETER_AUTH_HEADER"); v != "" {
		cfg.Auth.Header = v
	}

	if v := os.Getenv("APIMETER_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}

	if v := os.Getenv("APIMETER_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = n
		}
	}
	if v := os.Getenv("APIMETER_RETENTION_SCHEDULE"); v != "" {
		cfg.Retention.Schedule = v
	}

	if v := os.Getenv("APIMETER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APIMETER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("APIMETER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "apimeter.db"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "am_"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}

	// Default scopes: overall minute/hour/day caps plus a tight cap on
	// authentication endpoints.
	if len(cfg.RateLimit.Scopes) == 0 {
		cfg.RateLimit.Scopes = []ScopeConfig{
			{Name: "minute", Limit: 100, Window: time.Minute},
			{Name: "hour", Limit: 1000, Window: time.Hour},
			{Name: "day", Limit: 10000, Window: 24 * time.Hour},
			{Name: "auth", Limit: 10, Window: time.Hour, PathPrefixes: []string{"/api/auth"}},
		}
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}

	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	seen := map[string]bool{}
	for i, s := range cfg.RateLimit.Scopes {
		if s.Name == "" {
			return fmt.Errorf("rate_limit.scopes[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("rate_limit.scopes[%d]: duplicate scope %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Limit <= 0 {
			return fmt.Errorf("rate_limit.scopes[%d].limit must be positive", i)
		}
		if s.Window <= 0 {
			return fmt.Errorf("rate_limit.scopes[%d].window must be positive", i)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative")
	}

	return nil
}
