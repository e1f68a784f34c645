// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "HSDL"
	appName      = "hsdl"

	// DefaultAPIBaseURL is the production Headspace API.
	DefaultAPIBaseURL = "https://api.prod.headspace.com"
)

// Config holds all application configuration.
type Config struct {
	// OutputDir is the download root. Empty means the current directory.
	OutputDir string `envconfig:"HSDL_OUTPUT_DIR" yaml:"output_dir"`
	// Durations are the wanted session lengths in minutes.
	Durations []int `envconfig:"HSDL_DURATIONS" yaml:"durations"`
	// Language is sent as HS-LanguagePreference.
	Language string `envconfig:"HSDL_LANGUAGE" yaml:"language"`
	// TokenFile holds the bearer token written by `hsdl login`.
	TokenFile string `envconfig:"HSDL_TOKEN_FILE" yaml:"token_file"`
	// SlugNames turns pack directory names into ASCII slugs.
	SlugNames bool `envconfig:"HSDL_SLUG_NAMES" yaml:"slug_names"`

	// Logging
	LogFile  string `envconfig:"HSDL_LOG_FILE" yaml:"log_file"`
	LogLevel string `envconfig:"HSDL_LOG_LEVEL" yaml:"log_level"`

	// MetricsFile receives Prometheus counters after each run. Empty disables it.
	MetricsFile string `envconfig:"HSDL_METRICS_FILE" yaml:"metrics_file"`

	// API retry settings
	MaxRetries        int           `envconfig:"HSDL_MAX_RETRIES" yaml:"max_retries"`
	InitialBackoff    time.Duration `envconfig:"HSDL_INITIAL_BACKOFF" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `envconfig:"HSDL_MAX_BACKOFF" yaml:"max_backoff"`
	BackoffMultiplier float64       `envconfig:"HSDL_BACKOFF_MULTIPLIER" yaml:"backoff_multiplier"`

	// HTTP settings
	RequestTimeout         time.Duration `envconfig:"HSDL_REQUEST_TIMEOUT" yaml:"request_timeout"`
	RequestsPerSecond      float64       `envconfig:"HSDL_REQUESTS_PER_SECOND" yaml:"requests_per_second"`
	MaxConsecutiveFailures int           `envconfig:"HSDL_MAX_CONSECUTIVE_FAILURES" yaml:"max_consecutive_failures"`
	UserAgent              string        `envconfig:"HSDL_USER_AGENT" yaml:"user_agent"`
	APIBaseURL             string        `envconfig:"HSDL_API_BASE_URL" yaml:"api_base_url"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Durations:              []int{15},
		Language:               "en-US",
		LogLevel:               "info",
		MaxRetries:             5,
		InitialBackoff:         1 * time.Second,
		MaxBackoff:             30 * time.Second,
		BackoffMultiplier:      2.0,
		RequestTimeout:         30 * time.Second,
		RequestsPerSecond:      2,
		MaxConsecutiveFailures: 10,
		APIBaseURL:             DefaultAPIBaseURL,
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.TokenFile = filepath.Join(dir, appName, "bearer_id")
		cfg.LogFile = filepath.Join(dir, appName, appName+".log")
	}
	return cfg
}

// Load loads configuration from defaults, a YAML file and environment
// variables. Priority: env vars > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Config file is optional
	if err := cfg.loadFromFile(configPaths()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, cfg); err != nil {
		return nil, fmt.Errorf("parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configPaths lists candidate config files. HSDL_CONFIG_FILE, when set, is
// the only candidate.
func configPaths() []string {
	if path := os.Getenv(envVarPrefix + "_CONFIG_FILE"); path != "" {
		return []string{path}
	}
	paths := []string{appName + ".yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appName, appName+".yaml"))
	}
	return paths
}

// loadFromFile merges the first readable file in paths into c.
func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := yaml.UnmarshalStrict(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if len(c.Durations) == 0 {
		return fmt.Errorf("durations must not be empty")
	}
	for _, d := range c.Durations {
		if d <= 0 {
			return fmt.Errorf("durations must be positive, got %d", d)
		}
	}
	if c.TokenFile == "" {
		return fmt.Errorf("token_file must be set")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be non-negative")
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be positive")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url must be set")
	}
	return nil
}
