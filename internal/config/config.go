// Package config loads Circadia daemon configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all daemon configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Research  ResearchConfig
	Search    SearchConfig
}

// ServerConfig holds admin API settings
type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig holds job generation and dispatch settings
type SchedulerConfig struct {
	DispatchInterval   time.Duration
	GenerationInterval time.Duration
	MaxConcurrentUsers int
	// JobTimeout bounds a single job's handler. Zero disables it.
	JobTimeout   time.Duration
	ActiveWithin time.Duration
}

// ResearchConfig holds research runner settings
type ResearchConfig struct {
	Enabled    bool
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
}

// SearchConfig holds the search backend and retry settings
type SearchConfig struct {
	BaseURL        string
	APIKey         string
	ShallowTimeout time.Duration
	DeepTimeout    time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	Multiplier     float64
}

// DefaultDBPath returns ~/.circadia/circadia.db.
func DefaultDBPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".circadia", "circadia.db")
}

// Load reads an optional .env file, then environment variables with defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			ListenAddr:      getEnv("CIRCADIA_LISTEN", "127.0.0.1:7477"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("CIRCADIA_DB", DefaultDBPath()),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Scheduler: SchedulerConfig{
			DispatchInterval:   getDurationEnv("DISPATCH_INTERVAL", 60*time.Second),
			GenerationInterval: getDurationEnv("GENERATION_INTERVAL", 24*time.Hour),
			MaxConcurrentUsers: getIntEnv("MAX_CONCURRENT_USERS", 10),
			JobTimeout:         getDurationEnv("JOB_TIMEOUT", 0),
			ActiveWithin:       getDurationEnv("ACTIVE_WITHIN", 7*24*time.Hour),
		},
		Research: ResearchConfig{
			Enabled:    getBoolEnv("RESEARCH_ENABLED", true),
			Interval:   getDurationEnv("RESEARCH_INTERVAL", 5*time.Minute),
			BatchSize:  getIntEnv("RESEARCH_BATCH_SIZE", 5),
			StaleAfter: getDurationEnv("RESEARCH_STALE_AFTER", 10*time.Minute),
		},
		Search: SearchConfig{
			BaseURL:        getEnv("SEARCH_BASE_URL", "http://127.0.0.1:8088"),
			APIKey:         getEnv("SEARCH_API_KEY", ""),
			ShallowTimeout: getDurationEnv("SEARCH_SHALLOW_TIMEOUT", 45*time.Second),
			DeepTimeout:    getDurationEnv("SEARCH_DEEP_TIMEOUT", 60*time.Second),
			MaxRetries:     getIntEnv("SEARCH_MAX_RETRIES", 3),
			BaseBackoff:    getDurationEnv("SEARCH_BASE_BACKOFF", 2*time.Second),
			Multiplier:     getFloatEnv("SEARCH_BACKOFF_MULTIPLIER", 2),
		},
	}, nil
}

// Validate checks that all configuration values are usable.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("CIRCADIA_LISTEN is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("CIRCADIA_DB is required"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got '%s'", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got '%s'", c.Log.Format))
	}

	if c.Scheduler.DispatchInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL must be positive"))
	}
	if c.Scheduler.GenerationInterval <= 0 {
		errs = append(errs, errors.New("GENERATION_INTERVAL must be positive"))
	}
	if c.Scheduler.MaxConcurrentUsers <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_USERS must be positive"))
	}
	if c.Scheduler.JobTimeout < 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT must not be negative"))
	}
	if c.Scheduler.ActiveWithin <= 0 {
		errs = append(errs, errors.New("ACTIVE_WITHIN must be positive"))
	}

	if c.Research.Enabled {
		if c.Research.Interval <= 0 {
			errs = append(errs, errors.New("RESEARCH_INTERVAL must be positive"))
		}
		if c.Research.BatchSize <= 0 {
			errs = append(errs, errors.New("RESEARCH_BATCH_SIZE must be positive"))
		}
		if c.Research.StaleAfter <= 0 {
			errs = append(errs, errors.New("RESEARCH_STALE_AFTER must be positive"))
		}
		if c.Search.BaseURL == "" {
			errs = append(errs, errors.New("SEARCH_BASE_URL is required when RESEARCH_ENABLED is true"))
		}
	}

	if c.Search.ShallowTimeout <= 0 || c.Search.DeepTimeout <= 0 {
		errs = append(errs, errors.New("SEARCH_SHALLOW_TIMEOUT and SEARCH_DEEP_TIMEOUT must be positive"))
	}
	if c.Search.MaxRetries < 1 {
		errs = append(errs, errors.New("SEARCH_MAX_RETRIES must be at least 1"))
	}
	if c.Search.BaseBackoff < 0 {
		errs = append(errs, errors.New("SEARCH_BASE_BACKOFF must not be negative"))
	}
	if c.Search.Multiplier < 1 {
		errs = append(errs, errors.New("SEARCH_BACKOFF_MULTIPLIER must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
