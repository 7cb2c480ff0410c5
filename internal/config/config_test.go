package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBaseConfig() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: "127.0.0.1:7477", ShutdownTimeout: 30 * time.Second},
		Database: DatabaseConfig{Path: "/tmp/circadia.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			DispatchInterval:   time.Minute,
			GenerationInterval: 24 * time.Hour,
			MaxConcurrentUsers: 10,
			ActiveWithin:       7 * 24 * time.Hour,
		},
		Research: ResearchConfig{
			Enabled:    true,
			Interval:   5 * time.Minute,
			BatchSize:  5,
			StaleAfter: 10 * time.Minute,
		},
		Search: SearchConfig{
			BaseURL:        "http://localhost:8088",
			ShallowTimeout: 45 * time.Second,
			DeepTimeout:    60 * time.Second,
			MaxRetries:     3,
			BaseBackoff:    2 * time.Second,
			Multiplier:     2,
		},
	}
}

// chdir moves into dir for the duration of the test so Load sees no stray .env.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	if err := validBaseConfig().Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
	if !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("expected error to mention LOG_LEVEL, got: %v", err)
	}
}

func TestConfig_Validate_SearchURLOnlyWhenResearchEnabled(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Search.BaseURL = ""

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SEARCH_BASE_URL") {
		t.Errorf("expected SEARCH_BASE_URL error, got: %v", err)
	}

	cfg.Research.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error with research disabled, got: %v", err)
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Scheduler.DispatchInterval = 0
	cfg.Scheduler.MaxConcurrentUsers = 0
	cfg.Scheduler.JobTimeout = -time.Second
	cfg.Search.MaxRetries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"DISPATCH_INTERVAL", "MAX_CONCURRENT_USERS", "JOB_TIMEOUT", "SEARCH_MAX_RETRIES"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.DispatchInterval != 60*time.Second {
		t.Errorf("DispatchInterval = %v, want 60s", cfg.Scheduler.DispatchInterval)
	}
	if cfg.Scheduler.JobTimeout != 0 {
		t.Errorf("JobTimeout = %v, want disabled", cfg.Scheduler.JobTimeout)
	}
	if cfg.Search.MaxRetries != 3 || cfg.Search.BaseBackoff != 2*time.Second || cfg.Search.Multiplier != 2 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Search)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DISPATCH_INTERVAL", "15s")
	t.Setenv("JOB_TIMEOUT", "10m")
	t.Setenv("RESEARCH_BATCH_SIZE", "12")
	t.Setenv("RESEARCH_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "TEXT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.DispatchInterval != 15*time.Second {
		t.Errorf("DispatchInterval = %v", cfg.Scheduler.DispatchInterval)
	}
	if cfg.Scheduler.JobTimeout != 10*time.Minute {
		t.Errorf("JobTimeout = %v", cfg.Scheduler.JobTimeout)
	}
	if cfg.Research.BatchSize != 12 || cfg.Research.Enabled {
		t.Errorf("unexpected research config: %+v", cfg.Research)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SEARCH_API_KEY=from-dotenv\nMAX_CONCURRENT_USERS=4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already set.
	t.Setenv("SEARCH_API_KEY", "")
	os.Unsetenv("SEARCH_API_KEY")
	t.Setenv("MAX_CONCURRENT_USERS", "")
	os.Unsetenv("MAX_CONCURRENT_USERS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Search.APIKey != "from-dotenv" {
		t.Errorf("APIKey = %q", cfg.Search.APIKey)
	}
	if cfg.Scheduler.MaxConcurrentUsers != 4 {
		t.Errorf("MaxConcurrentUsers = %d", cfg.Scheduler.MaxConcurrentUsers)
	}
}
