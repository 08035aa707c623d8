package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Scraper.MinCompetitorDelay != 30*time.Second {
		t.Errorf("Expected default min competitor delay to be 30s, got %v", config.Scraper.MinCompetitorDelay)
	}
	if config.Scraper.MaxCompetitorDelay != 60*time.Second {
		t.Errorf("Expected default max competitor delay to be 60s, got %v", config.Scraper.MaxCompetitorDelay)
	}
	if config.Scraper.MaxRetries != 3 {
		t.Errorf("Expected default max retries to be 3, got %d", config.Scraper.MaxRetries)
	}
	if !config.Scraper.Headless {
		t.Error("Expected headless to default to true")
	}
	if config.Database.Path != "data/adwatch.db" {
		t.Errorf("Expected default database path to be data/adwatch.db, got %s", config.Database.Path)
	}
	if config.Media.ConcurrentDownloads != 3 {
		t.Errorf("Expected default concurrent downloads to be 3, got %d", config.Media.ConcurrentDownloads)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("MIN_COMPETITOR_DELAY", "10")
	os.Setenv("MAX_COMPETITOR_DELAY", "20")
	os.Setenv("MIN_SCROLL_DELAY", "1")
	os.Setenv("MAX_SCROLL_DELAY", "3")
	os.Setenv("MAX_RETRIES", "5")
	os.Setenv("BROWSER_TIMEOUT", "30000")
	os.Setenv("HEADLESS", "false")
	os.Setenv("MEDIA_BASE_PATH", "/tmp/test-media")
	os.Setenv("DATABASE_PATH", "/tmp/test.db")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		for _, key := range []string{
			"MIN_COMPETITOR_DELAY", "MAX_COMPETITOR_DELAY", "MIN_SCROLL_DELAY",
			"MAX_SCROLL_DELAY", "MAX_RETRIES", "BROWSER_TIMEOUT", "HEADLESS",
			"MEDIA_BASE_PATH", "DATABASE_PATH", "LOG_LEVEL",
		} {
			os.Unsetenv(key)
		}
	}()

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Scraper.MinCompetitorDelay != 10*time.Second {
		t.Errorf("Expected min competitor delay 10s, got %v", config.Scraper.MinCompetitorDelay)
	}
	if config.Scraper.MaxCompetitorDelay != 20*time.Second {
		t.Errorf("Expected max competitor delay 20s, got %v", config.Scraper.MaxCompetitorDelay)
	}
	if config.Scraper.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", config.Scraper.MaxRetries)
	}
	if config.Scraper.BrowserTimeout != 30*time.Second {
		t.Errorf("Expected browser timeout 30s (from 30000 ms), got %v", config.Scraper.BrowserTimeout)
	}
	if config.Scraper.Headless {
		t.Error("Expected headless to be false")
	}
	if config.Media.BasePath != "/tmp/test-media" {
		t.Errorf("Expected media base path /tmp/test-media, got %s", config.Media.BasePath)
	}
	if config.Database.Path != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", config.Database.Path)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromEnvIgnoresGarbage(t *testing.T) {
	os.Setenv("MIN_COMPETITOR_DELAY", "not-a-number")
	os.Setenv("MAX_RETRIES", "-2")
	defer func() {
		os.Unsetenv("MIN_COMPETITOR_DELAY")
		os.Unsetenv("MAX_RETRIES")
	}()

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}
	if config.Scraper.MinCompetitorDelay != 30*time.Second {
		t.Errorf("Garbage value should keep the default, got %v", config.Scraper.MinCompetitorDelay)
	}
	if config.Scraper.MaxRetries != 3 {
		t.Errorf("Negative retries should keep the default, got %d", config.Scraper.MaxRetries)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `scraper:
  min_competitor_delay: 15s
  max_competitor_delay: 45s
  max_retries: 2
  headless: false
media:
  base_path: /srv/media
database:
  path: /srv/adwatch.db
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	if config.Scraper.MinCompetitorDelay != 15*time.Second {
		t.Errorf("Expected min competitor delay 15s, got %v", config.Scraper.MinCompetitorDelay)
	}
	if config.Scraper.MaxRetries != 2 {
		t.Errorf("Expected max retries 2, got %d", config.Scraper.MaxRetries)
	}
	if config.Scraper.Headless {
		t.Error("Expected headless false from file")
	}
	if config.Media.BasePath != "/srv/media" {
		t.Errorf("Expected media base path /srv/media, got %s", config.Media.BasePath)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", config.Logging.Level)
	}
	// Values the file does not mention keep their defaults.
	if config.Scraper.MinScrollDelay != 2*time.Second {
		t.Errorf("Expected min scroll delay to stay 2s, got %v", config.Scraper.MinScrollDelay)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	config := DefaultConfig()
	if err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for a named but missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"inverted competitor bounds", func(c *Config) {
			c.Scraper.MinCompetitorDelay = 60 * time.Second
			c.Scraper.MaxCompetitorDelay = 30 * time.Second
		}, true},
		{"inverted scroll bounds", func(c *Config) {
			c.Scraper.MinScrollDelay = 5 * time.Second
			c.Scraper.MaxScrollDelay = 2 * time.Second
		}, true},
		{"negative retries", func(c *Config) { c.Scraper.MaxRetries = -1 }, true},
		{"zero retries", func(c *Config) { c.Scraper.MaxRetries = 0 }, true},
		{"zero browser timeout", func(c *Config) { c.Scraper.BrowserTimeout = 0 }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"missing media path", func(c *Config) { c.Media.BasePath = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"equal bounds are fine", func(c *Config) {
			c.Scraper.MinCompetitorDelay = 30 * time.Second
			c.Scraper.MaxCompetitorDelay = 30 * time.Second
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no validation error, got %v", err)
			}
		})
	}
}

func TestMergeFlags(t *testing.T) {
	config := DefaultConfig()
	config.mergeFlags(map[string]interface{}{
		"max-retries": 7,
		"headless":    false,
		"media-dir":   "/flag/media",
		"database":    "/flag/db.sqlite",
		"log-level":   "error",
	})

	if config.Scraper.MaxRetries != 7 {
		t.Errorf("Expected max retries 7, got %d", config.Scraper.MaxRetries)
	}
	if config.Scraper.Headless {
		t.Error("Expected headless false from flag")
	}
	if config.Media.BasePath != "/flag/media" {
		t.Errorf("Expected media path /flag/media, got %s", config.Media.BasePath)
	}
	if config.Database.Path != "/flag/db.sqlite" {
		t.Errorf("Expected database path /flag/db.sqlite, got %s", config.Database.Path)
	}
	if config.Logging.Level != "error" {
		t.Errorf("Expected log level error, got %s", config.Logging.Level)
	}
}
