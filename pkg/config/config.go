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
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ad library tracker.
type Config struct {
	// Scraper pacing, retries and browser behavior
	Scraper ScraperConfig `yaml:"scraper" json:"scraper"`

	// Media download and storage settings
	Media MediaConfig `yaml:"media" json:"media"`

	// Database location
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScraperConfig holds fetch pacing and retry configuration. All delays are
// jittered at use time; the values here are interval bounds.
type ScraperConfig struct {
	MinCompetitorDelay time.Duration `yaml:"min_competitor_delay" json:"min_competitor_delay"`
	MaxCompetitorDelay time.Duration `yaml:"max_competitor_delay" json:"max_competitor_delay"`
	MinScrollDelay     time.Duration `yaml:"min_scroll_delay" json:"min_scroll_delay"`
	MaxScrollDelay     time.Duration `yaml:"max_scroll_delay" json:"max_scroll_delay"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	BrowserTimeout     time.Duration `yaml:"browser_timeout" json:"browser_timeout"`
	Headless           bool          `yaml:"headless" json:"headless"`
	ScreenshotDir      string        `yaml:"screenshot_dir" json:"screenshot_dir"`
}

// MediaConfig holds media artifact storage settings.
type MediaConfig struct {
	BasePath            string        `yaml:"base_path" json:"base_path"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scraper: ScraperConfig{
			MinCompetitorDelay: 30 * time.Second,
			MaxCompetitorDelay: 60 * time.Second,
			MinScrollDelay:     2 * time.Second,
			MaxScrollDelay:     5 * time.Second,
			MaxRetries:         3,
			RetryBaseDelay:     5 * time.Second,
			BrowserTimeout:     60 * time.Second,
			Headless:           true,
			ScreenshotDir:      "logs/screenshots",
		},
		Media: MediaConfig{
			BasePath:            "data/media",
			ConcurrentDownloads: 3,
			DownloadTimeout:     60 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/adwatch.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv overrides configuration from environment variables. Delay
// bounds are plain seconds; BROWSER_TIMEOUT is milliseconds, matching the
// convention of browser automation tooling.
func (c *Config) LoadFromEnv() error {
	if v, ok := envSeconds("MIN_COMPETITOR_DELAY"); ok {
		c.Scraper.MinCompetitorDelay = v
	}
	if v, ok := envSeconds("MAX_COMPETITOR_DELAY"); ok {
		c.Scraper.MaxCompetitorDelay = v
	}
	if v, ok := envSeconds("MIN_SCROLL_DELAY"); ok {
		c.Scraper.MinScrollDelay = v
	}
	if v, ok := envSeconds("MAX_SCROLL_DELAY"); ok {
		c.Scraper.MaxScrollDelay = v
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Scraper.MaxRetries = n
		}
	}
	if v := os.Getenv("BROWSER_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Scraper.BrowserTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		c.Scraper.Headless = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("MEDIA_BASE_PATH"); v != "" {
		c.Media.BasePath = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	return nil
}

func envSeconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // no config file is fine
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) findConfigFile() string {
	locations := []string{
		".adwatch.yaml",
		".adwatch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "adwatch", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	var errs []error

	if c.Scraper.MinCompetitorDelay < 0 || c.Scraper.MaxCompetitorDelay < 0 {
		errs = append(errs, errors.New("competitor delay bounds cannot be negative"))
	}
	if c.Scraper.MaxCompetitorDelay < c.Scraper.MinCompetitorDelay {
		errs = append(errs, errors.New("max competitor delay must be >= min competitor delay"))
	}
	if c.Scraper.MaxScrollDelay < c.Scraper.MinScrollDelay {
		errs = append(errs, errors.New("max scroll delay must be >= min scroll delay"))
	}
	if c.Scraper.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.Scraper.BrowserTimeout <= 0 {
		errs = append(errs, errors.New("browser timeout must be positive"))
	}
	if c.Media.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Media.BasePath == "" {
		errs = append(errs, errors.New("media base path is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Load loads configuration from all sources.
// Precedence: flags > environment (including .env) > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	config.mergeFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) mergeFlags(flags map[string]interface{}) {
	if flags == nil {
		return
	}
	if v, ok := flags["max-retries"].(int); ok && v >= 0 {
		c.Scraper.MaxRetries = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Scraper.Headless = v
	}
	if v, ok := flags["media-dir"].(string); ok && v != "" {
		c.Media.BasePath = v
	}
	if v, ok := flags["database"].(string); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}
