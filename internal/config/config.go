// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the read API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the Postgres market store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ScraperConfig governs the scrape loop and upstream endpoints.
type ScraperConfig struct {
	IntervalSeconds      int    `mapstructure:"interval_seconds"`
	MinRequestIntervalMs int    `mapstructure:"min_request_interval_ms"`
	BaseURL              string `mapstructure:"base_url"`
	HomepageURL          string `mapstructure:"homepage_url"`
	DefaultBuildToken    string `mapstructure:"default_build_token"`
	UserAgent            string `mapstructure:"user_agent"`
}

// HTTPConfig configures the upstream HTTP client and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
}

// PubSubConfig holds metadata for new-market notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	// Registering the key lets AutomaticEnv resolve MARKETD_DB_DSN.
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "markets")
	v.SetDefault("db.max_conns", 5)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("scraper.interval_seconds", 30)
	v.SetDefault("scraper.min_request_interval_ms", 1000)
	v.SetDefault("scraper.base_url", "https://polymarket.com/_next/data")
	v.SetDefault("scraper.homepage_url", "https://polymarket.com")
	v.SetDefault("scraper.default_build_token", "keyXdCWmEdmqkd-AH927v")
	v.SetDefault("scraper.user_agent", "marketd/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "new-markets")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Scraper.IntervalSeconds <= 0 {
		return fmt.Errorf("scraper.interval_seconds must be > 0")
	}
	if c.Scraper.BaseURL == "" || c.Scraper.HomepageURL == "" {
		return fmt.Errorf("scraper.base_url and scraper.homepage_url are required")
	}
	if c.Scraper.DefaultBuildToken == "" {
		return fmt.Errorf("scraper.default_build_token is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// ScrapeInterval returns the loop tick interval.
func (c Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Scraper.IntervalSeconds) * time.Second
}

// MinRequestInterval returns the inter-request rate limit floor.
func (c Config) MinRequestInterval() time.Duration {
	return time.Duration(c.Scraper.MinRequestIntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the base delay for retry backoff.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}
