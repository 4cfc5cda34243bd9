// Package config loads settings from a .env file, the environment and an
// optional YAML config file.
//
// Priority, highest first: ROUTINETIMER_* environment variables, the file named
// by ROUTINETIMER_CONFIG, ./routinetimer.yaml, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the app reads
const EnvPrefix = "ROUTINETIMER"

// Config holds all configuration for the application
type Config struct {
	// Storage
	DataDir string

	// Telegram Bot configuration
	BotToken string

	// OpenAI configuration, optional; announcements fall back to fixed texts
	OpenAIAPIBase string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Scheduler configuration
	TickInterval time.Duration
	SettleDelay  time.Duration

	// Directory watched for routine files
	WatchDir string

	Debug bool
}

// Loader wraps a viper instance so tests can load from explicit files
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment binding in place
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("bot_token", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_api_base", "https://api.openai.com/v1")
	v.SetDefault("openai_model", "gpt-3.5-turbo")
	v.SetDefault("tick_interval", 100*time.Millisecond)
	v.SetDefault("settle_delay", 300*time.Millisecond)
	v.SetDefault("watch_dir", "./routines")
	v.SetDefault("debug", false)

	return &Loader{v: v}
}

// Load reads .env, then the config file if there is one, then the environment
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Global.Warn("Error loading .env file: %v", err)
	}

	loader := NewLoader()
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return loader.LoadFromFile(path)
	}
	if _, err := os.Stat("routinetimer.yaml"); err == nil {
		return loader.LoadFromFile("routinetimer.yaml")
	}
	return loader.Load()
}

// LoadFromFile reads a YAML config file before applying the environment
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	logger.Global.Info("Using config file %s", path)
	return l.Load()
}

// Load builds a Config from whatever the loader has seen so far
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{
		DataDir:       l.v.GetString("data_dir"),
		BotToken:      l.v.GetString("bot_token"),
		OpenAIAPIKey:  l.v.GetString("openai_api_key"),
		OpenAIAPIBase: l.v.GetString("openai_api_base"),
		OpenAIModel:   l.v.GetString("openai_model"),
		TickInterval:  l.v.GetDuration("tick_interval"),
		SettleDelay:   l.v.GetDuration("settle_delay"),
		WatchDir:      l.v.GetString("watch_dir"),
		Debug:         l.v.GetBool("debug"),
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick_interval must be positive, got %s", cfg.TickInterval)
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle_delay must not be negative, got %s", cfg.SettleDelay)
	}

	logger.SetDebug(cfg.Debug)
	logger.Global.Info("Configuration loaded: %+v", cfg.Redacted())
	return cfg, nil
}

// RequireBot checks the settings the Telegram bot can't run without
func (c *Config) RequireBot() error {
	if c.BotToken == "" {
		return fmt.Errorf("%s_BOT_TOKEN environment variable is required", EnvPrefix)
	}
	return nil
}

// HasOpenAI reports whether announcement texts can be generated
func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// Redacted returns a copy that is safe to log
func (c Config) Redacted() Config {
	c.BotToken = redact(c.BotToken)
	c.OpenAIAPIKey = redact(c.OpenAIAPIKey)
	return c
}

func redact(secret string) string {
	if len(secret) > 8 {
		return secret[:8] + "...REDACTED..."
	}
	if secret != "" {
		return "...REDACTED..."
	}
	return ""
}
