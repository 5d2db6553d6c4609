// Package config loads the pagenav YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Engine   EngineConfig   `yaml:"engine"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Settings SettingsConfig `yaml:"settings"`
	Relay    RelayConfig    `yaml:"relay"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`            // DevTools URL of a running Chrome
	Stealth          string   `yaml:"stealth"`           // headful | headless
	ResourceBlocking []string `yaml:"resource_blocking"` // image, font, media, stylesheet
	Bin              string   `yaml:"bin"`
}

// Headless reports whether the browser runs without a window.
func (b BrowserConfig) Headless() bool { return b.Stealth == "headless" }

// EngineConfig tunes resolution.
type EngineConfig struct {
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	FeedbackDuration time.Duration `yaml:"feedback_duration"`
}

// BridgeConfig tunes page-context execution.
type BridgeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// SettingsConfig locates the settings database.
type SettingsConfig struct {
	DB       string        `yaml:"db"`
	Poll     time.Duration `yaml:"poll"`
	Debounce time.Duration `yaml:"debounce"`
}

// RelayConfig controls the HTTP relay.
type RelayConfig struct {
	Addr string `yaml:"addr"` // empty disables the relay
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "", "headful", "headless":
	default:
		return fmt.Errorf("config: browser.stealth: want headful or headless, got %q", c.Browser.Stealth)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headful"
	}
	if c.Engine.CacheTTL <= 0 {
		c.Engine.CacheTTL = 5 * time.Second
	}
	if c.Engine.FeedbackDuration <= 0 {
		c.Engine.FeedbackDuration = 600 * time.Millisecond
	}
	if c.Bridge.Timeout <= 0 {
		c.Bridge.Timeout = 2 * time.Second
	}
	if c.Bridge.LoadTimeout <= 0 {
		c.Bridge.LoadTimeout = 3 * time.Second
	}
	if c.Settings.DB == "" {
		c.Settings.DB = "pagenav.db"
	}
	if c.Settings.Poll <= 0 {
		c.Settings.Poll = 500 * time.Millisecond
	}
}
