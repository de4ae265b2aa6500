package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"toomanypages/pkg/plugin"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SessionConfig struct {
	Cookie    string `json:"cookie"`
	KeyPrefix string `json:"key_prefix"`
}

type PluginConfig struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Enabled  bool           `json:"enabled"`
	Settings map[string]any `json:"settings"`
}

type Config struct {
	SiteTitle       string         `json:"site_title"`
	BaseURL         string         `json:"base_url"`
	ContentDir      string         `json:"content_dir"`
	ContentExt      string         `json:"content_ext"`
	Redis           RedisConfig    `json:"redis"`
	Session         SessionConfig  `json:"session"`
	CookieDenylist  []string       `json:"cookie_denylist"`
	CacheTTLSeconds int            `json:"cache_ttl_seconds"`
	RequestTimeout  int            `json:"request_timeout"`
	Plugins         []PluginConfig `json:"plugins"`
	Options         map[string]any `json:"options"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setDefaults(&config)

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.ContentDir == "" {
		return fmt.Errorf("content_dir is required")
	}

	if config.ContentExt != "" && !strings.HasPrefix(config.ContentExt, ".") {
		return fmt.Errorf("content_ext must start with a dot, got '%s'", config.ContentExt)
	}

	if config.CacheTTLSeconds < 0 {
		return fmt.Errorf("cache_ttl_seconds must not be negative")
	}

	seen := make(map[string]bool)
	for i, p := range config.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d].name is required", i)
		}
		key := p.Path + "/" + p.Name
		if seen[key] {
			return fmt.Errorf("plugins[%d]: duplicate plugin '%s'", i, p.Name)
		}
		seen[key] = true
	}

	for key := range config.Options {
		if isReservedOption(key) {
			return fmt.Errorf("options.%s is reserved, set the top-level field instead", key)
		}
	}

	return nil
}

func setDefaults(config *Config) {
	if config.ContentExt == "" {
		config.ContentExt = ".md"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30
	}
	if config.CacheTTLSeconds == 0 {
		config.CacheTTLSeconds = 3600
	}
	if config.Session.Cookie == "" {
		config.Session.Cookie = "pico_session"
	}
	if config.Session.KeyPrefix == "" {
		config.Session.KeyPrefix = "session:"
	}
	if config.SiteTitle == "" {
		config.SiteTitle = "Pico"
	}
	if !strings.HasSuffix(config.ContentDir, "/") {
		config.ContentDir += "/"
	}
}

func isReservedOption(key string) bool {
	switch key {
	case plugin.KeyContentDir, plugin.KeyContentExt, plugin.KeyBaseURL, plugin.KeySiteTitle:
		return true
	}
	return false
}

// RequestOptions builds the option mapping handed to plugins for one request.
// Every call returns a new map.
func (c *Config) RequestOptions() plugin.Config {
	opts := make(plugin.Config, len(c.Options)+4)
	maps.Copy(opts, c.Options)
	opts[plugin.KeyContentDir] = c.ContentDir
	opts[plugin.KeyContentExt] = c.ContentExt
	opts[plugin.KeyBaseURL] = c.BaseURL
	opts[plugin.KeySiteTitle] = c.SiteTitle
	return opts
}

func (c *Config) EnabledPlugins() []PluginConfig {
	var enabled []PluginConfig
	for _, p := range c.Plugins {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) CacheEnabled() bool {
	return c.Redis.Addr != ""
}
