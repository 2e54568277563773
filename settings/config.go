// Package settings holds webclip's configuration: the daemon's YAML file
// with environment overrides, and the SQLite store that persists what the
// popup edits (note service connection, language, auto-clip patterns)
// together with the capture journal.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database string         `yaml:"database"`
	Language string         `yaml:"language"`
	LogLevel string         `yaml:"log_level"`
	Browser  BrowserConfig  `yaml:"browser"`
	Service  ServiceConfig  `yaml:"service"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// AllowedOrigins are the browser origins (the popup's extension origin)
	// allowed to call the HTTP API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BrowserConfig controls the Chrome instance captures run in.
type BrowserConfig struct {
	Remote   string `yaml:"remote"` // ws:// control URL; empty launches a local Chrome
	Bin      string `yaml:"bin"`
	Headless bool   `yaml:"headless"`
	StartURL string `yaml:"start_url"`

	// XvfbDisplay (":99") runs a headful Chrome on a virtual display.
	XvfbDisplay string `yaml:"xvfb_display"`
	XvfbScreen  string `yaml:"xvfb_screen"`

	// BlockResources lists resource types tabs never load.
	BlockResources []string `yaml:"block_resources"`
}

// ServiceConfig seeds the note service connection. Values stored through
// the popup take precedence.
type ServiceConfig struct {
	ServerURL   string `yaml:"server_url"`
	DesktopPort int    `yaml:"desktop_port"`
}

// TimeoutsConfig bounds the cross-context waits of a capture.
type TimeoutsConfig struct {
	Scraper  time.Duration `yaml:"scraper"`
	Renderer time.Duration `yaml:"renderer"`
	Service  time.Duration `yaml:"service"`
}

// Load reads .env (if present), the YAML file at path (if non-empty), then
// WEBCLIP_* environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("settings: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("settings: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("WEBCLIP_LISTEN", &c.Listen)
	str("WEBCLIP_DB", &c.Database)
	str("WEBCLIP_LANG", &c.Language)
	str("WEBCLIP_LOG_LEVEL", &c.LogLevel)
	str("WEBCLIP_BROWSER_REMOTE", &c.Browser.Remote)
	str("WEBCLIP_BROWSER_BIN", &c.Browser.Bin)
	str("WEBCLIP_SERVER_URL", &c.Service.ServerURL)
	str("WEBCLIP_XVFB_DISPLAY", &c.Browser.XvfbDisplay)
	list := func(key string, dst *[]string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
	list("WEBCLIP_ALLOWED_ORIGINS", &c.AllowedOrigins)
	list("WEBCLIP_BLOCK_RESOURCES", &c.Browser.BlockResources)

	if v := strings.TrimSpace(getenv("WEBCLIP_HEADLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("settings: WEBCLIP_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	if v := strings.TrimSpace(getenv("WEBCLIP_DESKTOP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("settings: WEBCLIP_DESKTOP_PORT: invalid port %q", v)
		}
		c.Service.DesktopPort = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8787"
	}
	if c.Database == "" {
		c.Database = "webclip.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.StartURL == "" {
		c.Browser.StartURL = "about:blank"
	}
	if c.Timeouts.Scraper <= 0 {
		c.Timeouts.Scraper = 30 * time.Second
	}
	if c.Timeouts.Renderer <= 0 {
		c.Timeouts.Renderer = 30 * time.Second
	}
	if c.Timeouts.Service <= 0 {
		c.Timeouts.Service = 60 * time.Second
	}
}
