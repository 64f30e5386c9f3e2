// Package config loads the mark daemon configuration: an optional YAML file,
// defaults, then environment overrides. A .env file in the working
// directory is read first so secrets can live outside the YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/igaboo/mark/browser"
	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/connectivity"
	"github.com/igaboo/mark/delivery"
	"github.com/igaboo/mark/listing"
	"github.com/igaboo/mark/observability"
)

// Environment variables that override the file.
const (
	EnvToken         = "DISCORD_TOKEN"
	EnvTokenAlias    = "DB_TOKEN" // older .env files; DISCORD_TOKEN wins
	EnvLogLevel      = "MARK_LOG_LEVEL"
	EnvBrowserDriver = "MARK_BROWSER_DRIVER"
	EnvBrowserRemote = "MARK_BROWSER_REMOTE"
	EnvAdminAddr     = "MARK_ADMIN_ADDR"
)

// Config is the top-level configuration.
type Config struct {
	Discord    channels.DiscordConfig `yaml:"discord"`
	Browser    BrowserConfig          `yaml:"browser"`
	Extraction ExtractionConfig       `yaml:"extraction"`
	Delivery   DeliveryConfig         `yaml:"delivery"`
	Log        LogConfig              `yaml:"log"`
	Database   DatabaseConfig         `yaml:"database"`
	Admin      AdminConfig            `yaml:"admin"`
}

// BrowserConfig controls the browser driver.
type BrowserConfig struct {
	Driver           string        `yaml:"driver"` // rod | chromedp
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headless         *bool         `yaml:"headless"`
	UserAgent        string        `yaml:"user_agent"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// ExtractionConfig overrides the extraction tunables. Zero values keep
// listing.DefaultLocators.
type ExtractionConfig struct {
	URLPattern    string        `yaml:"url_pattern"`
	FieldTimeout  time.Duration `yaml:"field_timeout"`
	PostedIndex   *int          `yaml:"posted_index"`
	Currency      string        `yaml:"currency"`
	Separator     string        `yaml:"separator"`
	Transmissions []string      `yaml:"transmissions"`
}

// DeliveryConfig controls the delivery pipeline.
type DeliveryConfig struct {
	// Retries is the soft-failure budget. Default: 5.
	Retries *int `yaml:"retries"`
	// RateLimitRetries bounds retries of a throttled platform call. Default: 5.
	RateLimitRetries *int `yaml:"rate_limit_retries"`
	// RateLimitWait is used when a throttle carries no hint. Default: 5s.
	RateLimitWait time.Duration `yaml:"rate_limit_wait"`
	Captions      []string      `yaml:"captions"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	ErrorFile  string `yaml:"error_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DatabaseConfig locates the delivery log.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AdminConfig controls the admin HTTP surface. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads path (optional; "" skips the file), applies defaults and
// environment overrides. envFiles default to ".env"; missing ones are
// ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Discord.BotToken, EnvTokenAlias)
	envString(&c.Discord.BotToken, EnvToken)
	envString(&c.Log.Level, EnvLogLevel)
	envString(&c.Browser.Driver, EnvBrowserDriver)
	envString(&c.Browser.Remote, EnvBrowserRemote)
	envString(&c.Admin.Addr, EnvAdminAddr)
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.Driver == "" {
		c.Browser.Driver = "rod"
	}
	if c.Browser.Headless == nil {
		c.Browser.Headless = ptr(true)
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Extraction.URLPattern == "" {
		c.Extraction.URLPattern = listing.DefaultURLPattern
	}
	if c.Extraction.FieldTimeout <= 0 {
		c.Extraction.FieldTimeout = listing.DefaultFieldTimeout
	}
	if c.Delivery.Retries == nil {
		c.Delivery.Retries = ptr(delivery.DefaultRetries)
	}
	if c.Delivery.RateLimitRetries == nil {
		c.Delivery.RateLimitRetries = ptr(connectivity.DefaultMaxRetries)
	}
	if c.Delivery.RateLimitWait <= 0 {
		c.Delivery.RateLimitWait = connectivity.DefaultWait
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.ErrorFile == "" {
		c.Log.ErrorFile = "error_log.txt"
	}
	if c.Database.Path == "" {
		c.Database.Path = "mark.db"
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = 30
	}
}

// Validate checks the configuration. requireToken is false for tools that
// never connect to Discord.
func (c *Config) Validate(requireToken bool) error {
	if requireToken && c.Discord.BotToken == "" {
		return fmt.Errorf("config: discord bot token is required (set %s or %s)", EnvToken, EnvTokenAlias)
	}
	switch c.Browser.Driver {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("config: unknown browser driver %q", c.Browser.Driver)
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := listing.NewMatcher(c.Extraction.URLPattern); err != nil {
		return fmt.Errorf("config: url_pattern: %w", err)
	}
	if *c.Delivery.Retries < 0 {
		return fmt.Errorf("config: delivery.retries must be >= 0")
	}
	if *c.Delivery.RateLimitRetries < 0 {
		return fmt.Errorf("config: delivery.rate_limit_retries must be >= 0")
	}
	if p := c.Extraction.PostedIndex; p != nil && *p < 0 {
		return fmt.Errorf("config: extraction.posted_index must be >= 0")
	}
	return nil
}

// BrowserLaunch returns the driver configuration.
func (c *Config) BrowserLaunch() browser.Config {
	return browser.Config{
		Driver:           c.Browser.Driver,
		RemoteURL:        c.Browser.Remote,
		Bin:              c.Browser.Bin,
		Headless:         *c.Browser.Headless,
		UserAgent:        c.Browser.UserAgent,
		ResourceBlocking: c.Browser.ResourceBlocking,
		NavigateTimeout:  c.Browser.NavigateTimeout,
	}
}

// Locators returns listing.DefaultLocators with the extraction overrides
// applied.
func (c *Config) Locators() listing.Locators {
	loc := listing.DefaultLocators()
	x := c.Extraction
	if x.PostedIndex != nil {
		loc.PostedIndex = *x.PostedIndex
	}
	if x.Currency != "" {
		loc.Currency = x.Currency
	}
	if x.Separator != "" {
		loc.Separator = x.Separator
	}
	if len(x.Transmissions) > 0 {
		loc.Transmissions = x.Transmissions
	}
	return loc
}

// RetryPolicy returns the rate-limit policy for platform calls.
func (c *Config) RetryPolicy() connectivity.Policy {
	p := connectivity.DefaultPolicy()
	p.MaxRetries = *c.Delivery.RateLimitRetries
	p.DefaultWait = c.Delivery.RateLimitWait
	return p
}

// Logging returns the logger configuration.
func (c *Config) Logging() observability.LogConfig {
	return observability.LogConfig{
		Level:      c.Log.Level,
		ErrorFile:  c.Log.ErrorFile,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

func ptr[T any](v T) *T { return &v }
