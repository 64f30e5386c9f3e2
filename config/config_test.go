package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/igaboo/mark/connectivity"
	"github.com/igaboo/mark/delivery"
	"github.com/igaboo/mark/listing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvToken, EnvTokenAlias, EnvLogLevel, EnvBrowserDriver, EnvBrowserRemote, EnvAdminAddr} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Driver != "rod" || !*cfg.Browser.Headless || cfg.Browser.NavigateTimeout != 30*time.Second {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if *cfg.Delivery.Retries != delivery.DefaultRetries {
		t.Fatalf("retries = %d", *cfg.Delivery.Retries)
	}
	if cfg.Extraction.URLPattern != listing.DefaultURLPattern {
		t.Fatalf("url pattern = %q", cfg.Extraction.URLPattern)
	}
	if cfg.Log.Level != "info" || cfg.Log.ErrorFile != "error_log.txt" {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.Database.Path != "mark.db" || cfg.Admin.Addr != "" {
		t.Fatalf("db = %+v admin = %+v", cfg.Database, cfg.Admin)
	}
	if err := cfg.Validate(false); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(true); err == nil || !strings.Contains(err.Error(), EnvToken) {
		t.Fatalf("Validate(true) = %v, want missing token", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "mark.yaml", `
discord:
  bot_token: file-token
  channel_ids: ["c1", "c2"]
browser:
  driver: chromedp
  headless: false
extraction:
  posted_index: 0
  currency: "€"
  transmissions: [Automatic, Manual, CVT]
  field_timeout: 2s
delivery:
  retries: 0
  captions: ["Hang on"]
log:
  level: debug
`)
	cfg, err := Load(path, filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.BotToken != "file-token" || len(cfg.Discord.ChannelIDs) != 2 {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Browser.Driver != "chromedp" || *cfg.Browser.Headless {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if *cfg.Delivery.Retries != 0 {
		t.Fatalf("explicit zero retries lost: %d", *cfg.Delivery.Retries)
	}
	if cfg.Extraction.FieldTimeout != 2*time.Second {
		t.Fatalf("field timeout = %v", cfg.Extraction.FieldTimeout)
	}

	loc := cfg.Locators()
	if loc.PostedIndex != 0 || loc.Currency != "€" || len(loc.Transmissions) != 3 {
		t.Fatalf("locators = %+v", loc)
	}
	if loc.Separator != listing.DefaultLocators().Separator {
		t.Fatalf("separator override leaked: %q", loc.Separator)
	}

	bc := cfg.BrowserLaunch()
	if bc.Driver != "chromedp" || bc.Headless {
		t.Fatalf("browser launch = %+v", bc)
	}
	if cfg.Logging().Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "mark.yaml", "discord:\n  bot_token: file-token\nlog:\n  level: info\n")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvBrowserRemote, "ws://chrome:9222")
	t.Setenv(EnvAdminAddr, ":9090")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.BotToken != "env-token" || cfg.Log.Level != "warn" ||
		cfg.Browser.Remote != "ws://chrome:9222" || cfg.Admin.Addr != ":9090" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvToken)
	envFile := writeFile(t, ".env", EnvToken+"=dotenv-token\n")

	cfg, err := Load("", envFile)
	t.Cleanup(func() { os.Unsetenv(EnvToken) })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.BotToken != "dotenv-token" {
		t.Fatalf("token = %q", cfg.Discord.BotToken)
	}
}

func TestLoadTokenAlias(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvToken)
	os.Unsetenv(EnvTokenAlias)
	envFile := writeFile(t, ".env", EnvTokenAlias+"=legacy-token\n")
	t.Cleanup(func() { os.Unsetenv(EnvTokenAlias) })

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.BotToken != "legacy-token" {
		t.Fatalf("token = %q, want the alias value", cfg.Discord.BotToken)
	}

	t.Setenv(EnvToken, "discord-token")
	cfg, err = Load("", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.BotToken != "discord-token" {
		t.Fatalf("token = %q, want %s to win", cfg.Discord.BotToken, EnvToken)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
	bad := writeFile(t, "bad.yaml", "browser: [unclosed")
	if _, err := Load(bad, filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"driver":       "browser:\n  driver: firefox\n",
		"level":        "log:\n  level: loud\n",
		"pattern":      "extraction:\n  url_pattern: \"(\"\n",
		"retries":      "delivery:\n  retries: -1\n",
		"rate retries": "delivery:\n  rate_limit_retries: -2\n",
		"posted":       "extraction:\n  posted_index: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, "c.yaml", body), filepath.Join(t.TempDir(), "none.env"))
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(false); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "c.yaml", "delivery:\n  rate_limit_retries: 2\n  rate_limit_wait: 1s\n"),
		filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.RetryPolicy()
	if p.MaxRetries != 2 || p.DefaultWait != time.Second {
		t.Fatalf("policy = %+v", p)
	}

	cfg, _ = Load("", filepath.Join(t.TempDir(), "none.env"))
	if p := cfg.RetryPolicy(); p.MaxRetries != connectivity.DefaultMaxRetries || p.DefaultWait != connectivity.DefaultWait {
		t.Fatalf("default policy = %+v", p)
	}
}
