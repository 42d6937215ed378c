package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
browser:
  debugger_url: ws://localhost:9222
host:
  navigation_poll_ms: 1000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Browser.DebuggerURL != "ws://localhost:9222" {
		t.Errorf("override lost: %q", cfg.Browser.DebuggerURL)
	}
	if cfg.Host.NavigationPoll() != time.Second {
		t.Errorf("expected 1s poll, got %s", cfg.Host.NavigationPoll())
	}
	// Untouched fields keep their defaults.
	if cfg.Host.Origin != "https://notebooklm.google.com" {
		t.Errorf("default origin lost: %q", cfg.Host.Origin)
	}
	if cfg.Bridge.ListenAddr != "127.0.0.1:8787" {
		t.Errorf("default listen addr lost: %q", cfg.Bridge.ListenAddr)
	}
	if len(cfg.Host.DeleteTokens) == 0 {
		t.Error("default delete tokens lost")
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("empty path must fail")
	}
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("missing file must fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with endpoint", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
		}, false},
		{"launch instead of endpoint", func(c *Config) {
			c.Browser.Launch = []string{"/usr/bin/google-chrome"}
		}, false},
		{"no browser at all", func(c *Config) {}, true},
		{"missing origin", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Host.Origin = ""
		}, true},
		{"missing list selector", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Host.Selectors.List = ""
		}, true},
		{"bad context pattern", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Host.ContextPattern = "(unclosed"
		}, true},
		{"no delete tokens", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Host.DeleteTokens = nil
		}, true},
		{"missing listen addr", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Bridge.ListenAddr = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurationAccessorDefaults(t *testing.T) {
	var b BrowserConfig
	if b.NavigationTimeout() != 15*time.Second {
		t.Errorf("navigation timeout default: %s", b.NavigationTimeout())
	}
	if b.AttachTimeout() != 10*time.Second {
		t.Errorf("attach timeout default: %s", b.AttachTimeout())
	}
	if b.IsHeadless() {
		t.Error("headless must default to false")
	}

	b.DefaultNavigationTimeout = "not-a-duration"
	if b.NavigationTimeout() != 15*time.Second {
		t.Errorf("bad duration should fall back: %s", b.NavigationTimeout())
	}

	var h HostConfig
	if h.EventDrain() != 250*time.Millisecond {
		t.Errorf("event drain default: %s", h.EventDrain())
	}
	if h.ContextRegexp() != nil {
		t.Error("empty pattern should yield nil regexp")
	}

	var a AutomationConfig
	if a.MenuWait() != 800*time.Millisecond || a.DismissWait() != 2*time.Second {
		t.Errorf("automation wait defaults wrong: %s %s", a.MenuWait(), a.DismissWait())
	}
	if a.BatchDelay() != 400*time.Millisecond {
		t.Errorf("batch delay default: %s", a.BatchDelay())
	}
}

func TestContextRegexpCaptures(t *testing.T) {
	cfg := DefaultConfig()
	re := cfg.Host.ContextRegexp()
	if re == nil {
		t.Fatal("default pattern should compile")
	}
	m := re.FindStringSubmatch("/notebook/0f9a3c2e-7b1d-4e6a")
	if len(m) != 2 || m[1] != "0f9a3c2e-7b1d-4e6a" {
		t.Errorf("capture wrong: %v", m)
	}
	if re.FindStringSubmatch("/settings") != nil {
		t.Error("non-context path must not match")
	}
}
