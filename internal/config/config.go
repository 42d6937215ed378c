package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the StudioBridge daemon.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Host       HostConfig       `yaml:"host"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Automation AutomationConfig `yaml:"automation"`
	Storage    StorageConfig    `yaml:"storage"`
}

type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs headless (default: false - we augment a page the user is looking at).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to the host page target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
}

// HostConfig names the structural conventions of the host application.
// The synchronization and automation logic is parameterized over these;
// adapting to a new host build means editing this block, not code.
type HostConfig struct {
	// Origin of the host application, e.g. https://notebooklm.google.com.
	Origin string `yaml:"origin"`
	// URL prefix used to locate the host page among open targets.
	URLPrefix string `yaml:"url_prefix"`
	// Regex with one capture group applied to the URL path to derive the
	// active context identifier. The full URL is the fallback identifier.
	ContextPattern string `yaml:"context_pattern"`
	// Poll interval for navigation changes that bypass all hooks.
	NavigationPollMs int `yaml:"navigation_poll_ms"`
	// Drain interval for the in-page event buffer.
	EventDrainMs int `yaml:"event_drain_ms"`
	// Minimum spacing between two mount passes.
	MountDebounceMs int `yaml:"mount_debounce_ms"`

	Selectors SelectorConfig `yaml:"selectors"`

	// Menu entry tokens recognized as "delete" across supported locales.
	DeleteTokens []string `yaml:"delete_tokens"`
	// Button tokens that must never be clicked when confirming a delete.
	CancelTokens []string `yaml:"cancel_tokens"`
}

// SelectorConfig holds the CSS selectors for the host DOM conventions.
type SelectorConfig struct {
	Panel            string `yaml:"panel"`
	PanelFallback    string `yaml:"panel_fallback"`
	PanelRoot        string `yaml:"panel_root"`
	List             string `yaml:"list"`
	ListItem         string `yaml:"list_item"`
	ItemTitle        string `yaml:"item_title"`
	ItemLabels       string `yaml:"item_labels"`
	ItemDetails      string `yaml:"item_details"`
	ItemButton       string `yaml:"item_button"`
	ItemMoreButton   string `yaml:"item_more_button"`
	OverlayContainer string `yaml:"overlay_container"`
	MenuPanel        string `yaml:"menu_panel"`
	ConfirmDialog    string `yaml:"confirm_dialog"`
	AddButton        string `yaml:"add_button"`
	DetailView       string `yaml:"detail_view"`
}

// BridgeConfig configures the surface-facing endpoint.
type BridgeConfig struct {
	// Listen address for the surface document and its websocket, e.g. 127.0.0.1:8787.
	ListenAddr string `yaml:"listen_addr"`
	// Directory with the built surface assets. Empty serves the embedded bootstrap page.
	SurfaceDir string `yaml:"surface_dir"`
	// Extra origins accepted on the websocket handshake besides the bridge's own.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AutomationConfig bounds the waits inside multi-step UI choreography.
type AutomationConfig struct {
	MenuWaitMs     int `yaml:"menu_wait_ms"`
	PreDialogMs    int `yaml:"pre_dialog_ms"`
	DialogWaitMs   int `yaml:"dialog_wait_ms"`
	DismissWaitMs  int `yaml:"dismiss_wait_ms"`
	BatchDelayMs   int `yaml:"batch_delay_ms"`
	ViewportMargin int `yaml:"viewport_margin"`
}

// StorageConfig configures the durable organization state.
type StorageConfig struct {
	// SQLite database path for the primary key-value store.
	Path string `yaml:"path"`
	// JSON file used when SQLite cannot be opened.
	FallbackPath string `yaml:"fallback_path"`
	// Key under which the serialized state document lives.
	Key string `yaml:"key"`
}

// DefaultConfig provides reasonable defaults for the known host build.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "studiobridge",
			Version:  "0.3.0",
			LogFile:  "studiobridge.log",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
		},
		Host: HostConfig{
			Origin:           "https://notebooklm.google.com",
			URLPrefix:        "https://notebooklm.google.com",
			ContextPattern:   `/notebook/([0-9a-fA-F-]{8,})`,
			NavigationPollMs: 500,
			EventDrainMs:     250,
			MountDebounceMs:  16,
			Selectors: SelectorConfig{
				Panel:            "section.studio-panel",
				PanelFallback:    ".studio-panel",
				PanelRoot:        ".panel-content-scrollable",
				List:             ".artifact-library-container",
				ListItem:         "artifact-library-note, artifact-library-item",
				ItemTitle:        ".artifact-title",
				ItemLabels:       ".artifact-labels",
				ItemDetails:      ".artifact-details",
				ItemButton:       "button.artifact-button-content",
				ItemMoreButton:   "button.artifact-more-button",
				OverlayContainer: ".cdk-overlay-container",
				MenuPanel:        ".mat-mdc-menu-panel",
				ConfirmDialog:    "mat-dialog-container, .mat-mdc-dialog-container, delete-dialog",
				AddButton:        ".add-note-button-container .add-note-button",
				DetailView:       "section.studio-panel .panel-content-write",
			},
			DeleteTokens: []string{"eliminar", "borrar", "delete", "remove"},
			CancelTokens: []string{"cancel", "cancelar"},
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:8787",
		},
		Automation: AutomationConfig{
			MenuWaitMs:     800,
			PreDialogMs:    300,
			DialogWaitMs:   1000,
			DismissWaitMs:  2000,
			BatchDelayMs:   400,
			ViewportMargin: 8,
		},
		Storage: StorageConfig{
			Path:         "studiobridge.db",
			FallbackPath: "studiobridge-state.json",
			Key:          "nle_state_v1",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the daemon can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
		return errors.New("browser.debugger_url or browser.launch must be provided")
	}
	if c.Host.Origin == "" {
		return errors.New("host.origin is required")
	}
	if c.Host.Selectors.PanelRoot == "" || c.Host.Selectors.List == "" || c.Host.Selectors.ItemTitle == "" {
		return errors.New("host.selectors panel_root, list and item_title are required")
	}
	if c.Host.ContextPattern != "" {
		if _, err := regexp.Compile(c.Host.ContextPattern); err != nil {
			return fmt.Errorf("host.context_pattern: %w", err)
		}
	}
	if c.Bridge.ListenAddr == "" {
		return errors.New("bridge.listen_addr is required")
	}
	if len(c.Host.DeleteTokens) == 0 {
		return errors.New("host.delete_tokens must name at least one token")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	if b.DefaultAttachTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultAttachTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// NavigationPoll returns the URL poll interval with a sane default.
func (h HostConfig) NavigationPoll() time.Duration { return msOrDefault(h.NavigationPollMs, 500) }

// EventDrain returns the in-page buffer drain interval with a sane default.
func (h HostConfig) EventDrain() time.Duration { return msOrDefault(h.EventDrainMs, 250) }

// MountDebounce returns the minimum spacing between mount passes.
func (h HostConfig) MountDebounce() time.Duration { return msOrDefault(h.MountDebounceMs, 16) }

// ContextRegexp returns the compiled context pattern, or nil when unset/invalid.
func (h HostConfig) ContextRegexp() *regexp.Regexp {
	if h.ContextPattern == "" {
		return nil
	}
	re, err := regexp.Compile(h.ContextPattern)
	if err != nil {
		return nil
	}
	return re
}

// MenuWait returns the bounded wait for the context menu surface.
func (a AutomationConfig) MenuWait() time.Duration { return msOrDefault(a.MenuWaitMs, 800) }

// PreDialogDelay returns the settle delay between menu click and dialog wait.
func (a AutomationConfig) PreDialogDelay() time.Duration { return msOrDefault(a.PreDialogMs, 300) }

// DialogWait returns the bounded wait for the confirmation dialog.
func (a AutomationConfig) DialogWait() time.Duration { return msOrDefault(a.DialogWaitMs, 1000) }

// DismissWait returns the bounded wait for dialog disappearance.
func (a AutomationConfig) DismissWait() time.Duration { return msOrDefault(a.DismissWaitMs, 2000) }

// BatchDelay returns the inter-item delay during batch deletes.
func (a AutomationConfig) BatchDelay() time.Duration { return msOrDefault(a.BatchDelayMs, 400) }
