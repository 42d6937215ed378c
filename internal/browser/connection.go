// Package browser attaches to the Chrome instance showing the host
// application and exposes the page to the rest of the daemon: a JS evaluator
// for the DOM layer and a navigation event stream for the context tracker.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"studiobridge/internal/config"
)

// Connection is one live attachment to Chrome and the host page target.
type Connection struct {
	cfg  config.BrowserConfig
	host config.HostConfig
	log  *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	page       *rod.Page
}

// New returns an unconnected Connection. Call Start before anything else.
func New(cfg config.BrowserConfig, host config.HostConfig, log *zap.Logger) *Connection {
	return &Connection{cfg: cfg, host: host, log: log}
}

// Start connects to an existing Chrome or launches a new one using Rod's
// launcher. A stale prior connection is torn down and replaced.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		c.log.Warn("stale browser connection, reconnecting")
		_ = c.browser.Close()
		c.browser = nil
		c.controlURL = ""
		c.page = nil
	}

	controlURL := c.cfg.DebuggerURL
	if controlURL == "" && len(c.cfg.Launch) > 0 {
		url, err := c.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	c.browser = browser
	c.controlURL = controlURL
	c.log.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (c *Connection) launch() (string, error) {
	bin := c.cfg.Launch[0]
	launch := launcher.New().Bin(bin).Headless(c.cfg.IsHeadless())
	for name, val := range ParseLaunchFlags(c.cfg.Launch[1:]) {
		if val == "" {
			launch = launch.Set(flags.Flag(name))
		} else {
			launch = launch.Set(flags.Flag(name), val)
		}
	}

	url, err := launch.Launch()
	if err == nil {
		return url, nil
	}
	// Fallback: let Rod pick the port and defaults.
	fallback := launcher.New().Bin(bin).Headless(c.cfg.IsHeadless())
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ParseLaunchFlags turns raw command-line style flags into launcher flag
// name/value pairs. Leading dashes are stripped; a flag without '=' maps to
// an empty value.
func ParseLaunchFlags(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, rawFlag := range raw {
		flagStr := strings.TrimLeft(rawFlag, "-")
		if flagStr == "" {
			continue
		}
		name, val, _ := strings.Cut(flagStr, "=")
		out[name] = val
	}
	return out
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (c *Connection) ControlURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlURL
}

// AttachHostPage finds the host application tab among the open targets,
// polling until one appears or the attach timeout expires. The user may not
// have opened the host app yet when the daemon starts.
func (c *Connection) AttachHostPage(ctx context.Context) (*rod.Page, error) {
	c.mu.Lock()
	browser := c.browser
	c.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	deadline := time.NewTimer(c.cfg.AttachTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		page, err := c.findHostPage(browser)
		if err == nil {
			c.mu.Lock()
			c.page = page
			c.mu.Unlock()
			info, _ := page.Info()
			if info != nil {
				c.log.Info("attached to host page", zap.String("url", info.URL))
			}
			return page, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no host page matching %q found within %s", c.host.URLPrefix, c.cfg.AttachTimeout())
		case <-ticker.C:
		}
	}
}

func (c *Connection) findHostPage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	for _, page := range pages {
		info, err := page.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, c.host.URLPrefix) {
			return page, nil
		}
	}
	return nil, errors.New("host page not open")
}

// Page returns the attached host page, or nil before AttachHostPage.
func (c *Connection) Page() *rod.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Healthy reports whether the browser connection and page target are alive.
func (c *Connection) Healthy() bool {
	c.mu.Lock()
	browser, page := c.browser, c.page
	c.mu.Unlock()
	if browser == nil || page == nil {
		return false
	}
	if _, err := browser.Version(); err != nil {
		return false
	}
	_, err := page.Info()
	return err == nil
}

// Close tears down the browser connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	c.page = nil
	c.controlURL = ""
	return err
}

// WatchNavigation streams frame navigation URLs until the context ends.
// These catch full loads; SPA route changes arrive through the in-page
// history hooks instead.
func (c *Connection) WatchNavigation(ctx context.Context, out chan<- string) {
	page := c.Page()
	if page == nil {
		return
	}
	wait := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		select {
		case out <- ev.Frame.URL:
		case <-ctx.Done():
		}
	})
	wait()
}

// CurrentURL returns the host page's current location.
func (c *Connection) CurrentURL() (string, error) {
	page := c.Page()
	if page == nil {
		return "", errors.New("not attached")
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Eval satisfies the hostpage.Evaluator boundary with a Rod-backed
// evaluation. The JS is a function expression; args are passed positionally.
func (c *Connection) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	page := c.Page()
	if page == nil {
		return nil, errors.New("not attached")
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil {
		return json.RawMessage(`null`), nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal eval result: %w", err)
	}
	return raw, nil
}
