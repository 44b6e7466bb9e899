// Package browser provides the browser_automation tool, which drives a
// headless Chromium through go-rod.
package browser

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

const (
	// Name is the registry key of the tool.
	Name = "browser_automation"

	defaultTimeout = 30 * time.Second
	contentLimit   = 8000
)

// Config is the tool's configuration section.
type Config struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Headless *bool         `mapstructure:"headless"`
	Bin      string        `mapstructure:"bin"`
}

// Session is one live browser page.
type Session interface {
	Navigate(ctx context.Context, url string) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) (string, error)
	Content(ctx context.Context) (string, []string, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Launcher starts a browser session.
type Launcher func(ctx context.Context) (Session, error)

// Tool keeps a single browser session open between calls.
type Tool struct {
	launch  Launcher
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	session Session
}

type args struct {
	Action   string `mapstructure:"action"`
	URL      string `mapstructure:"url"`
	Selector string `mapstructure:"selector"`
	Value    string `mapstructure:"value"`
	Path     string `mapstructure:"path"`
}

// Option customizes the tool.
type Option func(*Tool)

// WithLauncher replaces the browser launcher.
func WithLauncher(launch Launcher) Option {
	return func(t *Tool) {
		if launch != nil {
			t.launch = launch
		}
	}
}

// New returns the tool. The browser starts lazily on the first action.
func New(cfg Config, opts ...Option) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	headless := true
	if cfg.Headless != nil {
		headless = *cfg.Headless
	}
	t := &Tool{
		launch:  rodLauncher(headless, cfg.Bin),
		timeout: cfg.Timeout,
		logger:  logger.Named("tool.browser"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Factory builds the tool from a configuration section.
func Factory(section map[string]any) (tool.Tool, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Automates web browser interactions using a headless browser. " +
		"Input is a dictionary specifying 'action' and associated parameters. " +
		"Available actions: 'goto', 'fill', 'click', 'get_content', 'screenshot', 'close_browser'. " +
		"Example for goto: {'action': 'goto', 'url': 'https://example.com'}. " +
		"Example for fill: {'action': 'fill', 'selector': '#username', 'value': 'myuser'}. " +
		"Example for click: {'action': 'click', 'selector': 'button[type=submit]'}. " +
		"Example for screenshot: {'action': 'screenshot', 'path': 'screenshot.png'}."
}

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return false }

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a args
	if err := tool.Bind(in, &a, "action"); err != nil {
		return "", err
	}
	action := strings.ToLower(strings.TrimSpace(a.Action))
	if action == "" {
		return "Error: No action specified for browser_automation tool.", nil
	}
	t.logger.Info("执行浏览器动作", slog.String("action", action))

	t.mu.Lock()
	defer t.mu.Unlock()

	if action == "close_browser" {
		t.closeLocked()
		return "Browser instance closed.", nil
	}
	if t.session == nil {
		session, err := t.launch(ctx)
		if err != nil {
			t.logger.Error("启动浏览器失败", slog.Any("error", err))
			return fmt.Sprintf("Error: Failed to initialize browser. Details: %v", err), nil
		}
		t.session = session
		t.logger.Info("浏览器已启动")
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.perform(callCtx, action, a)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		t.logger.Warn("浏览器动作超时", slog.String("action", action), slog.Any("error", err))
		return fmt.Sprintf("Error: Timeout occurred during browser action '%s': %v", action, err), nil
	}
	t.logger.Error("浏览器动作失败", slog.String("action", action), slog.Any("error", err))
	return fmt.Sprintf("Error during browser action '%s': %v", action, err), nil
}

func (t *Tool) perform(ctx context.Context, action string, a args) (string, error) {
	switch action {
	case "goto":
		if a.URL == "" {
			return "Error: 'url' parameter missing for 'goto' action.", nil
		}
		current, err := t.session.Navigate(ctx, a.URL)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully navigated to %s. Current URL: %s", a.URL, current), nil

	case "fill":
		if a.Selector == "" {
			return "Error: 'selector' parameter missing for 'fill' action.", nil
		}
		if a.Value == "" {
			return "Error: 'value' parameter missing for 'fill' action.", nil
		}
		if err := t.session.Fill(ctx, a.Selector, a.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully filled selector '%s'.", a.Selector), nil

	case "click":
		if a.Selector == "" {
			return "Error: 'selector' parameter missing for 'click' action.", nil
		}
		current, err := t.session.Click(ctx, a.Selector)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully clicked selector '%s'. Current URL: %s", a.Selector, current), nil

	case "get_content":
		page, elements, err := t.session.Content(ctx)
		if err != nil {
			return "", err
		}
		interactive := strings.Join(elements, "\n")
		if len(page) > contentLimit {
			page = page[:contentLimit] + "... (HTML content truncated)"
		}
		if len(interactive) > contentLimit {
			interactive = interactive[:contentLimit] + "... (interactive elements truncated)"
		}
		return fmt.Sprintf("Full page HTML:\n%s\n\nInteractive elements:\n%s", page, interactive), nil

	case "screenshot":
		if a.Path == "" {
			return "Error: 'path' parameter missing for 'screenshot' action.", nil
		}
		if err := t.session.Screenshot(ctx, a.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("Screenshot saved to '%s'.", a.Path), nil

	default:
		return fmt.Sprintf("Error: Unknown browser_automation action '%s'.", action), nil
	}
}

// Close shuts the browser down if it is running.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Tool) closeLocked() {
	if t.session == nil {
		return
	}
	if err := t.session.Close(); err != nil {
		t.logger.Warn("关闭浏览器失败", slog.Any("error", err))
	}
	t.session = nil
	t.logger.Info("浏览器已关闭")
}

var _ tool.Tool = (*Tool)(nil)
