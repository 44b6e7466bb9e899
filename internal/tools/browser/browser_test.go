package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

type fakeSession struct {
	url     string
	filled  map[string]string
	shots   []string
	closed  bool
	failing error
	html    string
}

func (f *fakeSession) Navigate(ctx context.Context, url string) (string, error) {
	if f.failing != nil {
		return "", f.failing
	}
	f.url = url + "/"
	return f.url, nil
}

func (f *fakeSession) Fill(_ context.Context, selector, value string) error {
	f.filled[selector] = value
	return nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) (string, error) {
	if selector == "#slow" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.url + "next", nil
}

func (f *fakeSession) Content(context.Context) (string, []string, error) {
	return f.html, []string{`<input id="q">`, `<button>Go</button>`}, nil
}

func (f *fakeSession) Screenshot(_ context.Context, path string) error {
	f.shots = append(f.shots, path)
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func newTool(t *testing.T, launches *int, session *fakeSession) *Tool {
	t.Helper()
	return New(Config{}, WithLauncher(func(context.Context) (Session, error) {
		*launches++
		return session, nil
	}))
}

func run(t *testing.T, b *Tool, args map[string]any) string {
	t.Helper()
	out, err := b.Execute(context.Background(), tool.StructuredInput(args))
	require.NoError(t, err)
	return out
}

func TestBrowserActions(t *testing.T) {
	launches := 0
	session := &fakeSession{filled: map[string]string{}, html: "<html></html>"}
	b := newTool(t, &launches, session)

	assert.Equal(t, "Successfully navigated to https://example.com. Current URL: https://example.com/",
		run(t, b, map[string]any{"action": "goto", "url": "https://example.com"}))
	assert.Equal(t, "Successfully filled selector '#q'.",
		run(t, b, map[string]any{"action": "fill", "selector": "#q", "value": "go"}))
	assert.Equal(t, "Successfully clicked selector 'button'. Current URL: https://example.com/next",
		run(t, b, map[string]any{"action": "CLICK", "selector": "button"}))
	assert.Equal(t, "Full page HTML:\n<html></html>\n\nInteractive elements:\n<input id=\"q\">\n<button>Go</button>",
		run(t, b, map[string]any{"action": "get_content"}))
	assert.Equal(t, "Screenshot saved to 'shot.png'.",
		run(t, b, map[string]any{"action": "screenshot", "path": "shot.png"}))

	assert.Equal(t, 1, launches)
	assert.Equal(t, "go", session.filled["#q"])
	assert.Equal(t, []string{"shot.png"}, session.shots)

	assert.Equal(t, "Browser instance closed.", run(t, b, map[string]any{"action": "close_browser"}))
	assert.True(t, session.closed)
	run(t, b, map[string]any{"action": "get_content"})
	assert.Equal(t, 2, launches)
}

func TestBrowserTruncatesContent(t *testing.T) {
	launches := 0
	b := newTool(t, &launches, &fakeSession{html: strings.Repeat("x", contentLimit+10)})

	out := run(t, b, map[string]any{"action": "get_content"})
	assert.Contains(t, out, "... (HTML content truncated)")
}

func TestBrowserValidation(t *testing.T) {
	launches := 0
	b := newTool(t, &launches, &fakeSession{filled: map[string]string{}})

	cases := map[string]map[string]any{
		"Error: No action specified for browser_automation tool.":  {"url": "x"},
		"Error: 'url' parameter missing for 'goto' action.":        {"action": "goto"},
		"Error: 'selector' parameter missing for 'fill' action.":   {"action": "fill", "value": "x"},
		"Error: 'value' parameter missing for 'fill' action.":      {"action": "fill", "selector": "#a"},
		"Error: 'selector' parameter missing for 'click' action.":  {"action": "click"},
		"Error: 'path' parameter missing for 'screenshot' action.": {"action": "screenshot"},
		"Error: Unknown browser_automation action 'scroll'.":       {"action": "scroll"},
	}
	for want, args := range cases {
		assert.Equal(t, want, run(t, b, args))
	}
}

func TestBrowserFailures(t *testing.T) {
	b := New(Config{}, WithLauncher(func(context.Context) (Session, error) {
		return nil, errors.New("chromium not found")
	}))
	assert.Equal(t, "Error: Failed to initialize browser. Details: chromium not found",
		run(t, b, map[string]any{"action": "goto", "url": "https://example.com"}))

	launches := 0
	session := &fakeSession{failing: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	b = newTool(t, &launches, session)
	assert.Equal(t, "Error during browser action 'goto': net::ERR_NAME_NOT_RESOLVED",
		run(t, b, map[string]any{"action": "goto", "url": "https://nowhere.invalid"}))

	b = New(Config{Timeout: 20 * time.Millisecond}, WithLauncher(func(context.Context) (Session, error) {
		return &fakeSession{}, nil
	}))
	out := run(t, b, map[string]any{"action": "click", "selector": "#slow"})
	assert.True(t, strings.HasPrefix(out, "Error: Timeout occurred during browser action 'click':"), out)
}
