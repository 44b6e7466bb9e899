// Package web provides the HTTP-facing tools: open_url fetches a page and
// reduces it to readable text, web_search queries a search engine and scrapes
// the top hits, api_client calls REST endpoints.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"AutoAgent/pkg/tool"
)

const (
	// Name is the registry key of the tool.
	Name = "open_url"

	defaultMaxLength = 8000
)

// Config is the tool's configuration section.
type Config struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxLength int           `mapstructure:"max_length"`
	UserAgent string        `mapstructure:"user_agent"`
}

// OpenURL fetches web pages over HTTP.
type OpenURL struct {
	fetcher
	maxLength int
}

// New returns the open_url tool.
func New(cfg Config, opts ...Option) *OpenURL {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxLength
	}
	return &OpenURL{
		fetcher:   newFetcher(cfg.Timeout, cfg.UserAgent, "tool.open_url", opts),
		maxLength: cfg.MaxLength,
	}
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
func (o *OpenURL) Name() string { return Name }

// Description implements tool.Tool.
func (o *OpenURL) Description() string {
	return "Opens and retrieves content from a specific URL. " +
		"Input is the URL you want to access. " +
		"Returns the text content of the webpage or an error message if the URL cannot be accessed."
}

// Dangerous implements tool.Tool.
func (o *OpenURL) Dangerous() bool { return false }

// Execute implements tool.Tool.
func (o *OpenURL) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a struct {
		URL string `mapstructure:"url"`
	}
	if err := tool.Bind(in, &a, "url"); err != nil {
		return "", err
	}
	target := strings.Trim(strings.TrimSpace(a.URL), `'"`)
	if target == "" {
		return "Error: No URL provided.", nil
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	o.logger.Info("打开网页", slog.String("url", target))

	text, failure, err := o.page(ctx, target)
	if err != nil {
		return "", err
	}
	if failure != "" {
		return failure, nil
	}

	if runes := []rune(text); len(runes) > o.maxLength {
		o.logger.Info("网页内容已截断", slog.String("url", target), slog.Int("length", len(runes)))
		text = string(runes[:o.maxLength]) + "... (content truncated)"
	}
	if text == "" {
		return fmt.Sprintf("Successfully accessed URL %s, but no significant text content found.", target), nil
	}
	return fmt.Sprintf("Content from %s:\n\n%s", target, text), nil
}

// ExtractText returns the visible text of an HTML document, one text node per
// line. Scripts and styles are dropped and the main content region is
// preferred over the whole body.
func ExtractText(document string) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", err
	}
	region := findFirst(root, isMainRegion)
	if region == nil {
		region = findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if region == nil {
		region = root
	}
	var lines []string
	collectText(region, &lines)
	return strings.Join(lines, "\n"), nil
}

func isMainRegion(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Main, atom.Article:
		return true
	case atom.Div:
		for _, attr := range n.Attr {
			if attr.Key == "role" && attr.Val == "main" {
				return true
			}
		}
	}
	return false
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*lines = append(*lines, text)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, lines)
	}
}

var _ tool.Tool = (*OpenURL)(nil)
