package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"AutoAgent/pkg/tool"
)

const (
	// SearchName is the registry key of the web_search tool.
	SearchName = "web_search"
	// DefaultSearchEndpoint is the DuckDuckGo HTML front end.
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

	defaultNumResults  = 10
	defaultNumToScrape = 3
	scrapeLimit        = 4000
	scrapeTotalLimit   = 8000
	searchOutputLimit  = 15000
)

// SearchConfig is the web_search configuration section.
type SearchConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	NumResults int    `mapstructure:"num_results"`
	// NumResultsToScrape may be 0 to return the result list only.
	NumResultsToScrape *int          `mapstructure:"num_results_to_scrape"`
	Region             string        `mapstructure:"region"`
	Safe               string        `mapstructure:"safe"`
	Timeout            time.Duration `mapstructure:"timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
}

// Search runs a web search and scrapes the top results.
type Search struct {
	fetcher
	endpoint   string
	numResults int
	numScrape  int
	region     string
	safe       string
}

type hit struct {
	title       string
	url         string
	description string
}

// NewSearch returns the web_search tool.
func NewSearch(cfg SearchConfig, opts ...Option) *Search {
	if cfg.NumResults <= 0 {
		cfg.NumResults = defaultNumResults
	}
	numScrape := defaultNumToScrape
	if cfg.NumResultsToScrape != nil {
		numScrape = max(*cfg.NumResultsToScrape, 0)
	}
	s := &Search{
		fetcher:    newFetcher(cfg.Timeout, cfg.UserAgent, "tool.web_search", opts),
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		numResults: cfg.NumResults,
		numScrape:  min(numScrape, cfg.NumResults),
		region:     cfg.Region,
		safe:       strings.ToLower(cfg.Safe),
	}
	if s.endpoint == "" {
		s.endpoint = DefaultSearchEndpoint
	}
	s.logger.Info("搜索工具已初始化",
		slog.String("endpoint", s.endpoint),
		slog.Int("num_results", s.numResults),
		slog.Int("num_results_to_scrape", s.numScrape))
	return s
}

// SearchFactory builds the tool from a configuration section.
func SearchFactory(section map[string]any) (tool.Tool, error) {
	var cfg SearchConfig
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	return NewSearch(cfg), nil
}

// Name implements tool.Tool.
func (s *Search) Name() string { return SearchName }

// Description implements tool.Tool.
func (s *Search) Description() string {
	return "Performs a web search. Input is the search query string. " +
		"Returns a list of search results (title, URL, description). " +
		fmt.Sprintf("Also scrapes and includes the content of the top N results (configurable, default %d).", defaultNumToScrape)
}

// Dangerous implements tool.Tool.
func (s *Search) Dangerous() bool { return false }

// Execute implements tool.Tool.
func (s *Search) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a struct {
		Query string `mapstructure:"query"`
	}
	if err := tool.Bind(in, &a, "query"); err != nil {
		return "", err
	}
	query := strings.Trim(strings.TrimSpace(a.Query), `'"`)
	if query == "" {
		return "Error: No search query provided.", nil
	}
	s.logger.Info("执行网页搜索", slog.String("query", query))

	hits, failure, err := s.search(ctx, query)
	if err != nil {
		return "", err
	}
	if failure != "" {
		return failure, nil
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No search results found for '%s'.", query), nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Search results for '%s':\n", query)
	for i, h := range hits {
		fmt.Fprintf(&out, "%d. %s\n   URL: %s\n   Description: %s\n\n", i+1, h.title, h.url, h.description)
	}

	if scrape := hits[:min(s.numScrape, len(hits))]; len(scrape) > 0 {
		fmt.Fprintf(&out, "\n--- Content of Top %d Result(s) ---\n", len(scrape))
		var combined string
		for i, h := range scrape {
			s.logger.Info("抓取搜索结果", slog.Int("rank", i+1), slog.String("url", h.url))
			content, err := s.scrape(ctx, h.url)
			if err != nil {
				return "", err
			}
			combined += fmt.Sprintf("\n--- Scraped Content from Result %d (%s) ---\n", i+1, h.url) + content + "\n"
			if runes := []rune(combined); len(runes) > scrapeTotalLimit {
				s.logger.Warn("抓取内容超出总长度限制，停止抓取", slog.Int("limit", scrapeTotalLimit))
				combined = string(runes[:scrapeTotalLimit]) + "\n... (total scraped content truncated)"
				break
			}
		}
		out.WriteString(combined)
		out.WriteString("\n--- End of Scraped Content ---")
	}

	result := out.String()
	if runes := []rune(result); len(runes) > searchOutputLimit {
		result = string(runes[:searchOutputLimit]) + "\n... (overall output truncated)"
	}
	return strings.TrimSpace(result), nil
}

// search queries the endpoint and returns at most numResults hits.
func (s *Search) search(ctx context.Context, query string) ([]hit, string, error) {
	target, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Sprintf("Error: An unexpected error occurred during web search for '%s': %v", query, err), nil
	}
	params := target.Query()
	params.Set("q", query)
	if s.region != "" {
		params.Set("kl", s.region)
	}
	switch s.safe {
	case "on", "strict":
		params.Set("kp", "1")
	case "off":
		params.Set("kp", "-2")
	}
	target.RawQuery = params.Encode()

	resp, err := s.get(ctx, target.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		s.logger.Error("搜索请求失败", slog.String("query", query), slog.Any("error", err))
		return nil, fmt.Sprintf("Error: An unexpected error occurred during web search for '%s': %v", query, err), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		s.logger.Warn("搜索请求被限流", slog.String("query", query))
		return nil, fmt.Sprintf("Error: Web search failed likely due to rate limiting. Please try again later or reduce request frequency. Details: status %d", resp.StatusCode), nil
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Sprintf("Error: An unexpected error occurred during web search for '%s': status %d", query, resp.StatusCode), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Sprintf("Error: An unexpected error occurred during web search for '%s': %v", query, err), nil
	}
	hits, err := parseResults(string(body))
	if err != nil {
		return nil, fmt.Sprintf("Error: An unexpected error occurred during web search for '%s': %v", query, err), nil
	}
	return hits[:min(len(hits), s.numResults)], "", nil
}

func (s *Search) scrape(ctx context.Context, target string) (string, error) {
	text, failure, err := s.page(ctx, target)
	switch {
	case err != nil:
		return "", err
	case failure != "":
		return failure, nil
	case text == "":
		return "Successfully accessed URL, but no significant text content found.", nil
	}
	if runes := []rune(text); len(runes) > scrapeLimit {
		text = string(runes[:scrapeLimit]) + "..."
	}
	return text, nil
}

// parseResults reads the DuckDuckGo HTML result page: each result title is an
// a.result__a and its snippet the next .result__snippet element.
func parseResults(document string) ([]hit, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil, err
	}
	var hits []hit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.A && hasClass(n, "result__a"):
				hits = append(hits, hit{title: textOf(n), url: resultLink(attr(n, "href")), description: "N/A"})
				return
			case hasClass(n, "result__snippet") && len(hits) > 0:
				if last := &hits[len(hits)-1]; last.description == "N/A" {
					last.description = textOf(n)
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return hits, nil
}

// resultLink unwraps the /l/?uddg= redirect used on result links.
func resultLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var parts []string
	collectText(n, &parts)
	return strings.Join(parts, " ")
}

var _ tool.Tool = (*Search)(nil)
