package web

import (
	"cmp"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"AutoAgent/pkg/logger"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	maxBodyBytes     = 5 << 20
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Option customizes the HTTP side of a web tool.
type Option func(*fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// fetcher downloads pages and reduces them to text.
type fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func newFetcher(timeout time.Duration, userAgent, name string, opts []Option) fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	f := fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: cmp.Or(strings.TrimSpace(userAgent), defaultUserAgent),
		logger:    logger.Named(name),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&f)
		}
	}
	return f
}

// get issues a GET request with the configured user agent.
func (f *fetcher) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	return f.client.Do(req)
}

// page returns the readable text of target with blank runs collapsed. A
// failure the model should read comes back as an "Error: ..." message; err is
// only set when ctx ends.
func (f *fetcher) page(ctx context.Context, target string) (text, failure string, err error) {
	resp, err := f.get(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		var netErr net.Error
		if stdErrors.As(err, &netErr) && netErr.Timeout() {
			f.logger.Error("访问网页超时", slog.String("url", target))
			return "", fmt.Sprintf("Error: Timeout while trying to access %s", target), nil
		}
		f.logger.Error("访问网页失败", slog.String("url", target), slog.Any("error", err))
		return "", fmt.Sprintf("Error: Could not access %s. Reason: %v", target, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Sprintf("Error: Failed to access %s. Status code: %d", target, resp.StatusCode), nil
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	isHTML := strings.Contains(contentType, "text/html")
	if !isHTML && !strings.Contains(contentType, "text/plain") {
		f.logger.Warn("跳过非文本内容", slog.String("url", target), slog.String("content_type", contentType))
		return "", fmt.Sprintf("Error: Content type '%s' is not scrapable text/html.", contentType), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Sprintf("Error: Could not access %s. Reason: %v", target, err), nil
	}
	text = string(body)
	if isHTML {
		if text, err = ExtractText(text); err != nil {
			return "", fmt.Sprintf("Error: An unexpected error occurred while accessing %s: %v", target, err), nil
		}
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n")), "", nil
}
