package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AutoAgent/pkg/tool"
)

const (
	// APIClientName is the registry key of the api_client tool.
	APIClientName = "api_client"

	defaultAPITimeout = 30 * time.Second
	defaultMaxRetries = 3
	apiRetryDelay     = time.Second
)

// APIClientConfig is the api_client configuration section.
type APIClientConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// APIClient sends HTTP requests to REST endpoints on behalf of the model.
type APIClient struct {
	fetcher
	maxRetries int
	retryDelay time.Duration
}

type apiRequest struct {
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Params  map[string]any    `mapstructure:"params"`
	Data    any               `mapstructure:"data"`
}

// NewAPIClient returns the api_client tool.
func NewAPIClient(cfg APIClientConfig, opts ...Option) *APIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAPITimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	c := &APIClient{
		fetcher:    newFetcher(cfg.Timeout, "", "tool.api_client", opts),
		maxRetries: cfg.MaxRetries,
		retryDelay: apiRetryDelay,
	}
	c.logger.Info("API 客户端工具已初始化", slog.Duration("timeout", cfg.Timeout), slog.Int("max_retries", c.maxRetries))
	return c
}

// APIClientFactory builds the tool from a configuration section.
func APIClientFactory(section map[string]any) (tool.Tool, error) {
	var cfg APIClientConfig
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	return NewAPIClient(cfg), nil
}

// Name implements tool.Tool.
func (c *APIClient) Name() string { return APIClientName }

// Description implements tool.Tool.
func (c *APIClient) Description() string {
	return "Makes HTTP requests to REST APIs. " +
		"Input is a dictionary with: 'method' (GET, POST, etc.), 'url' (API endpoint), " +
		"'headers' (optional HTTP headers), 'params' (optional URL parameters), " +
		"and 'data' (optional request body). " +
		"Returns the API response as text."
}

// Dangerous implements tool.Tool.
func (c *APIClient) Dangerous() bool { return false }

// Execute implements tool.Tool.
func (c *APIClient) Execute(ctx context.Context, in tool.Input) (string, error) {
	var r apiRequest
	if err := tool.Bind(in, &r, "url"); err != nil {
		return "", err
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return "Error: Missing 'url' parameter.", nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, err := c.do(ctx, r)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.logger.Error("API 请求失败",
			slog.Int("attempt", attempt),
			slog.String("method", r.Method),
			slog.String("url", r.URL),
			slog.Any("error", err))
		if attempt < c.maxRetries {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Sprintf("Failed after %d attempts. Last error: %v", c.maxRetries, lastErr), nil
}

// do sends one attempt. Status codes of 400 and above count as failures.
func (c *APIClient) do(ctx context.Context, r apiRequest) (string, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	if len(r.Params) > 0 {
		query := target.Query()
		for key, value := range r.Params {
			if values, ok := value.([]any); ok {
				for _, v := range values {
					query.Add(key, fmt.Sprint(v))
				}
				continue
			}
			query.Set(key, fmt.Sprint(value))
		}
		target.RawQuery = query.Encode()
	}

	var (
		payload     io.Reader
		contentType string
	)
	switch data := r.Data.(type) {
	case nil:
	case string:
		payload = strings.NewReader(data)
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		payload = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), payload)
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), target)
	}
	return string(body), nil
}

var _ tool.Tool = (*APIClient)(nil)
