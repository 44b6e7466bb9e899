// Package autoagent is a small Go client for the AutoAgent REST API. It lets
// other services submit background goals and poll for their results.
package autoagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the AutoAgent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TaskRequest is the payload required to create a new background goal.
type TaskRequest struct {
	ID           string         `json:"id,omitempty"`
	Goal         string         `json:"goal"`
	AllowedTools []string       `json:"allowed_tools,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ExecutionResult is the outcome of a finished sub-agent run.
type ExecutionResult struct {
	Outcome    string `json:"outcome"`
	Answer     string `json:"answer,omitempty"`
	Message    string `json:"message"`
	Iterations int    `json:"iterations"`
}

// Task is the server view of a background goal.
type Task struct {
	ID           string           `json:"id"`
	Goal         string           `json:"goal"`
	AllowedTools []string         `json:"allowed_tools,omitempty"`
	Source       string           `json:"source,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Status       string           `json:"status"`
	Attempts     int              `json:"attempts"`
	MaxRetries   int              `json:"max_retries"`
	LastError    string           `json:"last_error,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	CreatedAt    int64            `json:"created_at"`
	UpdatedAt    int64            `json:"updated_at"`
}

// Terminal reports whether the task has finished.
func (t Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// Stats aggregates matching tasks by status and by submission source.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	BySource     map[string]int `json:"by_source,omitempty"`
	OldestUpdate int64          `json:"oldest_update,omitempty"`
	NewestUpdate int64          `json:"newest_update,omitempty"`
}

// Tool describes a tool registered on the server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Dangerous   bool   `json:"dangerous"`
	Source      string `json:"source"`
}

// ListParams filters ListTasks. Zero values are omitted.
type ListParams struct {
	Limit     int
	Offset    int
	Statuses  []string
	Sources   []string
	Since     time.Time
	Until     time.Time
	Query     string
	HasResult *bool
	Ascending bool
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	if len(p.Statuses) > 0 {
		v.Set("status", strings.Join(p.Statuses, ","))
	}
	if len(p.Sources) > 0 {
		v.Set("source", strings.Join(p.Sources, ","))
	}
	if !p.Since.IsZero() {
		v.Set("since", p.Since.UTC().Format(time.RFC3339))
	}
	if !p.Until.IsZero() {
		v.Set("until", p.Until.UTC().Format(time.RFC3339))
	}
	if p.Query != "" {
		v.Set("q", p.Query)
	}
	if p.HasResult != nil {
		v.Set("has_result", strconv.FormatBool(*p.HasResult))
	}
	if p.Ascending {
		v.Set("order", "asc")
	}
	return v
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("autoagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("autoagent api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the AutoAgent API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets a bearer token sent with every request, for servers
// running behind an authenticating proxy.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitTask queues a new background goal.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest) (Task, error) {
	var task Task
	if err := c.post(ctx, "/api/v1/tasks", req, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.get(ctx, "/api/v1/tasks/"+taskID, nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks returns tasks matching params, most recently updated first
// unless Ascending is set.
func (c *Client) ListTasks(ctx context.Context, params ListParams) ([]Task, error) {
	var payload struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/tasks", params.values(), &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}

// Stats returns task counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/tasks/stats", nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Tools lists the tools registered on the server.
func (c *Client) Tools(ctx context.Context) ([]Tool, error) {
	var payload struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.get(ctx, "/api/v1/tools", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

// WaitForTask polls until the task finishes or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
