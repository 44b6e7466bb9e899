// Package anthropic 通过官方 SDK 调用 Claude 系列模型。
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
)

const (
	provider         = "Anthropic"
	defaultModelName = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config 描述 Anthropic 客户端配置。
type Config struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client 调用 Anthropic Messages API。
type Client struct {
	client      *sdk.Client
	model       string
	maxTokens   int64
	temperature *float64
}

// NewClient 根据配置创建客户端。额外的 SDK 选项主要用于测试。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未提供 Anthropic API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)

	client := sdk.NewClient(opts...)
	return &Client{client: &client, model: model, maxTokens: maxTokens, temperature: cfg.Temperature}, nil
}

// ModelName 实现 llm.Client。
func (c *Client) ModelName() string { return c.model }

// Generate 调用 Claude 生成回复。
func (c *Client) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}
	// 接口拒绝只含空白字符的停止序列。
	for _, seq := range stop {
		if strings.TrimSpace(seq) != "" {
			params.StopSequences = append(params.StopSequences, seq)
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", llm.StatusError(provider, apiErr.StatusCode, apiErr.Error())
		}
		return "", llm.TransportError(provider, err)
	}

	var builder strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", llm.EmptyResponse(provider)
	}
	return text, nil
}

var _ llm.Client = (*Client)(nil)
