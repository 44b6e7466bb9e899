// Package openai 通过官方 SDK 调用 OpenAI Chat Completions 接口。
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
)

const (
	provider         = "OpenAI"
	defaultModelName = "gpt-3.5-turbo"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1000
	defaultTemp      = 0.7
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client 通过 SDK 调用 OpenAI 提供的大模型能力。
type Client struct {
	client      *sdk.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewClient 根据配置创建 OpenAI 客户端。额外的 SDK 选项主要用于测试。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未提供 OpenAI API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	temperature := defaultTemp
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		// 重试由 llm.Retrying 统一负责。
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	opts = append(opts, extra...)

	client := sdk.NewClient(opts...)
	return &Client{
		client:      &client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// ModelName 实现 llm.Client。
func (c *Client) ModelName() string { return c.model }

// Generate 调用 OpenAI 生成回复。
func (c *Client) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(prompt)},
		Temperature: sdk.Float(c.temperature),
		MaxTokens:   sdk.Int(int64(c.maxTokens)),
	}
	if len(stop) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: stop}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", llm.StatusError(provider, apiErr.StatusCode, apiErr.Message)
		}
		return "", llm.TransportError(provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.EmptyResponse(provider)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", llm.EmptyResponse(provider)
	}
	return content, nil
}

var _ llm.Client = (*Client)(nil)
