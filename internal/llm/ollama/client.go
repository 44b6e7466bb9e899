// Package ollama 通过 Ollama 的 OpenAI 兼容接口（/v1）调用本地模型。
package ollama

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
	"AutoAgent/pkg/logger"
)

const (
	provider       = "Ollama"
	defaultHost    = "http://localhost:11434"
	defaultTimeout = 120 * time.Second
	// Ollama 不校验密钥，但 SDK 要求非空。
	placeholderKey = "ollama"
)

// Config 描述 Ollama 客户端配置。
type Config struct {
	Host        string        `yaml:"host"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client 通过 openai-go 访问 Ollama 的 /v1/chat/completions。
type Client struct {
	client      *sdk.Client
	host        string
	model       string
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
}

// NewClient 根据配置创建客户端。extra 主要用于测试时替换 HTTP 客户端。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未指定 Ollama 模型名称")
	}
	host := cmp.Or(strings.TrimRight(strings.TrimSpace(cfg.Host), "/"), defaultHost)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := append([]option.RequestOption{
		option.WithBaseURL(host + "/v1/"),
		option.WithAPIKey(placeholderKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}, extra...)
	client := sdk.NewClient(opts...)
	return &Client{
		client:      &client,
		host:        host,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("llm"),
	}, nil
}

// ModelName 实现 llm.Client。
func (c *Client) ModelName() string { return c.model }

// CheckConnection 检查服务是否可达，模型未拉取时只记录警告。
func (c *Client) CheckConnection(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "无法连接 Ollama 服务 "+c.host)
	}
	base, _, _ := strings.Cut(c.model, ":")
	for _, m := range page.Data {
		if strings.Contains(m.ID, base) {
			return nil
		}
	}
	c.logger.Warn("Ollama 服务上未找到模型，请先拉取", slog.String("model", c.model))
	return nil
}

// Generate 调用 Ollama 生成回复。
func (c *Client) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(prompt)},
	}
	if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(c.maxTokens))
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
	if resp.Usage.CompletionTokens > 0 {
		c.logger.Debug("Ollama 生成统计", slog.Int64("tokens", resp.Usage.CompletionTokens))
	}
	if len(resp.Choices) == 0 {
		return "", llm.EmptyResponse(provider)
	}
	if text := strings.TrimSpace(resp.Choices[0].Message.Content); text != "" {
		return text, nil
	}
	return "", llm.EmptyResponse(provider)
}

var _ llm.Client = (*Client)(nil)
