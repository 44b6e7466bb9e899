// Package gemini 通过 google.golang.org/genai 调用 Gemini 模型。
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
)

const (
	provider         = "Gemini"
	defaultModelName = "gemini-1.5-flash-latest"
	defaultTemp      = 0.7
)

// Config 描述 Gemini 客户端配置。
type Config struct {
	APIKey          string   `yaml:"api_key"`
	BaseURL         string   `yaml:"base_url"`
	Model           string   `yaml:"model"`
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	TopP            *float64 `yaml:"top_p"`
	TopK            *float64 `yaml:"top_k"`
}

// Client 调用 Gemini API 生成文本。
type Client struct {
	client *genai.Client
	model  string
	config genai.GenerateContentConfig
}

// NewClient 创建 Gemini 客户端。httpClient 可为空。
func NewClient(ctx context.Context, cfg Config, httpClient *http.Client) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未提供 Gemini API Key")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "创建 Gemini 客户端失败")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	temperature := defaultTemp
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	gen := genai.GenerateContentConfig{Temperature: genai.Ptr(float32(temperature))}
	if cfg.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}
	if cfg.TopP != nil {
		gen.TopP = genai.Ptr(float32(*cfg.TopP))
	}
	if cfg.TopK != nil {
		gen.TopK = genai.Ptr(float32(*cfg.TopK))
	}
	return &Client{client: client, model: model, config: gen}, nil
}

// ModelName 实现 llm.Client。
func (c *Client) ModelName() string { return c.model }

// Generate 调用 Gemini 生成回复。
func (c *Client) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	cfg := c.config
	if len(stop) > 0 {
		cfg.StopSequences = append([]string(nil), stop...)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", llm.StatusError(provider, apiErr.Code, apiErr.Message)
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
			return "", llm.StatusError(provider, apiErrPtr.Code, apiErrPtr.Message)
		}
		return "", llm.TransportError(provider, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", xerrors.New(xerrors.CodeModelRejected, "Gemini 拒绝了提示词: "+string(resp.PromptFeedback.BlockReason))
		}
		return "", llm.EmptyResponse(provider)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", llm.EmptyResponse(provider)
	}
	return text, nil
}

var _ llm.Client = (*Client)(nil)
