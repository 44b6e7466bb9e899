// Package provider 根据配置选择并构建模型后端。
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
	"AutoAgent/internal/llm/anthropic"
	"AutoAgent/internal/llm/gemini"
	"AutoAgent/internal/llm/ollama"
	"AutoAgent/internal/llm/openai"
	"AutoAgent/internal/llm/pythonbridge"
	"AutoAgent/pkg/logger"
)

// 支持的后端名称。
const (
	OpenAI       = "openai"
	Gemini       = "gemini"
	Anthropic    = "anthropic"
	Ollama       = "ollama"
	PythonBridge = "python_bridge"
)

// Config 是配置文件中的 llm 段。
type Config struct {
	Provider     string              `yaml:"provider"`
	OpenAI       openai.Config       `yaml:"openai"`
	Gemini       gemini.Config       `yaml:"gemini"`
	Anthropic    anthropic.Config    `yaml:"anthropic"`
	Ollama       ollama.Config       `yaml:"ollama"`
	PythonBridge pythonbridge.Config `yaml:"python_bridge"`
	Retry        llm.RetryConfig     `yaml:"retry"`
}

// Supported 返回全部后端名称。
func Supported() []string {
	return []string{OpenAI, Gemini, Anthropic, Ollama, PythonBridge}
}

// New 根据 provider 字段构建客户端，并包装统一的重试策略。
func New(ctx context.Context, cfg Config) (llm.Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	var (
		client llm.Client
		err    error
	)
	switch name {
	case OpenAI:
		client, err = openai.NewClient(cfg.OpenAI)
	case Gemini:
		client, err = gemini.NewClient(ctx, cfg.Gemini, nil)
	case Anthropic:
		client, err = anthropic.NewClient(cfg.Anthropic)
	case Ollama:
		var oc *ollama.Client
		oc, err = ollama.NewClient(cfg.Ollama)
		if err == nil {
			err = oc.CheckConnection(ctx)
		}
		client = oc
	case PythonBridge:
		client, err = pythonbridge.NewClient(cfg.PythonBridge)
	case "":
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未配置 llm.provider")
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("不支持的模型后端 %q，可选值: %s", cfg.Provider, strings.Join(Supported(), ", ")))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "初始化模型后端失败",
			xerrors.WithMetadata("provider", name))
	}
	logger.Named("llm").Info("模型后端已初始化",
		slog.String("provider", name),
		slog.String("model", client.ModelName()))
	return llm.NewRetrying(client, cfg.Retry), nil
}
