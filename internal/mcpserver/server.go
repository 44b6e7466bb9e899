// Package mcpserver 通过 Model Context Protocol 把工具表暴露给外部客户端。
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"AutoAgent/internal/registry"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// InputArgument 是承载原始动作输入的参数名。
const InputArgument = "input"

const toolSchema = `{
  "type": "object",
  "properties": {
    "input": {"type": "string", "description": "Raw action input. Omit it and pass named arguments instead for tools that accept JSON."}
  },
  "additionalProperties": true
}`

// Toolbox 是服务器需要的工具表能力，由 registry.Registry 实现。
type Toolbox interface {
	Available() []registry.Descriptor
	Call(ctx context.Context, name, raw string) tool.Outcome
}

var _ Toolbox = (*registry.Registry)(nil)

type options struct {
	name    string
	version string
	logger  *slog.Logger
}

// Option 调整服务器配置。
type Option func(*options)

// WithName 设置向客户端报告的服务名。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithVersion 设置向客户端报告的版本号。
func WithVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.version = version
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New 为工具表中的每个工具注册一个 MCP 工具。
func New(tools Toolbox, opts ...Option) *server.MCPServer {
	cfg := options{name: "autoagent", version: "dev"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("mcp")
	}

	s := server.NewMCPServer(cfg.name, cfg.version, server.WithToolCapabilities(true))
	for _, desc := range tools.Available() {
		description := desc.Description
		if desc.Dangerous {
			description += " (dangerous)"
		}
		s.AddTool(mcp.NewToolWithRawSchema(desc.Name, description, json.RawMessage(toolSchema)),
			handlerFor(tools, desc.Name, cfg.logger))
		cfg.logger.Debug("已暴露工具", slog.String("tool", desc.Name), slog.String("source", desc.Source))
	}
	return s
}

// ServeStdio 通过标准输入输出提供服务，直到客户端断开。
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func handlerFor(tools Toolbox, name string, log *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := RawInput(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error: failed to encode arguments: %v", err)), nil
		}
		outcome := tools.Call(ctx, name, raw)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		observation := outcome.Observation(name)
		if outcome.Failed() || strings.HasPrefix(observation, "Error") {
			log.Warn("工具调用失败", slog.String("tool", name), slog.Any("error", outcome.Err()))
			return mcp.NewToolResultError(observation), nil
		}
		return mcp.NewToolResultText(observation), nil
	}
}

// RawInput 把客户端参数还原为动作输入：仅含 input 字符串时原样传递，
// 否则编码为 JSON 对象。
func RawInput(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	if len(args) == 1 {
		if text, ok := args[InputArgument].(string); ok {
			return text, nil
		}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
