package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// ToolName 是知识检索工具在注册表中的名称。
const ToolName = "knowledge_lookup"

// Config 是知识检索工具的配置段。
type Config struct {
	Path       string `mapstructure:"path"`
	MaxResults int    `mapstructure:"max_results"`
}

// Lookup 把 Provider 包装为工具。
type Lookup struct {
	provider Provider
	logger   *slog.Logger
}

// NewLookup 创建知识检索工具。
func NewLookup(provider Provider) *Lookup {
	return &Lookup{provider: provider, logger: logger.Named("tool.knowledge")}
}

// Factory 根据配置加载知识库；未配置路径时不注册工具。
func Factory(section map[string]any) (tool.Tool, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	provider, err := LoadStaticProvider(cfg.Path, cfg.MaxResults)
	if err != nil {
		return nil, err
	}
	logger.Named("tool.knowledge").Info("知识库已加载", slog.String("path", cfg.Path), slog.Int("entries", provider.Len()))
	return NewLookup(provider), nil
}

// Name 实现 tool.Tool。
func (l *Lookup) Name() string { return ToolName }

// Description 实现 tool.Tool。
func (l *Lookup) Description() string {
	return "Searches the local knowledge base for reference notes relevant to a topic. " +
		"Input is the topic or question to look up. Returns matching notes with their titles."
}

// Dangerous 实现 tool.Tool。
func (l *Lookup) Dangerous() bool { return false }

// Execute 实现 tool.Tool。
func (l *Lookup) Execute(_ context.Context, in tool.Input) (string, error) {
	var a struct {
		Query string `mapstructure:"query"`
	}
	if err := tool.Bind(in, &a, "query"); err != nil {
		return "", err
	}
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return "Error: No query provided for knowledge lookup.", nil
	}
	snippets := l.provider.Query(query)
	l.logger.Debug("知识检索完成", slog.String("query", query), slog.Int("matches", len(snippets)))
	if len(snippets) == 0 {
		return fmt.Sprintf("No knowledge entries found for '%s'.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d knowledge entries for '%s':", len(snippets), query)
	for i, s := range snippets {
		fmt.Fprintf(&b, "\n\n%d. %s\n%s", i+1, s.Title, strings.TrimSpace(s.Content))
	}
	return b.String(), nil
}

var _ tool.Tool = (*Lookup)(nil)
