package filesystem

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

const (
	// CodeModifierName is the registry key of the code_modifier tool.
	CodeModifierName = "code_modifier"

	codeReadLimit = 10000
)

// CodeModifierConfig is the code_modifier configuration section.
type CodeModifierConfig struct {
	// ProjectRoot defaults to the working directory of the process.
	ProjectRoot string `mapstructure:"project_root"`
}

// CodeModifier reads and rewrites source files of the agent's own project.
type CodeModifier struct {
	root   string
	logger *slog.Logger
}

// NewCodeModifier resolves the project root and returns the tool.
func NewCodeModifier(cfg CodeModifierConfig) (*CodeModifier, error) {
	root := strings.TrimSpace(cfg.ProjectRoot)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "解析项目根目录失败")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "项目根目录不可用", xerrors.WithMetadata("project_root", abs))
	}
	log := logger.Named("tool.code_modifier")
	log.Warn("代码修改工具已启用", slog.String("project_root", resolved))
	return &CodeModifier{root: resolved, logger: log}, nil
}

// CodeModifierFactory builds the tool from a configuration section.
func CodeModifierFactory(section map[string]any) (tool.Tool, error) {
	var cfg CodeModifierConfig
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	return NewCodeModifier(cfg)
}

// Name implements tool.Tool.
func (c *CodeModifier) Name() string { return CodeModifierName }

// Description implements tool.Tool.
func (c *CodeModifier) Description() string {
	return "Reads or modifies source code files within the agent's project directory. " +
		"EXTREMELY DANGEROUS. Input is a dictionary with 'action' ('read' or 'write'), " +
		"'file_path' (relative to the project root) and, for 'write', 'content' (the full new file content)."
}

// Dangerous implements tool.Tool.
func (c *CodeModifier) Dangerous() bool { return true }

// Root returns the resolved project root.
func (c *CodeModifier) Root() string { return c.root }

// Execute implements tool.Tool.
func (c *CodeModifier) Execute(_ context.Context, in tool.Input) (string, error) {
	var a struct {
		Action   string  `mapstructure:"action"`
		FilePath string  `mapstructure:"file_path"`
		Content  *string `mapstructure:"content"`
	}
	if err := tool.Bind(in, &a, "action"); err != nil {
		return "", err
	}
	action := strings.ToLower(strings.TrimSpace(a.Action))
	if action != "read" && action != "write" {
		return "Error: Invalid or missing 'action'. Must be 'read' or 'write'.", nil
	}
	path := strings.TrimSpace(a.FilePath)
	if path == "" {
		return "Error: Missing 'file_path' parameter.", nil
	}
	target, err := Within(c.root, path)
	if err != nil {
		c.logger.Error("拒绝越界路径", slog.String("path", path))
		return fmt.Sprintf("Error: Access denied: Path '%s' is outside the allowed project directory.", path), nil
	}
	c.logger.Warn("执行代码修改操作", slog.String("action", action), slog.String("path", target))

	if action == "read" {
		return c.read(path, target), nil
	}
	if a.Content == nil {
		return "Error: 'content' parameter missing for 'write' action.", nil
	}
	return c.write(path, target, *a.Content), nil
}

func (c *CodeModifier) read(path, target string) string {
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return fmt.Sprintf("Error: File not found at '%s'.", path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Sprintf("Error reading file '%s': %v", path, err)
	}
	content := string(data)
	if runes := []rune(content); len(runes) > codeReadLimit {
		content = string(runes[:codeReadLimit]) + fmt.Sprintf("\n... (content truncated to %d chars)", codeReadLimit)
	}
	return fmt.Sprintf("Content of '%s':\n```\n%s\n```", path, content)
}

func (c *CodeModifier) write(path, target, content string) string {
	if target == c.root {
		return fmt.Sprintf("Error writing file '%s': path is the project root", path)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Sprintf("Error writing file '%s': %v", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		if stdErrors.Is(err, fs.ErrPermission) {
			return fmt.Sprintf("Error writing file '%s': permission denied", path)
		}
		return fmt.Sprintf("Error writing file '%s': %v", path, err)
	}
	c.logger.Warn("源文件已被修改", slog.String("path", target), slog.Int("bytes", len(content)))
	return fmt.Sprintf("Successfully wrote content to file '%s'.", path)
}

var _ tool.Tool = (*CodeModifier)(nil)
