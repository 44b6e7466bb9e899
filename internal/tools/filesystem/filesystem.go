// Package filesystem provides the file_system tool, which reads and mutates
// files inside a fixed workspace directory.
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
	// Name is the registry key of the tool.
	Name = "file_system"
	// DefaultWorkspace is used when no base_directory is configured.
	DefaultWorkspace = "workspace"

	readLimit = 5000
)

const description = "Performs file system operations like reading, writing, listing files and directories. " +
	"Specify the operation ('read', 'write', 'list', 'mkdir', 'delete') and the path. " +
	"Paths are relative to the agent's workspace directory. Use '.' for the current workspace dir. " +
	"For 'write', provide 'path' and 'content'. For 'delete', provide 'path'."

// Config is the tool's configuration section.
type Config struct {
	BaseDirectory string `mapstructure:"base_directory"`
}

// Tool operates on files below a workspace root.
type Tool struct {
	base   string
	logger *slog.Logger
}

type args struct {
	Operation string  `mapstructure:"operation"`
	Path      string  `mapstructure:"path"`
	Content   *string `mapstructure:"content"`
}

// New creates the workspace directory if needed and returns the tool.
func New(cfg Config) (*Tool, error) {
	base := strings.TrimSpace(cfg.BaseDirectory)
	if base == "" {
		base = DefaultWorkspace
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "解析工作目录失败")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "创建工作目录失败")
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	log := logger.Named("tool.file_system")
	log.Info("文件工具已初始化", slog.String("workspace", abs))
	return &Tool{base: abs, logger: log}, nil
}

// Factory builds the tool from a configuration section.
func Factory(section map[string]any) (tool.Tool, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string { return description }

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return true }

// Workspace returns the absolute workspace root.
func (t *Tool) Workspace() string { return t.base }

// Execute implements tool.Tool.
func (t *Tool) Execute(_ context.Context, in tool.Input) (string, error) {
	var a args
	if err := tool.Bind(in, &a, "operation"); err != nil {
		return "", err
	}
	operation := strings.ToLower(strings.TrimSpace(a.Operation))
	path := a.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}

	target, err := t.resolve(path)
	if err != nil {
		t.logger.Error("检测到越界路径", slog.String("path", path), slog.Any("error", err))
		return fmt.Sprintf("Error: %v", err), nil
	}
	t.logger.Info("执行文件操作", slog.String("operation", operation), slog.String("path", target))

	switch operation {
	case "read":
		return t.read(path, target), nil
	case "write":
		return t.write(path, target, a.Content), nil
	case "list":
		return t.list(path, target), nil
	case "mkdir":
		return t.mkdir(path, target), nil
	case "delete":
		return t.remove(path, target), nil
	default:
		return fmt.Sprintf("Error: Unknown file system operation '%s'. Valid operations: read, write, list, mkdir, delete.", operation), nil
	}
}

// resolve joins path onto the workspace and rejects results that escape it.
func (t *Tool) resolve(path string) (string, error) {
	return Within(t.base, path)
}

// Within joins path onto base, which must already be free of symlinks, and
// returns the result with every symlink in its existing prefix resolved. The
// part of the path that does not exist yet is appended unchanged, so a write
// through a linked directory is checked against the link target.
func Within(base, path string) (string, error) {
	denied := fmt.Errorf("Access denied: Path '%s' is outside the allowed workspace.", path)
	joined := filepath.Join(base, filepath.FromSlash(path))

	existing, missing := joined, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			joined = filepath.Join(resolved, missing)
			break
		}
		if _, lerr := os.Lstat(existing); lerr == nil {
			// 悬空链接或无权限的目录项，无法确认真实位置。
			return "", denied
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		missing = filepath.Join(filepath.Base(existing), missing)
		existing = parent
	}

	rel, err := filepath.Rel(base, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", denied
	}
	return joined, nil
}

func (t *Tool) read(path, target string) string {
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Sprintf("Error: Path '%s' does not exist or is not a file.", path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.logger.Error("读取文件失败", slog.String("path", target), slog.Any("error", err))
		return fmt.Sprintf("Error reading file '%s': %v", path, err)
	}
	content := strings.ToValidUTF8(string(data), "")
	if runes := []rune(content); len(runes) > readLimit {
		return fmt.Sprintf("Successfully read file '%s'. Content (truncated):\n%s...", path, string(runes[:readLimit]))
	}
	return fmt.Sprintf("Successfully read file '%s'. Content:\n%s", path, content)
}

func (t *Tool) write(path, target string, content *string) string {
	if content == nil {
		return "Error: Content must be provided for 'write' operation."
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Sprintf("Error writing file '%s': %v", path, err)
	}
	if err := os.WriteFile(target, []byte(*content), 0o644); err != nil {
		t.logger.Error("写入文件失败", slog.String("path", target), slog.Any("error", err))
		return fmt.Sprintf("Error writing file '%s': %v", path, err)
	}
	t.logger.Info("写入文件成功", slog.String("path", target), slog.Int("bytes", len(*content)))
	return fmt.Sprintf("Successfully wrote content to file '%s'.", path)
}

func (t *Tool) list(path, target string) string {
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' does not exist or is not a directory.", path)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Sprintf("Error listing directory '%s': %v", path, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory '%s' is empty.", path)
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		marker := "[F] "
		if entry.IsDir() {
			marker = "[D] "
		}
		lines = append(lines, "- "+marker+entry.Name())
	}
	return fmt.Sprintf("Contents of directory '%s':\n%s", path, strings.Join(lines, "\n"))
}

func (t *Tool) mkdir(path, target string) string {
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return fmt.Sprintf("Directory '%s' already exists.", path)
		}
		return fmt.Sprintf("Error: Path '%s' exists but is not a directory.", path)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Sprintf("Error creating directory '%s': %v", path, err)
	}
	return fmt.Sprintf("Successfully created directory '%s'.", path)
}

// remove deletes files and empty directories only.
func (t *Tool) remove(path, target string) string {
	info, err := os.Stat(target)
	if stdErrors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: Path '%s' does not exist.", path)
	}
	if err != nil {
		return fmt.Sprintf("Error deleting path '%s': %v", path, err)
	}
	switch {
	case info.Mode().IsRegular():
		if err := os.Remove(target); err != nil {
			return fmt.Sprintf("Error deleting path '%s': %v", path, err)
		}
		return fmt.Sprintf("Successfully deleted file '%s'.", path)
	case info.IsDir():
		if target == t.base {
			return fmt.Sprintf("Error: Directory '%s' is the workspace root and cannot be deleted.", path)
		}
		entries, err := os.ReadDir(target)
		if err != nil {
			return fmt.Sprintf("Error deleting path '%s': %v", path, err)
		}
		if len(entries) > 0 {
			t.logger.Warn("拒绝删除非空目录", slog.String("path", target))
			return fmt.Sprintf("Error: Directory '%s' is not empty. Cannot delete non-empty directories.", path)
		}
		if err := os.Remove(target); err != nil {
			return fmt.Sprintf("Error deleting path '%s': %v", path, err)
		}
		return fmt.Sprintf("Successfully deleted empty directory '%s'.", path)
	default:
		return fmt.Sprintf("Error: Path '%s' is neither a file nor a directory.", path)
	}
}

var _ tool.Tool = (*Tool)(nil)
