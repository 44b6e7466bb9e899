// Package registry 负责装配可用工具并把模型选择的动作分派到具体工具。
package registry

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// SourceBuiltin 标识内置工具。
const SourceBuiltin = "builtin"

// Descriptor 描述一个已注册工具。
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Dangerous   bool   `json:"dangerous"`
	Source      string `json:"source"`
}

type entry struct {
	descriptor Descriptor
	tool       tool.Tool
}

// Registry 是装配完成后的只读工具表，可被多个运行并发读取。
type Registry struct {
	entries map[string]entry
	order   []string
	logger  *slog.Logger
}

func newRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = logger.Named("registry")
	}
	return &Registry{entries: make(map[string]entry), logger: log}
}

// register 按“先注册者胜出”的规则加入工具，冲突时返回 false。
func (r *Registry) register(t tool.Tool, source string) bool {
	name := t.Name()
	if existing, ok := r.entries[name]; ok {
		r.logger.Warn("工具名称冲突，已跳过后注册的工具",
			slog.String("tool", name),
			slog.String("kept_source", existing.descriptor.Source),
			slog.String("skipped_source", source))
		return false
	}
	r.entries[name] = entry{
		descriptor: Descriptor{
			Name:        name,
			Description: t.Description(),
			Dangerous:   t.Dangerous(),
			Source:      source,
		},
		tool: t,
	}
	r.order = append(r.order, name)
	return true
}

// Len 返回工具数量。
func (r *Registry) Len() int { return len(r.order) }

// Available 按注册顺序返回全部工具描述。
func (r *Registry) Available() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].descriptor)
	}
	return out
}

// Names 按注册顺序返回工具名称。
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Describe 渲染提示词中的工具说明，每行一个工具。
func (r *Registry) Describe() string {
	if len(r.order) == 0 {
		return "No tools available."
	}
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.entries[name].descriptor.Description))
	}
	return strings.Join(lines, "\n")
}

// Lookup 根据名称查找工具。
func (r *Registry) Lookup(name string) (tool.Tool, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Has 判断工具是否已注册。
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Subset 返回只包含指定工具的新视图；names 为空时返回全部工具。
func (r *Registry) Subset(names []string) *Registry {
	if len(names) == 0 {
		return r
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[strings.TrimSpace(name)] = struct{}{}
	}
	view := newRegistry(r.logger)
	for _, name := range r.order {
		if _, ok := wanted[name]; !ok {
			continue
		}
		e := r.entries[name]
		view.entries[name] = e
		view.order = append(view.order, name)
		delete(wanted, name)
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		r.logger.Warn("请求的工具不存在，已忽略", slog.Any("tools", missing))
	}
	return view
}

// Close 释放持有连接的工具，例如数据库连接与浏览器会话。
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		closer, ok := r.entries[name].tool.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return stdErrors.Join(errs...)
}

// Call 解析输入并在故障边界内执行工具。
func (r *Registry) Call(ctx context.Context, name, raw string) tool.Outcome {
	e, ok := r.entries[name]
	if !ok {
		return tool.Rejected(fmt.Sprintf("Error: Tool '%s' not found. Available tools are: %s",
			name, strings.Join(r.order, ", ")))
	}

	in, err := ResolveInput(raw)
	if err != nil {
		return tool.Rejected(fmt.Sprintf("Error: Failed to parse JSON input. Please provide a valid JSON dictionary. Error: %v", err))
	}

	if e.descriptor.Dangerous {
		logger.Audit().Info("dangerous tool invoked",
			slog.String("tool", name),
			slog.String("input", in.String()))
	}
	r.logger.Debug("执行工具", slog.String("tool", name), slog.Bool("structured", in.IsStructured()))
	return tool.Invoke(ctx, e.tool, in)
}

// Dispatch 执行工具并把结果统一转换为观察文本，从不返回错误。
func (r *Registry) Dispatch(ctx context.Context, name, raw string) string {
	return r.Call(ctx, name, raw).Observation(name)
}

// ResolveInput 把模型给出的动作输入一次性解析为结构化参数或原始字符串。
// 以 "{" 开头的输入按 JSON 对象解码，失败后将单引号替换为双引号再试一次。
func ResolveInput(raw string) (tool.Input, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return tool.RawInput(raw), nil
	}
	args, err := decodeObject(trimmed)
	if err == nil {
		return tool.StructuredInput(args), nil
	}
	args, retryErr := decodeObject(strings.ReplaceAll(trimmed, "'", `"`))
	if retryErr != nil {
		return tool.Input{}, retryErr
	}
	return tool.StructuredInput(args), nil
}

func decodeObject(text string) (map[string]any, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, err
	}
	args, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", value)
	}
	return args, nil
}
