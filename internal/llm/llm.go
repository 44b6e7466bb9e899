package llm

import (
	"context"
	"strings"
)

// FailurePrefix 是模型后端在文本中标记失败时使用的前缀。
const FailurePrefix = "Error:"

// Client 定义了调用大模型的统一接口。
type Client interface {
	// Generate 根据提示词生成文本，遇到 stop 中任一序列时停止。
	Generate(ctx context.Context, prompt string, stop []string) (string, error)
	// ModelName 返回模型名称，仅用于诊断。
	ModelName() string
}

// IsFailure 判断模型输出是否为空或以失败前缀开头。
func IsFailure(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || strings.HasPrefix(trimmed, FailurePrefix)
}

// Func 将普通函数适配为 Client，主要用于测试。
type Func struct {
	Name string
	Fn   func(ctx context.Context, prompt string, stop []string) (string, error)
}

// Generate 实现 Client。
func (f Func) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	return f.Fn(ctx, prompt, stop)
}

// ModelName 实现 Client。
func (f Func) ModelName() string { return f.Name }
