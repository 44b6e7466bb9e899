// Package memory 保存一次运行中的交互记录，并渲染为提示词中的历史片段。
package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// EmptyHistory 是没有任何记录时的渲染结果。
const EmptyHistory = "No history yet."

// Record 是一次 思考-动作-观察 循环的不可变记录。
type Record struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
	Observation string `json:"observation"`
}

// Memory 是按时间顺序追加的交互记录。
type Memory struct {
	mu      sync.RWMutex
	records []Record
	window  int
	logger  *slog.Logger
}

// Option 定义可选的 Memory 配置。
type Option func(*Memory)

// WithWindow 限制渲染时只展示最近 n 条记录；n<=0 表示不限制。
// 追加与计数不受影响。
func WithWindow(n int) Option {
	return func(m *Memory) {
		if n < 0 {
			n = 0
		}
		m.window = n
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

// New 创建一个空的 Memory。
func New(opts ...Option) *Memory {
	m := &Memory{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Add 追加一条交互记录。
func (m *Memory) Add(thought, action, actionInput, observation string) {
	m.mu.Lock()
	m.records = append(m.records, Record{
		Thought:     thought,
		Action:      action,
		ActionInput: actionInput,
		Observation: observation,
	})
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Debug("记录交互",
			slog.String("action", action),
			slog.String("thought", preview(thought)),
			slog.String("observation", preview(observation)),
		)
	}
}

// Len 返回记录条数。
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records 返回记录的副本。
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Clear 清空全部记录。
func (m *Memory) Clear() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Debug("记忆已清空")
	}
}

// Render 将记录渲染为提示词历史。
func (m *Memory) Render() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.records
	if len(records) == 0 {
		return EmptyHistory
	}
	omitted := 0
	if m.window > 0 && len(records) > m.window {
		omitted = len(records) - m.window
		records = records[omitted:]
	}

	var builder strings.Builder
	if omitted > 0 {
		fmt.Fprintf(&builder, "(%d earlier steps omitted)\n\n", omitted)
	}
	for _, r := range records {
		fmt.Fprintf(&builder, "Thought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n\n",
			r.Thought, r.Action, r.ActionInput, r.Observation)
	}
	return strings.TrimSpace(builder.String())
}

func preview(text string) string {
	const limit = 50
	if len([]rune(text)) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}
