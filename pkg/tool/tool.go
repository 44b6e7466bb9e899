// Package tool defines the contract shared by built-in tools, plugin tools and
// the registry that dispatches model-selected actions to them.
package tool

import (
	"context"
	"strings"
)

// Tool is a named capability the agent can invoke while pursuing a goal.
type Tool interface {
	// Name is the identifier the model uses in the "Action:" line.
	Name() string
	// Description is rendered into the prompt so the model knows when to use the tool.
	Description() string
	// Dangerous reports whether the tool must be gated behind the global switch.
	Dangerous() bool
	// Execute runs the tool. Returned errors are converted into observations by the registry.
	Execute(ctx context.Context, in Input) (string, error)
}

// Func adapts a plain function into a Tool. It is mostly used by plugins and tests.
type Func struct {
	ToolName    string
	Summary     string
	IsDangerous bool
	Fn          func(ctx context.Context, in Input) (string, error)
}

// Name implements Tool.
func (f Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f Func) Description() string { return f.Summary }

// Dangerous implements Tool.
func (f Func) Dangerous() bool { return f.IsDangerous }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, in Input) (string, error) {
	if f.Fn == nil {
		return "", nil
	}
	return f.Fn(ctx, in)
}

// Truncate shortens long observations so they do not flood the prompt.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := text[:limit]
	// avoid splitting a multi-byte rune
	for len(cut) > 0 && !utf8Boundary(text, len(cut)) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRight(cut, " \n") + "\n... (output truncated)"
}

func utf8Boundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
