// Package human provides the ask_human tool, which pauses the run to ask the
// operator a question on the terminal.
package human

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// Name is the registry key of the tool.
const Name = "ask_human"

const (
	defaultPrompt = "Agent requires input:"
	banner        = "==================== AGENT REQUIRES HUMAN INPUT ===================="
	rule          = "============================================================"
)

// Tool reads one line from its input stream per question.
type Tool struct {
	mu      sync.Mutex
	in      *bufio.Reader
	pending chan reply
	out     io.Writer
	logger  *slog.Logger
}

// New returns a tool that talks to the given streams.
func New(in io.Reader, out io.Writer) *Tool {
	return &Tool{in: bufio.NewReader(in), out: out, logger: logger.Named("tool.ask_human")}
}

// Factory builds the tool on the process's stdin and stdout.
func Factory(map[string]any) (tool.Tool, error) {
	return New(os.Stdin, os.Stdout), nil
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Asks the user running the agent for input or clarification. " +
		"Execution pauses until the user provides input via the command line. " +
		"Input is the prompt string to display to the user. " +
		"Returns the user's response as a string."
}

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return false }

type reply struct {
	line string
	err  error
}

// Execute implements tool.Tool. It returns early when ctx is cancelled; the
// pending read is then consumed by the next question.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a struct {
		Prompt string `mapstructure:"prompt"`
	}
	if err := tool.Bind(in, &a, "prompt"); err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(a.Prompt)
	if prompt == "" {
		prompt = defaultPrompt
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Info("等待人工输入", slog.String("prompt", prompt))
	fmt.Fprintf(t.out, "\n%s\nPrompt: %s\nPlease type your response below and press Enter:\n%s\n> ", banner, prompt, rule)

	if t.pending == nil {
		t.pending = make(chan reply, 1)
		go func(ch chan<- reply) {
			line, err := t.in.ReadString('\n')
			ch <- reply{line: line, err: err}
		}(t.pending)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintf(t.out, "\n%s\n\n", rule)
		return "", ctx.Err()
	case r := <-t.pending:
		t.pending = nil
		fmt.Fprintf(t.out, "%s\n\n", rule)
		response := strings.TrimRight(r.line, "\r\n")
		if r.err != nil && (response == "" || !stdErrors.Is(r.err, io.EOF)) {
			t.logger.Warn("未收到人工输入", slog.Any("error", r.err))
			return "Human response: (No input received - EOF)", nil
		}
		t.logger.Info("收到人工输入", slog.String("response", response))
		return fmt.Sprintf("Human response to '%s': %s", prompt, response), nil
	}
}

var _ tool.Tool = (*Tool)(nil)
