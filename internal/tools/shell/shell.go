// Package shell provides the command_line and python_exec tools. Both run
// arbitrary code on the host and are gated as dangerous.
package shell

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

const (
	// CommandLineName is the registry key of the shell command tool.
	CommandLineName = "command_line"
	// PythonExecName is the registry key of the Python snippet tool.
	PythonExecName = "python_exec"

	outputLimit    = 5000
	defaultTimeout = 60 * time.Second
)

// Config is shared by both tools.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Shell   string        `mapstructure:"shell"`
	Python  string        `mapstructure:"python"`
	WorkDir string        `mapstructure:"working_dir"`
}

func (c Config) normalized() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	// bare integers are seconds
	if c.Timeout < time.Millisecond {
		c.Timeout = time.Duration(c.Timeout) * time.Second
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
		if runtime.GOOS == "windows" {
			c.Shell = "cmd"
		}
	}
	if c.Python == "" {
		c.Python = "python3"
	}
	return c
}

func decode(section map[string]any) (Config, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

type result struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
}

// run executes name with args and captures both output streams. Only start
// failures and parent cancellation are returned as errors.
func run(ctx context.Context, cfg Config, name string, args ...string) (result, error) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Dir = cfg.WorkDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := result{stdout: strings.TrimSpace(stdout.String()), stderr: strings.TrimSpace(stderr.String())}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if stdErrors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.timedOut = true
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case stdErrors.As(err, &exitErr):
		res.exitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}

func streams(res result) string {
	var b strings.Builder
	if res.stdout != "" {
		fmt.Fprintf(&b, "STDOUT:\n%s\n", res.stdout)
	} else {
		b.WriteString("STDOUT: (empty)\n")
	}
	if res.stderr != "" {
		fmt.Fprintf(&b, "STDERR:\n%s\n", res.stderr)
	} else {
		b.WriteString("STDERR: (empty)\n")
	}
	return b.String()
}

// CommandLine runs a command through the host shell.
type CommandLine struct {
	cfg    Config
	logger *slog.Logger
}

// NewCommandLine returns the command_line tool.
func NewCommandLine(cfg Config) *CommandLine {
	return &CommandLine{cfg: cfg.normalized(), logger: logger.Named("tool.command_line")}
}

// CommandLineFactory builds the tool from a configuration section.
func CommandLineFactory(section map[string]any) (tool.Tool, error) {
	cfg, err := decode(section)
	if err != nil {
		return nil, err
	}
	return NewCommandLine(cfg), nil
}

// Name implements tool.Tool.
func (c *CommandLine) Name() string { return CommandLineName }

// Description implements tool.Tool.
func (c *CommandLine) Description() string {
	return "Executes a command line command on the host system's default shell. " +
		"Input should be the command string (e.g., 'ls -l', 'echo hello'). " +
		"Use with extreme caution. Returns the command's stdout and stderr."
}

// Dangerous implements tool.Tool.
func (c *CommandLine) Dangerous() bool { return true }

// Execute implements tool.Tool.
func (c *CommandLine) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a struct {
		Command string `mapstructure:"command"`
	}
	if err := tool.Bind(in, &a, "command"); err != nil {
		return "", err
	}
	command := strings.TrimSpace(a.Command)
	if command == "" {
		return "Error: No command provided.", nil
	}
	c.logger.Warn("执行危险命令", slog.String("command", command))

	flag := "-c"
	if c.cfg.Shell == "cmd" {
		flag = "/C"
	}
	res, err := run(ctx, c.cfg, c.cfg.Shell, flag, command)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		c.logger.Error("命令执行失败", slog.String("command", command), slog.Any("error", err))
		return fmt.Sprintf("Error executing command '%s': %v", command, err), nil
	}
	if res.timedOut {
		c.logger.Error("命令执行超时", slog.String("command", command), slog.Duration("timeout", c.cfg.Timeout))
		return fmt.Sprintf("Error: Command '%s' timed out after %s seconds.", command, seconds(c.cfg.Timeout)), nil
	}
	if res.exitCode != 0 {
		c.logger.Warn("命令返回非零状态", slog.String("command", command), slog.Int("exit_code", res.exitCode))
	}
	output := fmt.Sprintf("Command executed: '%s'\nReturn Code: %d\n", command, res.exitCode) + streams(res)
	return strings.TrimSpace(tool.Truncate(output, outputLimit)), nil
}

// PythonExec runs a Python snippet in a child interpreter.
type PythonExec struct {
	cfg    Config
	logger *slog.Logger
}

// NewPythonExec returns the python_exec tool.
func NewPythonExec(cfg Config) *PythonExec {
	return &PythonExec{cfg: cfg.normalized(), logger: logger.Named("tool.python_exec")}
}

// PythonExecFactory builds the tool from a configuration section.
func PythonExecFactory(section map[string]any) (tool.Tool, error) {
	cfg, err := decode(section)
	if err != nil {
		return nil, err
	}
	return NewPythonExec(cfg), nil
}

// Name implements tool.Tool.
func (p *PythonExec) Name() string { return PythonExecName }

// Description implements tool.Tool.
func (p *PythonExec) Description() string {
	return "Executes a given snippet of Python code in a separate Python interpreter. " +
		"Input is the raw Python code string. Captures stdout and stderr. " +
		"Use with EXTREME caution. Use print() to return values."
}

// Dangerous implements tool.Tool.
func (p *PythonExec) Dangerous() bool { return true }

// Execute implements tool.Tool.
func (p *PythonExec) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a struct {
		Code string `mapstructure:"code"`
	}
	if err := tool.Bind(in, &a, "code"); err != nil {
		return "", err
	}
	code := a.Code
	if strings.TrimSpace(code) == "" {
		return "Error: No Python code provided to execute.", nil
	}
	p.logger.Warn("执行危险的 Python 代码", slog.String("code", code))

	header := fmt.Sprintf("Executing Python code:\n```python\n%s\n```\n", code)
	res, err := run(ctx, p.cfg, p.cfg.Python, "-c", code)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return header + fmt.Sprintf("ERROR during execution:\n%v", err), nil
	}
	if res.timedOut {
		return header + fmt.Sprintf("ERROR during execution:\nTimeoutError: execution exceeded %s seconds", seconds(p.cfg.Timeout)), nil
	}
	if res.exitCode != 0 {
		p.logger.Error("Python 代码执行失败", slog.Int("exit_code", res.exitCode))
		output := header + fmt.Sprintf("ERROR during execution:\nexit status %d\n", res.exitCode)
		if res.stdout != "" {
			output += fmt.Sprintf("STDOUT:\n%s\n", res.stdout)
		}
		output += fmt.Sprintf("Traceback:\n%s", res.stderr)
		return strings.TrimSpace(tool.Truncate(output, outputLimit)), nil
	}
	if res.stderr != "" {
		p.logger.Warn("Python 代码产生了 STDERR 输出", slog.String("stderr", res.stderr))
	}
	output := header + "Execution Result:\n" + streams(res) + "Execution finished successfully."
	return strings.TrimSpace(tool.Truncate(output, outputLimit)), nil
}

var (
	_ tool.Tool = (*CommandLine)(nil)
	_ tool.Tool = (*PythonExec)(nil)
)
