package shell

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestCommandLineCapturesOutput(t *testing.T) {
	requireShell(t)
	cmd := NewCommandLine(Config{})

	out, err := cmd.Execute(context.Background(), tool.RawInput("echo hello; echo oops 1>&2; exit 3"))
	require.NoError(t, err)
	want := "Command executed: 'echo hello; echo oops 1>&2; exit 3'\nReturn Code: 3\nSTDOUT:\nhello\nSTDERR:\noops"
	assert.Equal(t, want, out)
}

func TestCommandLineStructuredInput(t *testing.T) {
	requireShell(t)
	cmd := NewCommandLine(Config{})

	out, err := cmd.Execute(context.Background(), tool.StructuredInput(map[string]any{"command": "true"}))
	require.NoError(t, err)
	assert.Equal(t, "Command executed: 'true'\nReturn Code: 0\nSTDOUT: (empty)\nSTDERR: (empty)", out)
}

func TestCommandLineTimeout(t *testing.T) {
	requireShell(t)
	cmd := NewCommandLine(Config{Timeout: 50 * time.Millisecond})

	out, err := cmd.Execute(context.Background(), tool.RawInput("sleep 5"))
	require.NoError(t, err)
	assert.Equal(t, "Error: Command 'sleep 5' timed out after 0.05 seconds.", out)
}

func TestCommandLineEmpty(t *testing.T) {
	out, err := NewCommandLine(Config{}).Execute(context.Background(), tool.RawInput("   "))
	require.NoError(t, err)
	assert.Equal(t, "Error: No command provided.", out)
}

func TestCommandLineFactoryTreatsIntegersAsSeconds(t *testing.T) {
	built, err := CommandLineFactory(map[string]any{"timeout": 5})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, built.(*CommandLine).cfg.Timeout)
	assert.True(t, built.Dangerous())
}

func TestPythonExec(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	py := NewPythonExec(Config{})

	out, err := py.Execute(context.Background(), tool.RawInput("print(6 * 7)"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Executing Python code:\n```python\nprint(6 * 7)\n```\nExecution Result:\nSTDOUT:\n42\n"))
	assert.True(t, strings.HasSuffix(out, "Execution finished successfully."))

	out, err = py.Execute(context.Background(), tool.RawInput("raise ValueError('bad')"))
	require.NoError(t, err)
	assert.Contains(t, out, "ERROR during execution:")
	assert.Contains(t, out, "ValueError: bad")
}
