package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileArgs struct {
	Operation string `mapstructure:"operation"`
	Path      string `mapstructure:"path"`
	Limit     int    `mapstructure:"limit"`
}

func TestBindStructured(t *testing.T) {
	var args fileArgs
	err := Bind(StructuredInput(map[string]any{"operation": "read", "path": "a.txt", "limit": "5"}), &args, "")
	require.NoError(t, err)
	assert.Equal(t, fileArgs{Operation: "read", Path: "a.txt", Limit: 5}, args)
}

func TestBindRejectsUnknownArguments(t *testing.T) {
	var args fileArgs
	err := Bind(StructuredInput(map[string]any{"operation": "read", "bogus": true}), &args, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArguments)
}

func TestBindRawUsesPrimaryField(t *testing.T) {
	var args fileArgs
	require.NoError(t, Bind(RawInput("list"), &args, "operation"))
	assert.Equal(t, "list", args.Operation)

	err := Bind(RawInput("list"), &args, "")
	assert.ErrorIs(t, err, ErrArguments)
}

func TestInputText(t *testing.T) {
	assert.Equal(t, "ls -l", RawInput("  ls -l \n").Text("command"))
	assert.Equal(t, "echo", StructuredInput(map[string]any{"command": "echo"}).Text("command"))
	assert.Equal(t, "", StructuredInput(nil).Text("command"))
	assert.Equal(t, `{"a":1}`, StructuredInput(map[string]any{"a": 1}).String())
}

func TestInvokeConvertsPanicsAndErrors(t *testing.T) {
	panicky := Func{ToolName: "boom", Fn: func(context.Context, Input) (string, error) {
		panic("kaput")
	}}
	out := Invoke(context.Background(), panicky, RawInput(""))
	require.True(t, out.Failed())
	assert.True(t, strings.HasPrefix(out.Observation("boom"), "Error: An unexpected error occurred while executing tool 'boom'"))

	mismatch := Func{ToolName: "strict", Fn: func(context.Context, Input) (string, error) {
		return "", ErrArguments
	}}
	out = Invoke(context.Background(), mismatch, RawInput(""))
	assert.True(t, strings.HasPrefix(out.Observation("strict"), "Error: Tool 'strict' failed due to incorrect input arguments."))

	failing := Func{ToolName: "fail", Fn: func(context.Context, Input) (string, error) {
		return "", errors.New("disk full")
	}}
	out = Invoke(context.Background(), failing, RawInput(""))
	assert.Contains(t, out.Observation("fail"), "disk full")

	ok := Func{ToolName: "ok", Fn: func(context.Context, Input) (string, error) { return "fine", nil }}
	out = Invoke(context.Background(), ok, RawInput(""))
	assert.False(t, out.Failed())
	assert.Equal(t, "fine", out.Observation("ok"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	long := strings.Repeat("a", 20)
	assert.Equal(t, strings.Repeat("a", 10)+"\n... (output truncated)", Truncate(long, 10))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
}

func TestRejectedIsRenderedVerbatim(t *testing.T) {
	out := Rejected("Error: Tool 'x' not found. Available tools are: a, b")
	assert.True(t, out.Failed())
	assert.Equal(t, "Error: Tool 'x' not found. Available tools are: a, b", out.Observation("x"))
}

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		BaseDirectory string        `mapstructure:"base_directory"`
		Timeout       time.Duration `mapstructure:"timeout"`
		MaxResults    int           `mapstructure:"max_results"`
	}
	cfg.MaxResults = 100
	require.NoError(t, DecodeConfig(nil, &cfg))
	assert.Equal(t, 100, cfg.MaxResults)

	err := DecodeConfig(map[string]any{"base_directory": "ws", "timeout": "30s", "max_results": "5", "enabled": true}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.BaseDirectory)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxResults)
}
