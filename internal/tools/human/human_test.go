package human

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

func TestAskHumanReturnsResponse(t *testing.T) {
	var out bytes.Buffer
	h := New(strings.NewReader("blue\nsecond\n"), &out)

	got, err := h.Execute(context.Background(), tool.RawInput("Favourite colour?"))
	require.NoError(t, err)
	assert.Equal(t, "Human response to 'Favourite colour?': blue", got)
	assert.Contains(t, out.String(), "Prompt: Favourite colour?")

	got, err = h.Execute(context.Background(), tool.StructuredInput(map[string]any{"prompt": ""}))
	require.NoError(t, err)
	assert.Equal(t, "Human response to 'Agent requires input:': second", got)
}

func TestAskHumanEOF(t *testing.T) {
	h := New(strings.NewReader(""), io.Discard)
	got, err := h.Execute(context.Background(), tool.RawInput("anyone?"))
	require.NoError(t, err)
	assert.Equal(t, "Human response: (No input received - EOF)", got)

	h = New(strings.NewReader("last line without newline"), io.Discard)
	got, err = h.Execute(context.Background(), tool.RawInput("q"))
	require.NoError(t, err)
	assert.Equal(t, "Human response to 'q': last line without newline", got)
}

func TestAskHumanCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	h := New(reader, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Execute(ctx, tool.RawInput("waiting"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
