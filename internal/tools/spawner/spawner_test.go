package spawner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

func spawnInput(goal string, tools ...string) tool.Input {
	params := map[string]any{"sub_goal": goal}
	if len(tools) > 0 {
		list := make([]any, len(tools))
		for i, name := range tools {
			list[i] = name
		}
		params["allowed_tools"] = list
	}
	return tool.StructuredInput(map[string]any{"action": "spawn", "params": params})
}

func checkInput(id string) tool.Input {
	return tool.StructuredInput(map[string]any{"action": "check", "params": map[string]any{"task_id": id}})
}

func taskID(t *testing.T, out string) string {
	t.Helper()
	const prefix = "Successfully spawned background task. Task ID: "
	require.True(t, strings.HasPrefix(out, prefix), out)
	return strings.TrimPrefix(out, prefix)
}

func TestSpawnAndCheckThroughProcessor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	service := task.NewService(store, queue, 1)
	release := make(chan struct{})
	var seen *task.Task
	executor := task.ExecutorFunc(func(ctx context.Context, tk *task.Task) (*task.ExecutionResult, error) {
		seen = tk
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if strings.Contains(tk.Goal, "fail") {
			return nil, xerrors.New(xerrors.CodeRunAborted, "Agent stopped: LLM failed to generate response.",
				xerrors.WithRetryable(false))
		}
		answer := strings.Repeat("x", 1200)
		return &task.ExecutionResult{Outcome: "achieved", Answer: answer, Message: "Goal Achieved: " + answer, Iterations: 2}, nil
	})
	processor := task.NewProcessor(executor, store, queue, queue, task.WithProcessorLogger(logger.Nop()))
	go func() { _ = processor.Start(ctx) }()

	spawner := New(service)
	out, err := spawner.Execute(ctx, spawnInput("summarise the report", "file_system"))
	require.NoError(t, err)
	id := taskID(t, out)

	out, err = spawner.Execute(ctx, checkInput(id))
	require.NoError(t, err)
	assert.Equal(t, "Status of task '"+id+"': running\nTask is still running.", out)

	close(release)
	final, err := service.WaitUntilCompleted(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, final.Status)
	assert.Equal(t, []string{"file_system"}, seen.AllowedTools)
	assert.Equal(t, Source, seen.Source)

	out, err = spawner.Execute(ctx, checkInput(id))
	require.NoError(t, err)
	wantResult := ("Goal Achieved: " + strings.Repeat("x", 1200))[:resultLimit] + "..."
	assert.Equal(t, "Status of task '"+id+"': completed\nResult: "+wantResult, out)

	out, err = spawner.Execute(ctx, spawnInput("this will fail"))
	require.NoError(t, err)
	failedID := taskID(t, out)
	_, err = service.WaitUntilCompleted(ctx, failedID, 5*time.Millisecond)
	require.NoError(t, err)
	out, err = spawner.Execute(ctx, checkInput(failedID))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Status of task '"+failedID+"': failed\nError: "), out)
	assert.Contains(t, out, "LLM failed to generate response")
}

type stubTasks struct {
	submitErr error
	found     *task.Task
}

func (s stubTasks) Submit(context.Context, task.Request) (*task.Task, error) {
	return nil, s.submitErr
}

func (s stubTasks) Get(context.Context, string) (*task.Task, error) {
	if s.found != nil {
		return s.found, nil
	}
	return nil, task.ErrTaskNotFound
}

func TestCheckTruncatesResultByCharacters(t *testing.T) {
	message := strings.Repeat("结", resultLimit+5)
	spawner := New(stubTasks{found: &task.Task{
		ID:     "t-1",
		Status: task.StatusSucceeded,
		Result: &task.ExecutionResult{Message: message},
	}})

	out, err := spawner.Execute(context.Background(), checkInput("t-1"))
	require.NoError(t, err)
	want := "Status of task 't-1': completed\nResult: " + strings.Repeat("结", resultLimit) + "..."
	assert.Equal(t, want, out)
	assert.True(t, utf8.ValidString(out))
}

func TestSpawnerValidation(t *testing.T) {
	spawner := New(stubTasks{submitErr: errors.New("queue closed")})
	ctx := context.Background()

	cases := []struct {
		in   tool.Input
		want string
	}{
		{in: tool.StructuredInput(map[string]any{"params": map[string]any{}}), want: "Error: No action specified for task_spawner."},
		{in: tool.RawInput("launch"), want: "Error: Unknown task_spawner action 'launch'."},
		{in: tool.StructuredInput(map[string]any{"action": "spawn"}), want: "Error: 'sub_goal' parameter missing for 'spawn'."},
		{in: tool.StructuredInput(map[string]any{"action": "check"}), want: "Error: 'task_id' parameter missing for 'check'."},
		{in: checkInput("task-missing"), want: "Error: Task ID 'task-missing' not found."},
		{in: spawnInput("anything"), want: "Error during task_spawner action 'spawn': queue closed"},
	}
	for _, tc := range cases {
		out, err := spawner.Execute(ctx, tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, out)
	}
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, "running", DisplayStatus(task.StatusPending))
	assert.Equal(t, "running", DisplayStatus(task.StatusRunning))
	assert.Equal(t, "completed", DisplayStatus(task.StatusSucceeded))
	assert.Equal(t, "failed", DisplayStatus(task.StatusFailed))
}

func TestFactoryWithoutServiceSkips(t *testing.T) {
	built, err := NewFactory(nil)(nil)
	require.NoError(t, err)
	assert.Nil(t, built)
}
