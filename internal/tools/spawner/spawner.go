// Package spawner provides the task_spawner tool, which hands sub-goals to
// background sub-agents through the task service and reports their status.
package spawner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

const (
	// Name is the registry key of the tool.
	Name = "task_spawner"
	// Source tags tasks created by this tool.
	Source = "task_spawner"

	resultLimit = 1000
)

// Tasks is the part of task.Service the tool needs.
type Tasks interface {
	Submit(ctx context.Context, req task.Request) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
}

// Tool spawns and checks background tasks.
type Tool struct {
	tasks  Tasks
	logger *slog.Logger
}

type args struct {
	Action string         `mapstructure:"action"`
	Params map[string]any `mapstructure:"params"`
}

type spawnParams struct {
	SubGoal      string   `mapstructure:"sub_goal"`
	AllowedTools []string `mapstructure:"allowed_tools"`
}

type checkParams struct {
	TaskID string `mapstructure:"task_id"`
}

// New returns the tool backed by tasks.
func New(tasks Tasks) *Tool {
	return &Tool{tasks: tasks, logger: logger.Named("tool.task_spawner")}
}

// NewFactory binds the tool to a task service for registry assembly.
func NewFactory(tasks Tasks) func(map[string]any) (tool.Tool, error) {
	return func(map[string]any) (tool.Tool, error) {
		if tasks == nil {
			return nil, nil
		}
		return New(tasks), nil
	}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Spawns a background task (another agent instance) to work on a sub-goal. " +
		"Input: {'action': 'spawn'|'check', 'params': {...}}. " +
		"'spawn': {'sub_goal': '...', 'allowed_tools': ['tool_name', ... (optional)]} -> Returns task_id. " +
		"'check': {'task_id': '...'} -> Returns task status ('running', 'completed', 'failed') and result/error."
}

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return true }

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a args
	if err := tool.Bind(in, &a, "action"); err != nil {
		return "", err
	}
	action := strings.ToLower(strings.TrimSpace(a.Action))
	if action == "" {
		return "Error: No action specified for task_spawner.", nil
	}
	t.logger.Info("执行任务派生动作", slog.String("action", action), slog.Any("params", a.Params))

	switch action {
	case "spawn":
		return t.spawn(ctx, a.Params)
	case "check":
		return t.check(ctx, a.Params)
	default:
		return fmt.Sprintf("Error: Unknown task_spawner action '%s'.", action), nil
	}
}

func (t *Tool) spawn(ctx context.Context, params map[string]any) (string, error) {
	var p spawnParams
	if err := tool.DecodeConfig(params, &p); err != nil {
		return fmt.Sprintf("Error during task_spawner action 'spawn': %v", err), nil
	}
	if strings.TrimSpace(p.SubGoal) == "" {
		return "Error: 'sub_goal' parameter missing for 'spawn'.", nil
	}
	created, err := t.tasks.Submit(ctx, task.Request{
		Goal:         p.SubGoal,
		AllowedTools: p.AllowedTools,
		Source:       Source,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Error("派生后台任务失败", slog.Any("error", err))
		return fmt.Sprintf("Error during task_spawner action 'spawn': %v", err), nil
	}
	t.logger.Info("已派生后台任务", slog.String("task_id", created.ID), slog.String("goal", p.SubGoal),
		slog.Any("allowed_tools", created.AllowedTools))
	return fmt.Sprintf("Successfully spawned background task. Task ID: %s", created.ID), nil
}

func (t *Tool) check(ctx context.Context, params map[string]any) (string, error) {
	var p checkParams
	if err := tool.DecodeConfig(params, &p); err != nil {
		return fmt.Sprintf("Error during task_spawner action 'check': %v", err), nil
	}
	id := strings.TrimSpace(p.TaskID)
	if id == "" {
		return "Error: 'task_id' parameter missing for 'check'.", nil
	}
	current, err := t.tasks.Get(ctx, id)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			return fmt.Sprintf("Error: Task ID '%s' not found.", id), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Error during task_spawner action 'check': %v", err), nil
	}

	status := DisplayStatus(current.Status)
	out := fmt.Sprintf("Status of task '%s': %s\n", id, status)
	switch status {
	case "completed":
		result := ""
		if current.Result != nil {
			result = current.Result.Message
		}
		if runes := []rune(result); len(runes) > resultLimit {
			result = string(runes[:resultLimit]) + "..."
		}
		out += "Result: " + result
	case "failed":
		out += "Error: " + current.LastError
	default:
		out += "Task is still running."
	}
	return strings.TrimSpace(out), nil
}

// DisplayStatus maps task states onto the three states the model is told about.
func DisplayStatus(s task.Status) string {
	switch s {
	case task.StatusSucceeded:
		return "completed"
	case task.StatusFailed:
		return "failed"
	default:
		return "running"
	}
}

var _ tool.Tool = (*Tool)(nil)
