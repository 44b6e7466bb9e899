package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
	"AutoAgent/internal/registry"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// TaskExecutor runs background sub-goals with a fresh orchestrator per task.
// Each task gets its own memory and a tool view restricted to the task's
// allowed tools.
type TaskExecutor struct {
	model   llm.Client
	tools   *registry.Registry
	options []Option
	timeout time.Duration
	logger  *slog.Logger
}

// ExecutorOption configures a TaskExecutor.
type ExecutorOption func(*TaskExecutor)

// WithRunOptions applies orchestrator options to every sub-agent.
func WithRunOptions(opts ...Option) ExecutorOption {
	return func(e *TaskExecutor) {
		e.options = append(e.options, opts...)
	}
}

// WithTaskTimeout bounds the wall-clock time of a single task.
func WithTaskTimeout(d time.Duration) ExecutorOption {
	return func(e *TaskExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *TaskExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewTaskExecutor builds an executor sharing the parent's model and registry.
func NewTaskExecutor(model llm.Client, tools *registry.Registry, opts ...ExecutorOption) *TaskExecutor {
	e := &TaskExecutor{model: model, tools: tools}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("subagent")
	}
	return e
}

// Execute implements task.Executor. A run that stops at the iteration limit
// still counts as a completed task; only aborted runs are reported as errors.
func (e *TaskExecutor) Execute(ctx context.Context, t *task.Task) (*task.ExecutionResult, error) {
	if e.model == nil || e.tools == nil {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "sub-agent executor is not configured")
	}
	if t == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task is nil")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	log := e.logger.With(slog.String("task_id", t.ID))
	opts := append([]Option{WithLogger(log)}, e.options...)
	orch := New(e.model, e.tools.Subset(t.AllowedTools), opts...)

	log.Info("sub-agent started", slog.String("goal", t.Goal), slog.Any("allowed_tools", t.AllowedTools))
	result := orch.Run(ctx, t.Goal)
	log.Info("sub-agent finished", slog.String("status", string(result.Status)), slog.Int("iterations", result.Iterations))

	if result.Status == StatusAborted {
		code := xerrors.CodeRunAborted
		if stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = xerrors.CodeTimeout
		}
		return nil, xerrors.Wrap(code, result.Err, result.Message(), xerrors.WithRetryable(false))
	}
	return &task.ExecutionResult{
		Outcome:    string(result.Status),
		Answer:     result.Answer,
		Message:    result.Message(),
		Iterations: result.Iterations,
	}, nil
}

var _ task.Executor = (*TaskExecutor)(nil)
