package task

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// Executor 执行一个已领取的任务，通常由子智能体实现。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*ExecutionResult, error)
}

// ExecutorFunc 把函数适配为 Executor。
type ExecutorFunc func(ctx context.Context, task *Task) (*ExecutionResult, error)

// Execute 实现 Executor 接口。
func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	return f(ctx, task)
}

// Processor 从队列领取任务交给执行器，并把结果写回存储。
// 可重试的失败会重新入队，直到尝试次数达到 MaxRetries。
type Processor struct {
	exec    Executor
	store   Store
	in      Consumer
	out     Producer
	workers int
	log     *slog.Logger
	onDone  func(*Task)
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// WithWorkerCount 设置并发执行的任务数。
func WithWorkerCount(n int) ProcessorOption {
	return func(p *Processor) { p.workers = n }
}

// WithCompletionHook 注册任务进入终态后的回调，回调收到的是存储中的最新快照。
func WithCompletionHook(fn func(*Task)) ProcessorOption {
	return func(p *Processor) { p.onDone = fn }
}

// NewProcessor 构造 Processor。
func NewProcessor(exec Executor, store Store, in Consumer, out Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{exec: exec, store: store, in: in, out: out}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.workers = max(p.workers, 1)
	if p.log == nil {
		p.log = logger.Named("task")
	}
	return p
}

// Start 阻塞消费队列，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.in == nil || p.store == nil || p.exec == nil {
		return xerrors.New(xerrors.CodeSetupFailure, "任务处理器缺少队列、存储或执行器")
	}
	return p.in.Consume(ctx, p.workers, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	t, err := p.store.Claim(ctx, id)
	if err != nil {
		return p.skip(id, err)
	}
	p.log.Info("开始执行任务", slog.String("task_id", t.ID), slog.Int("attempt", t.Attempts),
		slog.Int("max_retries", t.MaxRetries))

	result, err := p.execute(ctx, t)
	if err != nil {
		return p.fail(ctx, t, err)
	}
	return p.succeed(ctx, t, result)
}

// skip 处理无法领取的任务。重复投递与已结束的任务不算错误。
func (p *Processor) skip(id string, err error) error {
	switch xerrors.CodeOf(err) {
	case CodeTaskNotFound, CodeTaskCompleted, CodeTaskExhausted, CodeTaskConflict:
		p.log.Debug("跳过任务", slog.String("task_id", id), slog.String("reason", err.Error()))
		return nil
	}
	p.log.Error("领取任务失败", slog.String("task_id", id), slog.Any("error", err))
	return err
}

// execute 调用执行器，执行器 panic 视为不可重试的失败。
func (p *Processor) execute(ctx context.Context, t *Task) (result *ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeTaskProcessing, fmt.Sprintf("执行器异常: %v", r), xerrors.WithRetryable(false))
		}
	}()
	result, err = p.exec.Execute(ctx, t.Clone())
	if err == nil && result == nil {
		result = &ExecutionResult{}
	}
	return result, err
}

func (p *Processor) succeed(ctx context.Context, t *Task, result *ExecutionResult) error {
	if err := p.store.MarkSucceeded(ctx, t.ID, *result); err != nil {
		// 结果未能落库时按可重试失败处理，任务会再次执行。
		return p.fail(ctx, t, xerrors.Wrap(CodeTaskProcessing, err, "保存任务结果失败"))
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", t.ID),
		slog.String("goal", t.Goal),
		slog.String("outcome", result.Outcome),
		slog.Int("iterations", result.Iterations),
	)
	p.finished(context.WithoutCancel(ctx), t.ID)
	return nil
}

func (p *Processor) fail(ctx context.Context, t *Task, cause error) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retry := ctx.Err() == nil && xerrors.RetryableError(cause) && t.Attempts < t.MaxRetries

	// 即使 ctx 已取消也要记录失败，避免任务停留在运行中。
	persist := context.WithoutCancel(ctx)
	if err := p.store.MarkFailed(persist, t.ID, code, cause.Error(), !retry); err != nil {
		p.log.Error("记录任务失败状态出错", slog.String("task_id", t.ID), slog.Any("error", err))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", t.ID),
		slog.String("goal", t.Goal),
		slog.Bool("retry", retry),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", t.Attempts),
		slog.Int("max_retries", t.MaxRetries),
	)
	if !retry {
		p.finished(persist, t.ID)
		return nil
	}
	if p.out == nil {
		return xerrors.New(xerrors.CodeSetupFailure, "未配置任务生产者，无法重新排队")
	}
	if err := p.out.Publish(ctx, t.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重新排队失败", t.ID))
	}
	p.log.Debug("任务已重新排队", slog.String("task_id", t.ID), slog.Int("attempts", t.Attempts))
	return nil
}

func (p *Processor) finished(ctx context.Context, id string) {
	if p.onDone == nil {
		return
	}
	if t, err := p.store.Get(ctx, id); err == nil {
		p.onDone(t)
	}
}
