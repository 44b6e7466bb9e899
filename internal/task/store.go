package task

import (
	"context"
	"io"

	xerrors "AutoAgent/internal/errors"
)

// Store 保存任务状态。List 与 Summarize 接收的 Filter 由实现自行补齐默认值。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把待执行任务切换为运行中并累加尝试次数。
	// 任务已完成、正在运行或重试耗尽时返回对应的任务错误及当前快照。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, filter Filter) ([]*Task, error)
	Summarize(ctx context.Context, filter Filter) (Summary, error)
	io.Closer
}

// Handler 处理一条出队的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 把新任务的 ID 投递给工作协程。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	io.Closer
}

// Consumer 以 workers 个并发协程消费任务，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workers int, handle Handler) error
	io.Closer
}

// Queue 同时是生产者与消费者，内存、Redis 与 RabbitMQ 队列均实现它。
type Queue interface {
	Producer
	Consumer
}
