package task

import (
	"context"
	"sync"

	xerrors "AutoAgent/internal/errors"
)

// DefaultMemoryQueueSize 是内存队列未配置容量时的缓冲长度。
const DefaultMemoryQueueSize = 64

// MemoryQueue 是基于带缓冲 channel 的进程内队列，供单进程模式与测试使用。
// 关闭后缓冲中尚未消费的任务会被丢弃，它们仍以待执行状态留在存储中。
type MemoryQueue struct {
	items     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	return &MemoryQueue{items: make(chan string, size), done: make(chan struct{})}
}

// Publish 投递任务，缓冲已满时阻塞直到有空位、队列关闭或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	if q.closed() {
		return errQueueClosed()
	}
	select {
	case q.items <- taskID:
		return nil
	case <-q.done:
		return errQueueClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 启动 workers 个协程处理任务，ctx 结束或队列关闭后返回。
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handle Handler) error {
	var wg sync.WaitGroup
	for range max(workers, 1) {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case id := <-q.items:
					// 处理失败时由 Processor 负责重新入队。
					_ = handle(ctx, id)
				}
			}
		})
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
}

var _ Queue = (*MemoryQueue)(nil)
