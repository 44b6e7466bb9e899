package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// DefaultRedisQueue 是未配置时使用的 Redis list 名称。
const DefaultRedisQueue = "autoagent:tasks"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Queue     string        `yaml:"queue"`
	BlockWait time.Duration `yaml:"block_wait"`
}

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 入队，BRPOP 出队。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
	// backoff 是 Redis 出错后的首次等待时间，连续出错时翻倍，上限 maxRedisBackoff。
	backoff time.Duration
}

const (
	defaultRedisBackoff = 200 * time.Millisecond
	maxRedisBackoff     = 10 * time.Second
)

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return NewRedisQueueWithClient(client, cfg.Queue, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 基于已有客户端创建队列。
func NewRedisQueueWithClient(client *redis.Client, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = DefaultRedisQueue
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, backoff: defaultRedisBackoff}
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 启动 workers 个协程阻塞读取任务，直到 ctx 结束或队列被关闭。
// Redis 的临时故障只记录日志并退避重试，不会让消费停止。
func (q *RedisQueue) Consume(ctx context.Context, workers int, handle Handler) error {
	ctx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var wg sync.WaitGroup
	for range max(workers, 1) {
		wg.Go(func() {
			if err := q.work(ctx, handle); err != nil {
				stop(err)
			}
		})
	}
	wg.Wait()
	return context.Cause(ctx)
}

func (q *RedisQueue) work(ctx context.Context, handle Handler) error {
	log := logger.Named("queue.redis")
	delay := q.backoff
	for ctx.Err() == nil {
		// BRPOP 返回 [key, value]，超时返回 redis.Nil。
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil && ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.ErrClosed):
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 连接已关闭")
		case err != nil:
			log.Warn("Redis 取任务失败，稍后重试", slog.Duration("backoff", delay), slog.Any("error", err))
			delay = q.pause(ctx, delay)
			continue
		}
		delay = q.backoff

		id := values[1]
		if err := handle(ctx, id); err != nil && ctx.Err() == nil {
			// 放回队尾，下一次 BRPOP 会立即取到。
			log.Warn("任务处理失败，重新投递", slog.String("task_id", id), slog.Any("error", err))
			for ctx.Err() == nil {
				pushErr := q.client.RPush(ctx, q.queue, id).Err()
				if pushErr == nil || errors.Is(pushErr, redis.ErrClosed) {
					break
				}
				log.Error("Redis 重新投递任务失败，稍后重试", slog.String("task_id", id), slog.Any("error", pushErr))
				delay = q.pause(ctx, delay)
			}
		}
	}
	return nil
}

// pause 等待 delay 后返回下一次的退避时间。
func (q *RedisQueue) pause(ctx context.Context, delay time.Duration) time.Duration {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return min(delay*2, maxRedisBackoff)
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
