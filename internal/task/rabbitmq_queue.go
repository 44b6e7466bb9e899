package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// DefaultRabbitMQQueue 是未配置时声明的队列名称。
const DefaultRabbitMQQueue = "autoagent.tasks"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitMQQueue 使用 RabbitMQ 实现任务队列。发布共用一个 channel，
// 每次 Consume 另开 channel，按工作协程数设置预取量并手动确认。
type RabbitMQQueue struct {
	cfg  RabbitMQConfig
	conn *amqp.Connection
	mu   sync.Mutex
	pub  *amqp.Channel
}

// NewRabbitMQQueue 连接 RabbitMQ 并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (_ *RabbitMQQueue, err error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	pub, err := conn.Channel()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := pub.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQQueue{cfg: cfg, conn: conn, pub: pub}, nil
}

// Publish 以持久化消息投递任务 ID。
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.pub.PublishWithContext(ctx, "", q.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(taskID),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 消费队列直到 ctx 结束。处理失败的消息 Nack 后重新入队；
// 连接中断时返回 QUEUE_FAILURE。
func (q *RabbitMQQueue) Consume(ctx context.Context, workers int, handle Handler) error {
	workers = max(workers, 1)
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ 消费 channel 失败")
	}
	defer ch.Close()

	prefetch := q.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = workers
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ 预取量失败")
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	var (
		wg     sync.WaitGroup
		broken atomic.Bool
	)
	for range workers {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						broken.Store(ctx.Err() == nil)
						return
					}
					settle(ctx, msg, handle(ctx, string(msg.Body)))
				}
			}
		})
	}
	wg.Wait()
	if broken.Load() {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
	}
	return ctx.Err()
}

func settle(ctx context.Context, msg amqp.Delivery, err error) {
	if err == nil || ctx.Err() != nil {
		_ = msg.Ack(false)
		return
	}
	logger.L().Warn("任务处理失败，重新入队", slog.String("task_id", string(msg.Body)), slog.Any("error", err))
	_ = msg.Nack(false, true)
}

// Close 关闭发布 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	_ = q.pub.Close()
	return q.conn.Close()
}

var _ Queue = (*RabbitMQQueue)(nil)
