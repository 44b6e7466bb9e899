package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// DefaultMaxRetries 是未配置时单个任务的最大执行次数。
const DefaultMaxRetries = 3

// Service 是提交与查询后台任务的入口，API、spawn_agent 工具与 CLI 共用同一实例。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// NewID 生成新的任务 ID。
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// Submit 保存任务并投递到队列。
// 指定的 ID 已存在时不会重复入队，而是返回已有任务，调用方可以安全重试。
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	if err := s.ready(true); err != nil {
		return nil, err
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务目标不能为空")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = NewID()
	} else if existing, err := s.existing(ctx, id); existing != nil || err != nil {
		return existing, err
	}

	t := &Task{
		ID:           id,
		Goal:         goal,
		AllowedTools: normalizeTools(req.AllowedTools),
		Source:       strings.TrimSpace(req.Source),
		Metadata:     cloneMetadata(req.Metadata),
		Status:       StatusPending,
		MaxRetries:   s.maxRetries,
	}
	if err := s.store.Create(ctx, t); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			// 并发提交了同一个 ID。
			if existing, getErr := s.existing(ctx, id); existing != nil || getErr != nil {
				return existing, getErr
			}
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, id); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		logger.L().Error("任务入队失败", slog.String("task_id", id), slog.Any("error", err))
		if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), id, CodeTaskPublish, wrapped.Error(), true); markErr != nil {
			logger.L().Error("记录入队失败状态出错", slog.String("task_id", id), slog.Any("error", markErr))
		}
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", id),
		slog.String("goal", t.Goal),
		slog.String("source", t.Source),
		slog.Any("allowed_tools", t.AllowedTools),
		slog.Int("max_retries", t.MaxRetries),
	)
	return t.Clone(), nil
}

// Get 返回任务快照。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// List 返回匹配的任务。
func (s *Service) List(ctx context.Context, opts ...FilterOption) ([]*Task, error) {
	if err := s.ready(false); err != nil {
		return nil, err
	}
	return s.store.List(ctx, NewFilter(opts...))
}

// Summarize 汇总匹配任务的状态与来源分布。
func (s *Service) Summarize(ctx context.Context, opts ...FilterOption) (Summary, error) {
	if err := s.ready(false); err != nil {
		return Summary{}, err
	}
	return s.store.Summarize(ctx, NewFilter(opts...))
}

// WaitUntilCompleted 按 interval 轮询任务，直到它进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil || t.Terminal() {
			return t, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 依次关闭存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

func (s *Service) ready(publishing bool) error {
	if s.store == nil || (publishing && s.producer == nil) {
		return xerrors.New(xerrors.CodeSetupFailure, "任务服务未初始化")
	}
	return nil
}

// existing 查询已有任务，不存在时返回 (nil, nil)。
func (s *Service) existing(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if stdErrors.Is(err, ErrTaskNotFound) {
		return nil, nil
	}
	return t, err
}

// normalizeTools 去除空白与重复的工具名，保持首次出现的顺序。
func normalizeTools(names []string) []string {
	trimmed := make([]string, 0, len(names))
	for _, name := range names {
		trimmed = append(trimmed, strings.TrimSpace(name))
	}
	return distinct(trimmed, func(name string) bool { return name != "" })
}
