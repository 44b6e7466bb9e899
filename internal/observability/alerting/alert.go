// Package alerting 在后台任务最终失败时发出告警，渠道包括日志与 Webhook。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	TaskID     string            `json:"task_id"`
	Goal       string            `json:"goal"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，忽略空通知器与重名通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	seen := make(map[string]struct{}, len(notifiers))
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, dup := seen[n.Name()]; dup {
			continue
		}
		seen[n.Name()] = struct{}{}
		set = append(set, n)
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入应用日志与审计日志。
type LogNotifier struct{}

// Name 返回通知器名称。
func (LogNotifier) Name() string { return string(ChannelLog) }

// Notify 记录告警。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	}
	logger.Named("alerting").Error("任务告警", attrs...)
	logger.Audit().Warn("task alert", attrs...)
	return nil
}

// WebhookConfig 描述一个 Webhook 告警目标。
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// WebhookNotifier 以 JSON 形式 POST 告警事件。
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器。
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = string(ChannelWebhook) + ":" + cfg.URL
	}
	return &WebhookNotifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name 返回通知器名称。
func (n *WebhookNotifier) Name() string { return n.cfg.Name }

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.cfg.URL == "" {
		logger.L().Warn("Webhook 通知器未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	keys := make([]string, 0, len(n.cfg.Headers))
	for k := range n.cfg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Header.Set(k, n.cfg.Headers[k])
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TaskHook 返回任务处理器的完成回调：失败任务的错误码需要告警时广播事件。
func TaskHook(dispatcher Dispatcher) func(*task.Task) {
	return func(t *task.Task) {
		if dispatcher == nil || t == nil || t.Status != task.StatusFailed {
			return
		}
		code := xerrors.Code(t.ErrorCode)
		if code == "" {
			code = task.CodeTaskProcessing
		}
		attr := xerrors.AttributesOf(code)
		if !attr.Alert && t.Attempts < t.MaxRetries {
			return
		}
		event := Event{
			Code:       code,
			Message:    t.LastError,
			Severity:   attr.Severity,
			TaskID:     t.ID,
			Goal:       t.Goal,
			Attempts:   t.Attempts,
			MaxRetries: t.MaxRetries,
			Metadata:   map[string]string{"source": t.Source},
			OccurredAt: time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Notify(ctx, event); err != nil {
			logger.Named("alerting").Warn("发送告警失败", slog.String("task_id", t.ID), slog.Any("error", err))
		}
	}
}
