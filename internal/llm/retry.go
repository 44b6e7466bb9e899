package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
)

// RetryConfig 描述模型调用的重试与退避策略。
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

// DefaultRetryConfig 返回默认策略：最多 3 次，首个间隔 5 秒，每次翻倍。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	return c
}

// Delay 计算第 attempt 次失败（从 0 开始）之后的等待时间。
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		delay += delay * c.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Retrying 为任意 Client 增加重试能力，仅对可重试错误生效。
type Retrying struct {
	next   Client
	cfg    RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewRetrying 包装 client。
func NewRetrying(next Client, cfg RetryConfig) *Retrying {
	return &Retrying{
		next:   next,
		cfg:    cfg.normalized(),
		sleep:  sleepContext,
		logger: logger.Named("llm"),
	}
}

// ModelName 实现 Client。
func (r *Retrying) ModelName() string { return r.next.ModelName() }

// Generate 调用底层模型，失败时按退避策略重试。
func (r *Retrying) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		text, err := r.next.Generate(ctx, prompt, stop)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !xerrors.RetryableError(err) {
			return "", err
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}
		delay := r.cfg.Delay(attempt)
		r.logger.Warn("模型调用失败，准备重试",
			slog.String("model", r.next.ModelName()),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("模型调用在 %d 次尝试后仍失败", r.cfg.MaxAttempts),
		xerrors.WithMetadata("model", r.next.ModelName()))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
