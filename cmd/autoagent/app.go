package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"AutoAgent/internal/agent"
	"AutoAgent/internal/config"
	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
	"AutoAgent/internal/llm/provider"
	"AutoAgent/internal/memory"
	"AutoAgent/internal/observability/alerting"
	"AutoAgent/internal/observability/metrics"
	"AutoAgent/internal/registry"
	"AutoAgent/internal/task"
	"AutoAgent/internal/tools"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/plugin"
)

type appOptions struct {
	// interactive registers ask_human, which needs a terminal.
	interactive bool
	// withModel builds the language model client; listing tools does not need one.
	withModel bool
}

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	model     llm.Client
	tools     *registry.Registry
	tasks     *task.Service
	store     task.Store
	queue     task.Queue
	metrics   *metrics.Metrics
	processor *task.Processor
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New(), logger: logger.Named("app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if opts.withModel {
		if a.model, err = provider.New(ctx, cfg.LLM); err != nil {
			return nil, err
		}
	}

	if a.store, err = buildStore(ctx, cfg.Tasks.Store); err != nil {
		return nil, err
	}
	if a.queue, err = buildQueue(ctx, cfg.Tasks.Queue); err != nil {
		return nil, err
	}
	a.tasks = task.NewService(a.store, a.queue, cfg.Tasks.MaxRetries)

	a.tools, err = registry.Assemble(registry.Options{
		EnableDangerous: cfg.EnableDangerousTools,
		Sections:        cfg.Tools,
		Factories:       tools.Builtin(tools.Deps{Tasks: a.tasks, Interactive: opts.interactive}),
		Plugins:         plugin.NewManager(cfg.Plugins.Dir, plugin.WithLogger(logger.Named("plugin"))),
		EnabledPlugins:  cfg.Plugins.Enabled,
		Logger:          logger.Named("registry"),
	})
	if err != nil {
		return nil, err
	}
	if a.tools.Len() == 0 {
		a.logger.Warn("未初始化任何工具，智能体能力有限")
	}

	if a.model != nil {
		executor := agent.NewTaskExecutor(a.model, a.tools, agent.WithRunOptions(a.runOptions()...))
		hook := alerting.TaskHook(alerting.NewFanout(a.notifiers()...))
		a.processor = task.NewProcessor(executor, a.store, a.queue, a.queue,
			task.WithWorkerCount(cfg.Tasks.Workers),
			task.WithProcessorLogger(logger.Named("processor")),
			task.WithCompletionHook(func(t *task.Task) {
				a.metrics.TaskFinished(t)
				hook(t)
			}),
		)
	}
	return a, nil
}

// runOptions are shared by the foreground agent and background sub-agents.
func (a *app) runOptions() []agent.Option {
	return []agent.Option{
		agent.WithMaxIterations(a.cfg.Agent.MaxIterations),
		agent.WithPromptTemplate(a.cfg.Agent.PromptTemplate),
		agent.WithObserver(a.metrics),
	}
}

func (a *app) notifiers() []alerting.Notifier {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	for _, hook := range a.cfg.Alerting.Webhooks {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(hook))
	}
	return notifiers
}

// newOrchestrator builds the foreground agent with its own memory.
func (a *app) newOrchestrator(opts ...agent.Option) (*agent.Orchestrator, error) {
	if a.model == nil {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未配置大模型客户端")
	}
	if a.cfg.Agent.PromptTemplate != "" {
		if err := agent.CheckTemplate(a.cfg.Agent.PromptTemplate); err != nil {
			return nil, err
		}
	}
	mem := memory.New(memory.WithWindow(a.cfg.Agent.MemoryWindow), memory.WithLogger(logger.Named("memory")))
	all := append(a.runOptions(), agent.WithMemory(mem), agent.WithLogger(logger.Named("agent")))
	return agent.New(a.model, a.tools, append(all, opts...)...), nil
}

// startWorkers runs the background task processor until ctx ends.
func (a *app) startWorkers(ctx context.Context) {
	if a.processor == nil {
		return
	}
	go func() {
		if err := a.processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			a.logger.Error("任务处理器退出", slog.Any("error", err))
		}
	}()
}

// Close releases tools, the task store and the queue.
func (a *app) Close() error {
	var errs []error
	if a.tools != nil {
		errs = append(errs, a.tools.Close())
	}
	if a.tasks != nil {
		errs = append(errs, a.tasks.Close())
	} else {
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		if a.queue != nil {
			errs = append(errs, a.queue.Close())
		}
	}
	return stdErrors.Join(errs...)
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return task.NewMemoryStore(), nil
	case config.DriverMySQL:
		store, err := task.NewMySQLStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("不支持的任务存储驱动: %s", cfg.Driver))
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return task.NewMemoryQueue(cfg.Size), nil
	case config.DriverRedis:
		queue, err := task.NewRedisQueue(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return queue, nil
	case config.DriverRabbitMQ:
		queue, err := task.NewRabbitMQQueue(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("不支持的任务队列驱动: %s", cfg.Driver))
	}
}
