package registry

import (
	"fmt"
	"log/slog"
	"sync"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/plugin"
	"AutoAgent/pkg/tool"
)

// Factory 声明一个内置工具及其构造方式。Dangerous 是静态能力标记，
// 在实例化之前用于危险工具开关判断。
type Factory struct {
	Name      string
	Dangerous bool
	New       func(section map[string]any) (tool.Tool, error)
}

// Discoverer 提供插件发现能力，由 plugin.Manager 实现。
type Discoverer interface {
	Discover(enabled []string) ([]plugin.Bundle, error)
}

// Options 描述一次装配所需的外部输入。
type Options struct {
	EnableDangerous bool
	Sections        map[string]map[string]any
	Factories       []Factory
	Plugins         Discoverer
	EnabledPlugins  []string
	Logger          *slog.Logger
}

var assembleMu sync.Mutex

// Assemble 根据配置构建工具表：先内置工具，再插件工具。
// 内置工具构造失败属于启动错误，会直接返回；插件问题只记录日志。
func Assemble(opts Options) (*Registry, error) {
	assembleMu.Lock()
	defer assembleMu.Unlock()

	reg := newRegistry(opts.Logger)
	gate := dangerGate{enabled: opts.EnableDangerous, logger: reg.logger}

	for _, factory := range opts.Factories {
		if factory.New == nil {
			return nil, xerrors.New(xerrors.CodeSetupFailure, fmt.Sprintf("工具 %s 缺少构造函数", factory.Name))
		}
		if !gate.allow(factory.Name, factory.Dangerous, SourceBuiltin) {
			continue
		}
		t, err := factory.New(opts.Sections[factory.Name])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, fmt.Sprintf("初始化工具 %s 失败", factory.Name),
				xerrors.WithMetadata("tool", factory.Name))
		}
		if t == nil {
			continue
		}
		if reg.register(t, SourceBuiltin) {
			reg.logger.Debug("已注册内置工具", slog.String("tool", t.Name()))
		}
	}

	if opts.Plugins == nil || len(opts.EnabledPlugins) == 0 {
		return reg, nil
	}
	bundles, err := opts.Plugins.Discover(opts.EnabledPlugins)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginFailure, err, "插件配置无效")
	}
	for _, bundle := range bundles {
		source := "plugin:" + bundle.Plugin
		for _, t := range bundle.Tools {
			if t == nil || t.Name() == "" {
				reg.logger.Warn("插件返回了无效工具，已跳过", slog.String("plugin", bundle.Plugin), slog.String("path", bundle.Path))
				continue
			}
			if !gate.allow(t.Name(), t.Dangerous(), source) {
				continue
			}
			if reg.register(t, source) {
				reg.logger.Info("已注册插件工具", slog.String("tool", t.Name()), slog.String("plugin", bundle.Plugin))
			}
		}
	}
	return reg, nil
}

type dangerGate struct {
	enabled bool
	logger  *slog.Logger
}

func (g dangerGate) allow(name string, dangerous bool, source string) bool {
	if !dangerous {
		return true
	}
	if !g.enabled {
		g.logger.Warn("危险工具未启用，已跳过", slog.String("tool", name), slog.String("source", source))
		logger.Audit().Info("dangerous tool skipped", slog.String("tool", name), slog.String("source", source))
		return false
	}
	logger.Audit().Info("dangerous tool enabled", slog.String("tool", name), slog.String("source", source))
	return true
}
