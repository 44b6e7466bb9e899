// Package tools 汇总内置工具的构造工厂，供注册表装配使用。
package tools

import (
	"AutoAgent/internal/knowledge"
	"AutoAgent/internal/registry"
	"AutoAgent/internal/tools/browser"
	"AutoAgent/internal/tools/chain"
	"AutoAgent/internal/tools/database"
	"AutoAgent/internal/tools/filesystem"
	"AutoAgent/internal/tools/human"
	"AutoAgent/internal/tools/shell"
	"AutoAgent/internal/tools/spawner"
	"AutoAgent/internal/tools/web"
)

// Deps 是内置工具依赖的运行期组件。
type Deps struct {
	// Tasks 为空时不注册 task_spawner。
	Tasks spawner.Tasks
	// Interactive 为 false 时不注册 ask_human，例如服务模式下没有终端。
	Interactive bool
}

// Builtin 按注册顺序返回全部内置工具工厂。危险标记与工具实例上的 Dangerous 保持一致。
func Builtin(deps Deps) []registry.Factory {
	factories := []registry.Factory{
		{Name: web.SearchName, New: web.SearchFactory},
		{Name: filesystem.Name, Dangerous: true, New: filesystem.Factory},
		{Name: web.Name, New: web.Factory},
		{Name: database.Name, Dangerous: true, New: database.Factory},
		{Name: browser.Name, New: browser.Factory},
	}
	if deps.Interactive {
		factories = append(factories, registry.Factory{Name: human.Name, New: human.Factory})
	}
	factories = append(factories,
		registry.Factory{Name: shell.CommandLineName, Dangerous: true, New: shell.CommandLineFactory},
		registry.Factory{Name: shell.PythonExecName, Dangerous: true, New: shell.PythonExecFactory},
		registry.Factory{Name: filesystem.CodeModifierName, Dangerous: true, New: filesystem.CodeModifierFactory},
		registry.Factory{Name: spawner.Name, Dangerous: true, New: spawner.NewFactory(deps.Tasks)},
		registry.Factory{Name: web.APIClientName, New: web.APIClientFactory},
		registry.Factory{Name: knowledge.ToolName, New: knowledge.Factory},
		registry.Factory{Name: chain.Name, New: chain.Factory},
	)
	return factories
}

// Names 返回全部内置工具名称。
func Names() []string {
	factories := Builtin(Deps{Interactive: true})
	names := make([]string, 0, len(factories))
	for _, f := range factories {
		names = append(names, f.Name)
	}
	return names
}
