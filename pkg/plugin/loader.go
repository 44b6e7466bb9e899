// Package plugin discovers tool plugins on disk. Each enabled plugin lives in
// its own directory under the plugin root; every Go plugin (*.so) inside that
// directory must export a symbol named Tools that yields tool.Tool values.
package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"

	"AutoAgent/pkg/tool"
)

// Symbol is the fixed entry point every plugin shared object must export,
// either as
//
//	func Tools() []tool.Tool
//
// or as a package variable of type []tool.Tool or func() []tool.Tool.
const Symbol = "Tools"

// Extension is the file suffix of loadable plugin units.
const Extension = ".so"

// Loader resolves a plugin binary into the tools it exposes.
type Loader interface {
	Load(path string) ([]tool.Tool, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and resolves its Tools entry point.
func (GoPluginLoader) Load(path string) ([]tool.Tool, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup(Symbol)
	if err != nil {
		return nil, err
	}
	return resolve(symbol)
}

func resolve(symbol any) ([]tool.Tool, error) {
	switch entry := symbol.(type) {
	case func() []tool.Tool:
		return entry(), nil
	case *func() []tool.Tool:
		if entry == nil || *entry == nil {
			return nil, errors.New("plugin entry point is nil")
		}
		return (*entry)(), nil
	case *[]tool.Tool:
		if entry == nil {
			return nil, errors.New("plugin entry point is nil")
		}
		return *entry, nil
	case []tool.Tool:
		return entry, nil
	default:
		return nil, fmt.Errorf("plugin symbol %s has unsupported type %T", Symbol, symbol)
	}
}
