package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDir is the plugin root used when none is configured.
const DefaultDir = "plugins"

// Config describes where plugins live and which ones are enabled.
type Config struct {
	Dir     string   `yaml:"dir"`
	Enabled []string `yaml:"enabled"`
}

// Validate ensures every enabled plugin name is a plain directory name.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Enabled))
	for _, name := range c.Enabled {
		if err := validateName(name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("plugin %s enabled twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("plugin name cannot be empty")
	}
	if trimmed != name || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid plugin name %q", name)
	}
	return nil
}
