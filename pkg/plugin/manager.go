package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"AutoAgent/pkg/tool"
)

// ErrAlreadyInstalled is returned by Install when the target directory exists.
var ErrAlreadyInstalled = errors.New("plugin already installed")

// Bundle groups the tools loaded from one plugin unit.
type Bundle struct {
	Plugin string
	Path   string
	Tools  []tool.Tool
}

// Cloner fetches a plugin repository into dst.
type Cloner func(ctx context.Context, repoURL, dst string) error

// Manager discovers, lists and installs plugins under a single root directory.
type Manager struct {
	mu     sync.Mutex
	dir    string
	loader Loader
	clone  Cloner
	logger *slog.Logger
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithCloner overrides how repositories are fetched by Install.
func WithCloner(clone Cloner) Option {
	return func(m *Manager) {
		if clone != nil {
			m.clone = clone
		}
	}
}

// WithLogger sets the logger used for discovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a manager rooted at dir.
func NewManager(dir string, opts ...Option) *Manager {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	m := &Manager{
		dir:    dir,
		loader: GoPluginLoader{},
		clone:  gitClone,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Dir returns the plugin root.
func (m *Manager) Dir() string { return m.dir }

// Discover loads every plugin unit of each enabled plugin. A missing plugin
// directory or a unit that fails to load is logged and skipped. Discovery is
// serialized so two passes never interleave.
func (m *Manager) Discover(enabled []string) ([]Bundle, error) {
	if err := (Config{Enabled: enabled}).Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(enabled) == 0 {
		return nil, nil
	}
	if info, err := os.Stat(m.dir); err != nil || !info.IsDir() {
		m.logger.Info("plugin directory not found, skipping plugin loading", slog.String("dir", m.dir))
		return nil, nil
	}

	var bundles []Bundle
	for _, name := range enabled {
		pluginDir := filepath.Join(m.dir, name)
		units, err := listUnits(pluginDir)
		if err != nil {
			m.logger.Warn("enabled plugin directory not found, skipping",
				slog.String("plugin", name), slog.String("dir", pluginDir), slog.Any("error", err))
			continue
		}
		if len(units) == 0 {
			m.logger.Warn("enabled plugin has no loadable units",
				slog.String("plugin", name), slog.String("dir", pluginDir))
			continue
		}
		for _, unit := range units {
			tools, err := m.loader.Load(unit)
			if err != nil {
				m.logger.Warn("failed to load plugin unit",
					slog.String("plugin", name), slog.String("path", unit), slog.Any("error", err))
				continue
			}
			bundles = append(bundles, Bundle{Plugin: name, Path: unit, Tools: tools})
		}
	}
	return bundles, nil
}

func listUnits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		units = append(units, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(units)
	return units, nil
}

// Installed lists plugin directories under the root.
func (m *Manager) Installed() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Install clones repoURL into the plugin root. When name is empty it is
// derived from the last path element of the URL.
func (m *Manager) Install(ctx context.Context, repoURL, name string) (string, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return "", errors.New("repository URL cannot be empty")
	}
	if name == "" {
		name = InferName(repoURL)
	}
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("could not determine plugin name, provide one explicitly: %w", err)
	}
	target := filepath.Join(m.dir, name)
	if _, err := os.Stat(target); err == nil {
		return target, fmt.Errorf("%w: %s", ErrAlreadyInstalled, target)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create plugin directory: %w", err)
	}
	if err := m.clone(ctx, repoURL, target); err != nil {
		return "", fmt.Errorf("install plugin %s: %w", name, err)
	}
	m.logger.Info("plugin installed", slog.String("plugin", name), slog.String("dir", target))
	return target, nil
}

// InferName derives a plugin name from a repository URL,
// e.g. https://example.com/user/my-plugin.git -> my-plugin.
func InferName(repoURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	if idx := strings.LastIndexAny(trimmed, ":/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return strings.TrimSuffix(path.Base(trimmed), ".git")
}

func gitClone(ctx context.Context, repoURL, dst string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
