package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoAgent/pkg/tool"
)

type fakeLoader struct {
	loaded []string
	fail   map[string]error
}

func (f *fakeLoader) Load(path string) ([]tool.Tool, error) {
	f.loaded = append(f.loaded, path)
	if err := f.fail[filepath.Base(path)]; err != nil {
		return nil, err
	}
	return []tool.Tool{tool.Func{ToolName: filepath.Base(path)}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestDiscoverLoadsEnabledPluginsInOrder(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "alpha", "b.so"))
	touch(t, filepath.Join(root, "alpha", "a.so"))
	touch(t, filepath.Join(root, "alpha", "README.md"))
	touch(t, filepath.Join(root, "beta", "broken.so"))
	touch(t, filepath.Join(root, "beta", "ok.so"))
	touch(t, filepath.Join(root, "disabled", "x.so"))

	loader := &fakeLoader{fail: map[string]error{"broken.so": errors.New("bad elf")}}
	mgr := NewManager(root, WithLoader(loader), WithLogger(quietLogger()))

	bundles, err := mgr.Discover([]string{"alpha", "missing", "beta"})
	require.NoError(t, err)
	require.Len(t, bundles, 3)
	assert.Equal(t, "alpha", bundles[0].Plugin)
	assert.Equal(t, "a.so", bundles[0].Tools[0].Name())
	assert.Equal(t, "b.so", bundles[1].Tools[0].Name())
	assert.Equal(t, "beta", bundles[2].Plugin)
	assert.Equal(t, "ok.so", bundles[2].Tools[0].Name())

	for _, path := range loader.loaded {
		assert.NotContains(t, path, "disabled")
	}
}

func TestDiscoverWithoutRootIsEmpty(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "nope"), WithLogger(quietLogger()))
	bundles, err := mgr.Discover([]string{"alpha"})
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestDiscoverRejectsBadNames(t *testing.T) {
	mgr := NewManager(t.TempDir(), WithLogger(quietLogger()))
	_, err := mgr.Discover([]string{"../etc"})
	assert.Error(t, err)
	_, err = mgr.Discover([]string{"a", "a"})
	assert.Error(t, err)
}

func TestInstallClonesOnce(t *testing.T) {
	root := t.TempDir()
	var cloned []string
	clone := func(_ context.Context, repoURL, dst string) error {
		cloned = append(cloned, repoURL)
		return os.MkdirAll(dst, 0o755)
	}
	mgr := NewManager(root, WithCloner(clone), WithLogger(quietLogger()))

	target, err := mgr.Install(context.Background(), "https://example.com/team/weather-tools.git", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "weather-tools"), target)

	_, err = mgr.Install(context.Background(), "https://example.com/team/weather-tools.git", "")
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.Len(t, cloned, 1)

	names, err := mgr.Installed()
	require.NoError(t, err)
	assert.Equal(t, []string{"weather-tools"}, names)
}

func TestInferName(t *testing.T) {
	assert.Equal(t, "my-plugin", InferName("https://github.com/user/my-plugin.git"))
	assert.Equal(t, "repo", InferName("git@github.com:user/repo.git/"))
	assert.Equal(t, "plain", InferName("plain"))
}

func TestResolveEntryPoint(t *testing.T) {
	tools := []tool.Tool{tool.Func{ToolName: "x"}}
	fn := func() []tool.Tool { return tools }

	got, err := resolve(fn)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = resolve(&tools)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = resolve(42)
	assert.Error(t, err)
}
