package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	xerrors "AutoAgent/internal/errors"
)

const interactiveSelector = "input, button, textarea, select"

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func rodLauncher(headless bool, bin string) Launcher {
	return func(ctx context.Context) (Session, error) {
		l := launcher.New().Leakless(true).Headless(headless)
		if bin != "" {
			l = l.Bin(bin)
		}
		controlURL, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "启动浏览器失败")
		}
		// the browser outlives the call that started it
		browser := rod.New().ControlURL(controlURL).Context(context.Background())
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "连接浏览器失败")
		}
		page, err := browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			_ = browser.Close()
			l.Kill()
			return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "创建页面失败")
		}
		return &rodSession{launcher: l, browser: browser, page: page}, nil
	}
}

func (s *rodSession) Navigate(ctx context.Context, url string) (string, error) {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return "", err
	}
	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	return s.currentURL(ctx)
}

func (s *rodSession) Fill(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	_ = el.SelectAllText()
	return el.Input(value)
}

func (s *rodSession) Click(ctx context.Context, selector string) (string, error) {
	page := s.page.Context(ctx)
	el, err := page.Element(selector)
	if err != nil {
		return "", err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", err
	}
	// give navigation or scripts triggered by the click a moment to settle
	settle, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = s.page.Context(settle).WaitLoad()
	return s.currentURL(ctx)
}

func (s *rodSession) Content(ctx context.Context) (string, []string, error) {
	page := s.page.Context(ctx)
	html, err := page.HTML()
	if err != nil {
		return "", nil, err
	}
	elements, err := page.Elements(interactiveSelector)
	if err != nil {
		return "", nil, err
	}
	outer := make([]string, 0, len(elements))
	for _, el := range elements {
		text, err := el.HTML()
		if err != nil {
			continue
		}
		outer = append(outer, strings.TrimSpace(text))
	}
	return html, outer, nil
}

func (s *rodSession) Screenshot(ctx context.Context, path string) error {
	data, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	return err
}

func (s *rodSession) currentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}
