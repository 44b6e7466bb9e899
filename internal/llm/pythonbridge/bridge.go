// Package pythonbridge 把推理交给外部 Python 脚本，便于接入本地模型或自定义推理管线。
//
// 每次调用启动一个脚本进程：标准输入是一行 JSON 请求，标准输出是一个 JSON 响应。
// 脚本可以通过 error 字段报告业务错误，非零退出码视为调用失败。
package pythonbridge

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
)

const provider = "Python 脚本"

// Config 描述脚本位置与运行环境。Env 会追加到当前进程的环境变量之后。
type Config struct {
	Python     string            `yaml:"python"`
	Script     string            `yaml:"script"`
	WorkingDir string            `yaml:"working_dir"`
	Model      string            `yaml:"model"`
	Env        map[string]string `yaml:"env"`
}

type request struct {
	Prompt string   `json:"prompt"`
	Stop   []string `json:"stop"`
	Model  string   `json:"model"`
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Client 实现 llm.Client。
type Client struct {
	python string
	script string
	dir    string
	model  string
	env    []string
}

// NewClient 校验配置并创建客户端，脚本路径相对 WorkingDir 解析。
func NewClient(cfg Config) (*Client, error) {
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未指定 Python 脚本路径")
	}
	c := &Client{
		python: cmp.Or(strings.TrimSpace(cfg.Python), "python3"),
		script: ResolveScriptPath(cfg.WorkingDir, script),
		dir:    cfg.WorkingDir,
		model:  cmp.Or(cfg.Model, "python-bridge:"+filepath.Base(script)),
	}
	if len(cfg.Env) > 0 {
		c.env = os.Environ()
		keys := make([]string, 0, len(cfg.Env))
		for key := range cfg.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			c.env = append(c.env, key+"="+cfg.Env[key])
		}
	}
	return c, nil
}

// ModelName 实现 llm.Client。
func (c *Client) ModelName() string { return c.model }

// Generate 运行一次脚本并返回其 text 字段。
func (c *Client) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	payload, err := json.Marshal(request{Prompt: prompt, Stop: stop, Model: c.model})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeModelFailure, err, "序列化请求失败", xerrors.WithRetryable(false))
	}

	cmd := exec.CommandContext(ctx, c.python, c.script)
	cmd.Dir = c.dir
	cmd.Env = c.env
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	switch {
	case err != nil && ctx.Err() != nil:
		return "", llm.TransportError(provider, ctx.Err())
	case err != nil:
		return "", xerrors.Wrap(xerrors.CodeModelFailure, err, fmt.Sprintf("执行 Python 脚本失败: %s", tail(stderr.String(), 512)),
			xerrors.WithRetryable(false), xerrors.WithMetadata("script", c.script))
	}

	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", xerrors.Wrap(xerrors.CodeModelFailure, err, "解析 Python 输出失败", xerrors.WithRetryable(false))
	}
	if resp.Error != "" {
		return "", xerrors.New(xerrors.CodeModelFailure, "Python 脚本返回错误: "+resp.Error)
	}
	if text := strings.TrimSpace(resp.Text); text != "" {
		return text, nil
	}
	return "", llm.EmptyResponse(provider)
}

// ResolveScriptPath 把相对脚本路径拼接到 baseDir 下。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || baseDir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(baseDir, script)
}

// tail 保留 stderr 末尾，Python 的异常信息通常在最后几行。
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

var _ llm.Client = (*Client)(nil)
