package config

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm/provider"
	"AutoAgent/internal/observability/alerting"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/plugin"
)

// 任务存储与队列的可选驱动。
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

const (
	defaultMaxIterations = 15
	defaultServerAddress = ":8080"
	defaultWorkers       = 2
	defaultQueueSize     = 128
	defaultProvider      = provider.Ollama
)

// 以下工具的配置段中包含需要按配置文件目录解析的路径。
var toolPathKeys = map[string][]string{
	"file_system":      {"base_directory"},
	"knowledge_lookup": {"path"},
}

// Config 描述了 AutoAgent 启动阶段需要加载的全部配置。
type Config struct {
	LLM                  provider.Config           `yaml:"llm"`
	Agent                AgentConfig               `yaml:"agent"`
	EnableDangerousTools bool                      `yaml:"enable_dangerous_tools"`
	Tools                map[string]map[string]any `yaml:"tools"`
	Knowledge            KnowledgeConfig           `yaml:"knowledge"`
	Plugins              plugin.Config             `yaml:"plugins"`
	Logging              logger.Config             `yaml:"logging"`
	Tasks                TasksConfig               `yaml:"tasks"`
	Server               ServerConfig              `yaml:"server"`
	Alerting             AlertingConfig            `yaml:"alerting"`

	// Path 是加载时使用的配置文件路径，未使用文件时为空。
	Path string `yaml:"-"`
}

// AgentConfig 控制推理循环。
type AgentConfig struct {
	MaxIterations  int    `yaml:"max_iterations"`
	PromptTemplate string `yaml:"prompt_template"`
	// MemoryWindow 限制渲染到提示词中的历史条数，0 表示不限制。
	MemoryWindow int `yaml:"memory_window"`
}

// KnowledgeConfig 是 knowledge_lookup 工具的快捷配置。
type KnowledgeConfig struct {
	Path       string `yaml:"path"`
	MaxResults int    `yaml:"max_results"`
}

// TasksConfig 描述后台子任务的存储、队列与工作协程。
type TasksConfig struct {
	Store      StoreConfig `yaml:"store"`
	Queue      QueueConfig `yaml:"queue"`
	Workers    int         `yaml:"workers"`
	MaxRetries int         `yaml:"max_retries"`
}

// StoreConfig 选择任务存储实现。
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	Driver   string                `yaml:"driver"`
	Size     int                   `yaml:"size"`
	Redis    task.RedisQueueConfig `yaml:"redis"`
	RabbitMQ task.RabbitMQConfig   `yaml:"rabbitmq"`
}

// ServerConfig 控制 HTTP API 的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// AlertingConfig 描述任务失败告警的投递目标，日志渠道总是开启。
type AlertingConfig struct {
	Webhooks []alerting.WebhookConfig `yaml:"webhooks"`
}

// Default 返回未加载任何文件时的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults("")
	return cfg
}

// Load 解析 YAML 配置文件。同目录与当前目录下的 .env 会先被加载，
// 已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "配置文件路径为空")
	}
	baseDir := filepath.Dir(path)
	loadDotEnv(filepath.Join(baseDir, ".env"), ".env")

	content, err := os.ReadFile(path)
	if err != nil {
		code := xerrors.CodeConfigInvalid
		if !stdErrors.Is(err, fs.ErrNotExist) {
			code = xerrors.CodeSetupFailure
		}
		return nil, xerrors.Wrap(code, err, "读取配置文件失败", xerrors.WithMetadata("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败", xerrors.WithMetadata("path", path))
	}
	cfg.Path = path
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Named("config").Warn("加载 .env 失败", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// applyEnv 在配置未填写 API Key 时使用环境变量。
func (c *Config) applyEnv() {
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.Gemini.APIKey == "" {
		c.LLM.Gemini.APIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
	}
	if c.LLM.Anthropic.APIKey == "" {
		c.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.LLM.Ollama.Host == "" {
		c.LLM.Ollama.Host = os.Getenv("OLLAMA_HOST")
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultProvider
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.PythonBridge.WorkingDir != "" {
		c.LLM.PythonBridge.WorkingDir = resolve(baseDir, c.LLM.PythonBridge.WorkingDir)
	}
	if c.LLM.PythonBridge.Script != "" && c.LLM.PythonBridge.WorkingDir == "" {
		c.LLM.PythonBridge.Script = resolve(baseDir, c.LLM.PythonBridge.Script)
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = defaultMaxIterations
	}

	if c.Tools == nil {
		c.Tools = map[string]map[string]any{}
	}
	if c.Knowledge.Path != "" {
		section := c.Tools["knowledge_lookup"]
		if section == nil {
			section = map[string]any{}
			c.Tools["knowledge_lookup"] = section
		}
		if _, ok := section["path"]; !ok {
			section["path"] = c.Knowledge.Path
		}
		if _, ok := section["max_results"]; !ok && c.Knowledge.MaxResults > 0 {
			section["max_results"] = c.Knowledge.MaxResults
		}
	}
	for name, keys := range toolPathKeys {
		section := c.Tools[name]
		for _, key := range keys {
			if value, ok := section[key].(string); ok && value != "" {
				section[key] = resolve(baseDir, value)
			}
		}
	}

	if c.Plugins.Dir == "" {
		c.Plugins.Dir = plugin.DefaultDir
	}
	c.Plugins.Dir = resolve(baseDir, c.Plugins.Dir)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	if c.Tasks.Store.Driver == "" {
		c.Tasks.Store.Driver = DriverMemory
	}
	if c.Tasks.Queue.Driver == "" {
		c.Tasks.Queue.Driver = DriverMemory
	}
	if c.Tasks.Queue.Size <= 0 {
		c.Tasks.Queue.Size = defaultQueueSize
	}
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = defaultWorkers
	}
	if c.Tasks.MaxRetries <= 0 {
		c.Tasks.MaxRetries = task.DefaultMaxRetries
	}

	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}
}

func resolve(baseDir, p string) string {
	if baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate 检查配置的取值范围。
func (c *Config) Validate() error {
	var problems []string
	if !contains(provider.Supported(), c.LLM.Provider) {
		problems = append(problems, fmt.Sprintf("llm.provider %q 不受支持，可选值: %s",
			c.LLM.Provider, strings.Join(provider.Supported(), ", ")))
	}
	if c.Agent.MemoryWindow < 0 {
		problems = append(problems, "agent.memory_window 不能为负数")
	}
	if err := c.Plugins.Validate(); err != nil {
		problems = append(problems, "plugins: "+err.Error())
	}
	switch c.Tasks.Store.Driver {
	case DriverMemory:
	case DriverMySQL:
		if strings.TrimSpace(c.Tasks.Store.DSN) == "" {
			problems = append(problems, "tasks.store.dsn 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("tasks.store.driver %q 不受支持", c.Tasks.Store.Driver))
	}
	switch c.Tasks.Queue.Driver {
	case DriverMemory, DriverRedis:
	case DriverRabbitMQ:
		if strings.TrimSpace(c.Tasks.Queue.RabbitMQ.URL) == "" {
			problems = append(problems, "tasks.queue.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("tasks.queue.driver %q 不受支持", c.Tasks.Queue.Driver))
	}
	for i, hook := range c.Alerting.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			problems = append(problems, fmt.Sprintf("alerting.webhooks[%d].url 不能为空", i))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return xerrors.New(xerrors.CodeConfigInvalid, "配置校验失败: "+strings.Join(problems, "; "))
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
