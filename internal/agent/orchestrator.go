package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm"
	"AutoAgent/internal/memory"
	"AutoAgent/internal/parser"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// Status 表示一次运行的状态。
type Status string

const (
	StatusRunning              Status = "running"
	StatusAchieved             Status = "achieved"
	StatusMaxIterationsReached Status = "max_iterations_reached"
	StatusAborted              Status = "aborted"
)

// 运行结果消息的前缀，调用方据此区分成功与停止。
const (
	AchievedPrefix = "Goal Achieved: "
	StoppedPrefix  = "Agent stopped: "
)

// NoActionLabel 是未给出动作时记录到记忆中的动作名称。
const NoActionLabel = "No Action"

const (
	defaultMaxIterations = 15
	noActionObservation  = "Observation: No action was specified. Please provide an action or a final answer."
)

// Toolbox 是编排器所需的工具表能力，由 registry.Registry 实现。
type Toolbox interface {
	Names() []string
	Describe() string
	Has(name string) bool
	Call(ctx context.Context, name, raw string) tool.Outcome
}

// Observer 接收运行与工具调用事件，用于指标统计。
type Observer interface {
	RunFinished(status Status, iterations int, elapsed time.Duration)
	ToolDispatched(name string, failed bool, elapsed time.Duration)
}

// Step 描述一次已记录的迭代，供界面展示进度。
type Step struct {
	Iteration   int
	Thought     string
	Action      string
	ActionInput string
	Observation string
}

// Result 是一次运行的最终结果。
type Result struct {
	Goal       string `json:"goal"`
	Status     Status `json:"status"`
	Answer     string `json:"answer,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Iterations int    `json:"iterations"`
	Err        error  `json:"-"`
}

// Message 返回带状态前缀的结果文本。
func (r Result) Message() string {
	if r.Status == StatusAchieved {
		return AchievedPrefix + r.Answer
	}
	return StoppedPrefix + r.Reason
}

// Achieved 判断目标是否达成。
func (r Result) Achieved() bool { return r.Status == StatusAchieved }

// Orchestrator 驱动“思考-行动-观察”循环。同一实例上的多次运行会串行执行。
type Orchestrator struct {
	runMu         sync.Mutex
	model         llm.Client
	tools         Toolbox
	memory        *memory.Memory
	maxIterations int
	template      string
	stop          []string
	now           func() time.Time
	workingDir    func() string
	logger        *slog.Logger
	observer      Observer
	onStep        func(Step)
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithMaxIterations 设置最大迭代次数。
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithMemory 指定记忆实例，交互模式下由调用方持有以便跨目标保留。
func WithMemory(m *memory.Memory) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.memory = m
		}
	}
}

// WithPromptTemplate 覆盖默认提示词模板。
func WithPromptTemplate(template string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(template) != "" {
			o.template = template
		}
	}
}

// WithStopSequences 覆盖默认的停止序列。
func WithStopSequences(stop ...string) Option {
	return func(o *Orchestrator) {
		if len(stop) > 0 {
			o.stop = append([]string(nil), stop...)
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithWorkingDir 固定提示词中的工作目录。
func WithWorkingDir(dir string) Option {
	return func(o *Orchestrator) {
		if dir != "" {
			o.workingDir = func() string { return dir }
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 注册指标观察者。
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStepHook 注册每次迭代记录后的回调。
func WithStepHook(fn func(Step)) Option {
	return func(o *Orchestrator) {
		o.onStep = fn
	}
}

// New 创建一个编排器。
func New(model llm.Client, tools Toolbox, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:         model,
		tools:         tools,
		maxIterations: defaultMaxIterations,
		template:      DefaultPromptTemplate,
		stop:          []string{parser.ObservationBoundary},
		now:           time.Now,
		workingDir:    currentDir,
		observer:      nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("agent")
	}
	if o.memory == nil {
		o.memory = memory.New(memory.WithLogger(o.logger))
	}
	return o
}

// Memory 返回编排器使用的记忆。
func (o *Orchestrator) Memory() *memory.Memory { return o.memory }

// MaxIterations 返回最大迭代次数。
func (o *Orchestrator) MaxIterations() int { return o.maxIterations }

type runOptions struct {
	keepMemory bool
}

// RunOption 调整单次运行的行为。
type RunOption func(*runOptions)

// KeepMemory 保留上一次运行的记忆，用于交互模式。
func KeepMemory() RunOption {
	return func(r *runOptions) { r.keepMemory = true }
}

// Run 围绕目标执行循环，直到给出最终答案、达到最大迭代次数或被中止。
// 模型与工具的内容问题不会以错误形式返回，而是体现在 Result 中。
func (o *Orchestrator) Run(ctx context.Context, goal string, opts ...RunOption) (result Result) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	var ro runOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}

	started := time.Now()
	result = Result{Goal: goal, Status: StatusRunning}
	defer func() {
		o.observer.RunFinished(result.Status, result.Iterations, time.Since(started))
	}()

	// 校验运行前提。
	if o.model == nil || o.tools == nil {
		return o.abort(result, xerrors.New(xerrors.CodeSetupFailure, "未配置大模型客户端或工具表"),
			"agent is not configured with a model and a tool registry.")
	}
	if strings.TrimSpace(goal) == "" {
		return o.abort(result, xerrors.New(xerrors.CodeInvalidArgument, "任务目标不能为空"), "goal cannot be empty.")
	}

	o.logger.Info("开始运行", slog.String("goal", goal), slog.String("model", o.model.ModelName()),
		slog.Int("max_iterations", o.maxIterations), slog.Bool("keep_memory", ro.keepMemory))
	if !ro.keepMemory {
		o.memory.Clear()
	}

	for i := 1; i <= o.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return o.interrupted(result, err)
		}
		result.Iterations = i
		o.logger.Debug("开始迭代", slog.Int("iteration", i), slog.Int("max_iterations", o.maxIterations))

		// 格式化提示词。
		prompt := o.prompt(goal)

		// 调用大模型生成响应。
		reply, err := o.model.Generate(ctx, prompt, o.stop)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupted(result, ctx.Err())
			}
			return o.abort(result, xerrors.Wrap(xerrors.CodeRunAborted, err, "大模型调用失败"),
				fmt.Sprintf("LLM generation encountered an error: %v", err))
		}
		if llm.IsFailure(reply) {
			return o.abort(result, xerrors.New(xerrors.CodeRunAborted, "大模型未返回有效响应"),
				fmt.Sprintf("LLM failed to generate response. Last error: %s", reply))
		}

		// 解析响应并决定下一步。
		switch step := parser.Parse(reply).(type) {
		case parser.FinalAnswer:
			o.logger.Info("目标已达成", slog.Int("iterations", i), slog.Duration("elapsed", time.Since(started)))
			result.Status = StatusAchieved
			result.Answer = step.Answer
			return result

		case parser.NoAction:
			o.logger.Warn("模型未给出动作或最终答案", slog.Int("iteration", i))
			o.record(i, step.Reasoning, NoActionLabel, "", noActionObservation)

		case parser.ActionStep:
			if !o.tools.Has(step.Action) {
				o.logger.Warn("模型请求了不存在的工具", slog.String("tool", step.Action), slog.Any("available", o.tools.Names()))
				observation := fmt.Sprintf("Observation: Error - Tool '%s' is not available. Please choose from: %s.",
					step.Action, strings.Join(o.tools.Names(), ", "))
				o.record(i, step.Reasoning, step.Action, step.Input, observation)
				continue
			}

			// 分派工具并记录观察结果。
			o.logger.Info("执行动作", slog.Int("iteration", i), slog.String("tool", step.Action),
				slog.String("input", preview(step.Input)))
			dispatched := time.Now()
			outcome := o.tools.Call(ctx, step.Action, step.Input)
			o.observer.ToolDispatched(step.Action, outcome.Failed(), time.Since(dispatched))
			if err := ctx.Err(); err != nil {
				return o.interrupted(result, err)
			}
			observation := outcome.Observation(step.Action)
			if outcome.Failed() {
				o.logger.Warn("工具执行失败", slog.String("tool", step.Action), slog.Any("error", outcome.Err()))
			}
			o.record(i, step.Reasoning, step.Action, step.Input, observation)
		}
	}

	o.logger.Warn("达到最大迭代次数，目标可能未完成", slog.Int("max_iterations", o.maxIterations),
		slog.Duration("elapsed", time.Since(started)))
	result.Status = StatusMaxIterationsReached
	result.Reason = fmt.Sprintf("Reached maximum iterations (%d). The goal may not be fully achieved. Check logs and memory.", o.maxIterations)
	return result
}

func (o *Orchestrator) prompt(goal string) string {
	return formatPrompt(o.template, promptContext{
		goal:             goal,
		toolDescriptions: o.tools.Describe(),
		toolNames:        o.tools.Names(),
		history:          o.memory.Render(),
		now:              o.now(),
		directory:        o.workingDir(),
	})
}

func (o *Orchestrator) record(iteration int, thought, action, input, observation string) {
	o.memory.Add(thought, action, input, observation)
	if o.onStep != nil {
		o.onStep(Step{Iteration: iteration, Thought: thought, Action: action, ActionInput: input, Observation: observation})
	}
}

func (o *Orchestrator) abort(result Result, err error, reason string) Result {
	o.logger.Error("运行已中止", slog.Any("error", err), slog.Int("iterations", result.Iterations))
	result.Status = StatusAborted
	result.Reason = reason
	result.Err = err
	return result
}

func (o *Orchestrator) interrupted(result Result, cause error) Result {
	return o.abort(result, xerrors.Wrap(xerrors.CodeRunAborted, cause, "运行被中断"),
		fmt.Sprintf("interrupted (%v).", cause))
}

func currentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 100 {
		return string(runes[:100]) + "..."
	}
	return text
}

type nopObserver struct{}

func (nopObserver) RunFinished(Status, int, time.Duration)     {}
func (nopObserver) ToolDispatched(string, bool, time.Duration) {}
