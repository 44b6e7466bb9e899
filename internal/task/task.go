package task

import (
	"maps"
	"slices"

	xerrors "AutoAgent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IDPrefix 是自动生成的任务 ID 前缀。
const IDPrefix = "task-"

// ExecutionResult 保存一次子智能体运行的结果。
type ExecutionResult struct {
	Outcome    string `json:"outcome"`
	Answer     string `json:"answer,omitempty"`
	Message    string `json:"message"`
	Iterations int    `json:"iterations"`
}

// Task 描述了在后台执行的子目标任务。
type Task struct {
	ID           string           `json:"id"`
	Goal         string           `json:"goal"`
	AllowedTools []string         `json:"allowed_tools,omitempty"`
	Source       string           `json:"source,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Status       Status           `json:"status"`
	Attempts     int              `json:"attempts"`
	MaxRetries   int              `json:"max_retries"`
	LastError    string           `json:"last_error,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	CreatedAt    int64            `json:"created_at"`
	UpdatedAt    int64            `json:"updated_at"`
}

// Request 描述提交任务所需的参数。
type Request struct {
	ID           string         `json:"id,omitempty"`
	Goal         string         `json:"goal"`
	AllowedTools []string       `json:"allowed_tools,omitempty"`
	Source       string         `json:"source,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Terminal 判断任务是否已经结束。
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// Clone 返回任务的深拷贝。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cloned := *t
	cloned.AllowedTools = slices.Clone(t.AllowedTools)
	cloned.Metadata = cloneMetadata(t.Metadata)
	if t.Result != nil {
		result := *t.Result
		cloned.Result = &result
	}
	return &cloned
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

// taskCodes 是任务错误码的默认行为。发布与执行失败可重试并触发告警，
// 重试耗尽只告警。
var taskCodes = map[xerrors.Code]xerrors.Attributes{
	CodeTaskNotFound:   {Message: "task not found", Severity: xerrors.SeverityInfo},
	CodeTaskConflict:   {Message: "task conflict", Severity: xerrors.SeverityWarning},
	CodeTaskCompleted:  {Message: "task already completed", Severity: xerrors.SeverityInfo},
	CodeTaskExhausted:  {Message: "task retries exhausted", Severity: xerrors.SeverityCritical, Alert: true},
	CodeTaskValidation: {Message: "task validation failed", Severity: xerrors.SeverityInfo},
	CodeTaskPublish:    {Message: "failed to publish task", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true},
	CodeTaskProcessing: {Message: "task execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true},
}

// 存储与处理器之间约定的哨兵错误，按错误码匹配。
var (
	ErrTaskNotFound  = sentinel(CodeTaskNotFound)
	ErrTaskConflict  = sentinel(CodeTaskConflict)
	ErrTaskCompleted = sentinel(CodeTaskCompleted)
	ErrTaskExhausted = sentinel(CodeTaskExhausted)
)

func init() {
	for code, attrs := range taskCodes {
		xerrors.Register(code, attrs)
	}
}

// sentinel 在包变量初始化阶段登记错误码，保证哨兵错误带上正确的默认行为。
func sentinel(code xerrors.Code) *xerrors.Error {
	xerrors.Register(code, taskCodes[code])
	return xerrors.New(code, "")
}

// IsTaskError 判断错误链中是否带有指定的任务错误码。
func IsTaskError(err error, target xerrors.Code) bool {
	return xerrors.IsCode(err, target)
}

func cloneMetadata(metadata map[string]any) map[string]any {
	return maps.Clone(metadata)
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
