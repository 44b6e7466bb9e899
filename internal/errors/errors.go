package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与告警。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认行为，创建错误时复制一份，之后可被选项覆盖。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeSetupFailure     Code = "SETUP_FAILURE"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
	CodePluginFailure    Code = "PLUGIN_FAILURE"
	CodeModelFailure     Code = "MODEL_FAILURE"
	CodeModelRejected    Code = "MODEL_REJECTED"
	CodeRetriesExhausted Code = "RETRIES_EXHAUSTED"
	CodeRunAborted       Code = "RUN_ABORTED"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodeQueueFailure     Code = "QUEUE_FAILURE"
	CodeTimeout          Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	// registry 中可重试的只有外部依赖的瞬时故障；模型拒绝、配置错误等重试无益。
	registry = map[Code]Attributes{
		CodeUnknown:          {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:  {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:         {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:         {Message: "resource conflict", Severity: SeverityWarning},
		CodeSetupFailure:     {Message: "setup failed", Severity: SeverityCritical, Alert: true},
		CodeConfigInvalid:    {Message: "invalid configuration", Severity: SeverityCritical},
		CodePluginFailure:    {Message: "plugin failure", Severity: SeverityWarning},
		CodeModelFailure:     {Message: "model call failed", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeModelRejected:    {Message: "model rejected the request", Severity: SeverityWarning, Alert: true},
		CodeRetriesExhausted: {Message: "retries exhausted", Severity: SeverityWarning, Alert: true},
		CodeRunAborted:       {Message: "agent run aborted", Severity: SeverityWarning},
		CodeStorageFailure:   {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:     {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:          {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},
	}
)

// Register 在初始化阶段为业务模块的错误码登记默认行为。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码的默认行为，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型，携带错误码、原因与附加信息。
type Error struct {
	code     Code
	message  string
	cause    error
	attrs    Attributes
	metadata map[string]string
}

// Option 调整单个错误的行为。
type Option func(*Error)

// WithMetadata 附加键值信息，写日志时一并输出。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 1)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attrs.Retryable = retryable }
}

// WithAlert 覆盖是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.attrs.Alert = alert }
}

// WithSeverity 覆盖严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attrs.Severity = sev }
}

// New 创建错误，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message, attrs: AttributesOf(code)}
	if e.message == "" {
		e.message = e.attrs.Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用统一错误包裹 cause，cause 仍可通过 errors.Is/As 访问。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码比较，哨兵错误因此可以和带上下文的同码错误匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// LogValue 实现 slog.LogValuer，日志中展开为错误码、描述、原因与附加信息。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{slog.String("code", string(e.code)), slog.String("message", e.message)}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含原因的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool { return e != nil && e.attrs.Retryable }

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool { return e != nil && e.attrs.Alert }

// Severity 返回严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attrs.Severity
}

// From 取出错误链中最外层的统一错误。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回最外层统一错误的错误码，普通错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试，普通错误视为不可重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// IsCode 判断错误链中任意一层是否带有指定错误码。
func IsCode(err error, code Code) bool {
	for ; err != nil; err = stdErrors.Unwrap(err) {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
	}
	return false
}
