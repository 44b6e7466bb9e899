package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	xerrors "AutoAgent/internal/errors"
)

// StatusError 按 HTTP 状态码对后端错误分类：429 与 5xx 可重试，其余直接拒绝。
func StatusError(provider string, status int, detail string) error {
	detail = strings.TrimSpace(detail)
	message := fmt.Sprintf("%s 返回错误状态 %d", provider, status)
	if detail != "" {
		message += ": " + detail
	}
	code := xerrors.CodeModelRejected
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		code = xerrors.CodeModelFailure
	}
	return xerrors.New(code, message,
		xerrors.WithMetadata("provider", provider),
		xerrors.WithMetadata("status", fmt.Sprint(status)))
}

// TransportError 包装网络层错误，上下文取消不会被标记为可重试。
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("请求 %s 被中断", provider),
			xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(xerrors.CodeModelFailure, err, fmt.Sprintf("请求 %s 失败", provider),
		xerrors.WithMetadata("provider", provider))
}

// EmptyResponse 表示后端返回了空内容。
func EmptyResponse(provider string) error {
	return xerrors.New(xerrors.CodeModelFailure, fmt.Sprintf("%s 响应内容为空", provider),
		xerrors.WithRetryable(false))
}
