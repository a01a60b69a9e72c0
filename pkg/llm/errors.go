package llm

import (
	"context"
	"errors"
	"net"
)

// ErrorKind 区分 LLM 调用失败的类型。
type ErrorKind int

const (
	// Unreachable 表示无法连接运行时或运行时返回非 2xx 状态。
	Unreachable ErrorKind = iota + 1
	// Timeout 表示调用超过了限定时间。
	Timeout
	// MalformedResponse 表示响应体无法解析或不含内容。
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error 是 LLM 客户端返回的带标签错误。
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return "llm " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind 判断 err 链中是否包含指定类型的 LLM 错误。
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}

// classifyTransportError 将传输层错误归类为 Timeout 或 Unreachable。
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: Timeout, Err: err}
	}
	return &Error{Kind: Unreachable, Err: err}
}
