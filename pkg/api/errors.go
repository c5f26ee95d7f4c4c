package api

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/kasuganosora/shardconn/pkg/capability"
	"github.com/kasuganosora/shardconn/pkg/dispatch"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/session"
)

// Error 错误类型（带堆栈）
type Error struct {
	Code    ErrorCode
	Message string
	Stack   []string // 调用堆栈
	Cause   error    // 原始错误

	// Operation 触发错误的操作名（如 "set-client-info/key-value"）
	Operation string
	// Shard 出错的分片（仅 BACKING_FAILURE）
	Shard string
	// Applied 出错前已成功执行的分片数，Total 为目标分片总数
	Applied int
	Total   int
}

// ErrorCode 错误码
type ErrorCode string

const (
	ErrCodeNoBackingConnection ErrorCode = "NO_BACKING_CONNECTION"
	ErrCodeNotSupported        ErrorCode = "NOT_SUPPORTED"
	ErrCodePolicyViolation     ErrorCode = "POLICY_VIOLATION"
	ErrCodeBackingFailure      ErrorCode = "BACKING_FAILURE"
	ErrCodeDivergence          ErrorCode = "DIVERGENCE"
	ErrCodeClosed              ErrorCode = "CLOSED"
	ErrCodeTransaction         ErrorCode = "TRANSACTION_ERROR"
	ErrCodeInvalidParam        ErrorCode = "INVALID_PARAM"
	ErrCodeInternal            ErrorCode = "INTERNAL"
)

// Error 接口实现
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, errors.ErrUnsupported) hold for NOT_SUPPORTED, so
// generic callers can skip absent features. Policy violations never match.
func (e *Error) Is(target error) bool {
	if target == errors.ErrUnsupported {
		return e.Code == ErrCodeNotSupported
	}
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code && (t.Operation == "" || t.Operation == e.Operation)
	}
	return false
}

// StackTrace 返回调用堆栈
func (e *Error) StackTrace() []string {
	return e.Stack
}

// Partial 是否有分片已经执行了失败的操作
func (e *Error) Partial() bool {
	return e.Code == ErrCodeBackingFailure && e.Applied > 0
}

// Timeout 后端调用是否因网络超时失败。超时仍是 BACKING_FAILURE，
// Applied/Total 照常反映已执行的分片。
func (e *Error) Timeout() bool {
	return e.Code == ErrCodeBackingFailure && errors.Is(e.Cause, context.DeadlineExceeded)
}

// NewError 创建错误
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   cause,
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	// 如果已经是我们的错误类型，保留原有堆栈
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return &Error{
			Code:      code,
			Message:   message,
			Stack:     apiErr.Stack,
			Cause:     err,
			Operation: apiErr.Operation,
			Shard:     apiErr.Shard,
			Applied:   apiErr.Applied,
			Total:     apiErr.Total,
		}
	}

	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   err,
	}
}

// Sentinel values for errors.Is; compare by code only.
var (
	ErrNoBackingConnection = &Error{Code: ErrCodeNoBackingConnection, Message: "no backing connection"}
	ErrNotSupported        = &Error{Code: ErrCodeNotSupported, Message: "operation not supported"}
	ErrPolicyViolation     = &Error{Code: ErrCodePolicyViolation, Message: "operation not allowed"}
	ErrBackingFailure      = &Error{Code: ErrCodeBackingFailure, Message: "backing connection failure"}
	ErrClosed              = &Error{Code: ErrCodeClosed, Message: "connection is closed"}
)

// translate maps dispatch, session and domain errors onto coded API errors.
func translate(op capability.Operation, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}

	e := &Error{Cause: err, Operation: op.String(), Stack: captureStackTrace()}

	var (
		rejected   *dispatch.RejectedError
		backing    *dispatch.BackingError
		divergence *dispatch.DivergenceError
		resolve    *dispatch.ResolveError
		notFound   *domain.ErrLogicalDatabaseNotFound
	)
	switch {
	case errors.As(err, &rejected):
		e.Cause = nil
		if rejected.Policy() {
			e.Code = ErrCodePolicyViolation
			e.Message = fmt.Sprintf("%s is not allowed on a sharded connection", op)
		} else {
			e.Code = ErrCodeNotSupported
			e.Message = fmt.Sprintf("%s is not supported", op)
		}
	case errors.Is(err, session.ErrClosed):
		e.Code = ErrCodeClosed
		e.Message = fmt.Sprintf("%s on closed connection", op)
		e.Cause = nil
	case errors.Is(err, dispatch.ErrNoBackingConnection):
		e.Code = ErrCodeNoBackingConnection
		e.Message = fmt.Sprintf("%s needs a backing connection but none is available", op)
		e.Cause = nil
	case errors.As(err, &resolve):
		e.Code = ErrCodeNoBackingConnection
		e.Message = fmt.Sprintf("%s could not resolve backing connections", op)
		e.Cause = resolve.Err
		if errors.As(err, &notFound) {
			e.Code = ErrCodeInvalidParam
			e.Message = fmt.Sprintf("logical database %s does not exist", notFound.Name)
		}
	case errors.As(err, &backing):
		e.Code = ErrCodeBackingFailure
		e.Shard = backing.Shard
		e.Applied = backing.Applied
		e.Total = backing.Total
		e.Cause = backing.Err
		verb := "failed"
		if errors.Is(backing.Err, context.DeadlineExceeded) {
			verb = "timed out"
		}
		if backing.Partial() {
			e.Message = fmt.Sprintf("%s %s on shard %s after %d of %d shards applied it", op, verb, backing.Shard, backing.Applied, backing.Total)
		} else {
			e.Message = fmt.Sprintf("%s %s on shard %s", op, verb, backing.Shard)
		}
	case errors.As(err, &divergence):
		e.Code = ErrCodeDivergence
		e.Shard = divergence.Shard
		e.Message = divergence.Error()
		e.Cause = nil
	default:
		e.Code = ErrCodeInternal
		e.Message = fmt.Sprintf("%s failed", op)
	}
	return e
}

// captureStackTrace 捕获调用堆栈
func captureStackTrace() []string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc) // 跳过前3层

	if n == 0 {
		return []string{}
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()

		fn := frame.Function
		file := frame.File

		// 简化文件路径
		if idx := strings.LastIndex(file, "/"); idx != -1 {
			file = file[idx+1:]
		}

		// 提取函数名（去掉包路径）
		if idx := strings.LastIndex(fn, "/"); idx != -1 {
			fn = fn[idx+1:]
		}

		stack = append(stack, fmt.Sprintf("  at %s (%s:%d)", fn, file, frame.Line))
		if !more {
			break
		}
	}

	return stack
}

// IsErrorCode 检查错误码
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code && code != ""
}

// GetErrorCode 获取错误码
func GetErrorCode(err error) ErrorCode {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
