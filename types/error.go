package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// ErrRetrievalFailed 语义与关键词索引均不可达
	ErrRetrievalFailed ErrorCode = "RETRIEVAL_FAILED"
	// ErrRerankFailed 相关性打分服务不可达（可恢复：按空过滤集处理）
	ErrRerankFailed ErrorCode = "RERANK_FAILED"
	// ErrGenerationFailed 生成服务失败（致命，不在本层重试）
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	// ErrPersistenceFailed 外部会话存储写入失败（仅记录日志，不掩盖原始终止条件）
	ErrPersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	// ErrSessionLimit 并发会话数达到准入上限
	ErrSessionLimit ErrorCode = "SESSION_LIMIT"
	// ErrSessionClosed 会话已进入终态
	ErrSessionClosed ErrorCode = "SESSION_CLOSED"
	// ErrInvalidTransition 状态机收到非法转换
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Error is a structured error with code, message, and an optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsCode reports whether err (or any error in its chain) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
