// Package errors 提供统一的错误处理机制
//
// 设计原则：
// 1. 所有错误都应该可以通过 errors.Is() 和 errors.As() 进行类型检查
// 2. 错误码与服务端 retort 一一对应，用于日志分类和 CLI 输出
// 3. 每个错误码归属一个 Category，调用方据此决定重试、降级或放弃
// 4. 支持错误链（error wrapping）
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 错误码定义
const (
	// 地址解析
	CodePoolnameBadth ErrorCode = "POOLNAME_BADTH"

	// 连接建立
	CodeNoSuchPool    ErrorCode = "NO_SUCH_POOL"
	CodeServerUnreach ErrorCode = "SERVER_UNREACH"
	CodeSockBadth     ErrorCode = "SOCK_BADTH"

	// 握手/传输 I/O（可重试）
	CodeSendBadth       ErrorCode = "SEND_BADTH"
	CodeRecvBadth       ErrorCode = "RECV_BADTH"
	CodeUnexpectedClose ErrorCode = "UNEXPECTED_CLOSE"

	// 协议不匹配
	CodeWrongVersion         ErrorCode = "WRONG_VERSION"
	CodeProtocolError        ErrorCode = "PROTOCOL_ERROR"
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// 安全策略
	CodeNoTLS       ErrorCode = "NO_TLS"
	CodeTLSRequired ErrorCode = "TLS_REQUIRED"

	// 隧道
	CodeTLSError ErrorCode = "TLS_ERROR"

	// 命令结果（服务端 retort）
	CodeNoSuchProtein         ErrorCode = "NO_SUCH_PROTEIN"
	CodeAwaitTimedOut         ErrorCode = "AWAIT_TIMEDOUT"
	CodeAwaitWoken            ErrorCode = "AWAIT_WOKEN"
	CodeWakeupNotEnabled      ErrorCode = "WAKEUP_NOT_ENABLED"
	CodePoolExists            ErrorCode = "POOL_EXISTS"
	CodePoolInUse             ErrorCode = "POOL_IN_USE"
	CodeImpossibleRename      ErrorCode = "IMPOSSIBLE_RENAME"
	CodeProteinBiggerThanPool ErrorCode = "PROTEIN_BIGGER_THAN_POOL"
	CodePoolFrozen            ErrorCode = "POOL_FROZEN"
	CodePoolFull              ErrorCode = "POOL_FULL"
	CodeInvalidSize           ErrorCode = "INVALID_SIZE"
	CodeTypeBadth             ErrorCode = "TYPE_BADTH"
	CodeConfigBadth           ErrorCode = "CONFIG_BADTH"
	CodeNullHose              ErrorCode = "NULL_HOSE"
	CodeNotAProtein           ErrorCode = "NOT_A_PROTEIN"
	CodeAlreadyGangMember     ErrorCode = "ALREADY_GANG_MEMBER"
	CodeNotAGangMember        ErrorCode = "NOT_A_GANG_MEMBER"
	CodeEmptyGang             ErrorCode = "EMPTY_GANG"
	CodeServerError           ErrorCode = "SERVER_ERROR"

	// 本地
	CodeInvalidParam ErrorCode = "INVALID_PARAM"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error 统一错误类型
type Error struct {
	Code    ErrorCode        // 错误码
	Message string           // 错误消息
	Cause   error            // 原始错误
	Details map[string]int64 // 额外详情，例如服务端的原始 retort
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持 errors.Is 进行错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Category 返回错误所属分类
func (e *Error) Category() Category {
	return CategoryOf(e.Code)
}

// WithDetailInt 添加整数类型详情
func (e *Error) WithDetailInt(key string, value int64) *Error {
	if e.Details == nil {
		e.Details = make(map[string]int64)
	}
	e.Details[key] = value
	return e
}

// GetDetailInt 获取整数类型详情
func (e *Error) GetDetailInt(key string) (int64, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New 创建新错误
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf 创建格式化错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf 格式化包装错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// GetCode 从错误中提取错误码
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode 检查错误是否为指定错误码
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is 重导出 errors.Is
var Is = errors.Is

// As 重导出 errors.As
var As = errors.As
