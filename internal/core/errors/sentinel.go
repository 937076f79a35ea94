package errors

// 预定义哨兵错误（用于 errors.Is 比较）
// 这些错误用于快速类型检查，不包含详细信息
var (
	ErrPoolnameBadth = New(CodePoolnameBadth, "malformed pool address")

	ErrNoSuchPool    = New(CodeNoSuchPool, "no such pool")
	ErrServerUnreach = New(CodeServerUnreach, "server unreachable")

	ErrSendBadth       = New(CodeSendBadth, "send failed")
	ErrRecvBadth       = New(CodeRecvBadth, "receive failed")
	ErrUnexpectedClose = New(CodeUnexpectedClose, "connection closed unexpectedly")

	ErrWrongVersion         = New(CodeWrongVersion, "unsupported protocol version")
	ErrProtocolError        = New(CodeProtocolError, "protocol error")
	ErrUnsupportedOperation = New(CodeUnsupportedOperation, "operation not supported by server")

	ErrNoTLS       = New(CodeNoTLS, "server does not support TLS")
	ErrTLSRequired = New(CodeTLSRequired, "server requires TLS")
	ErrTLSError    = New(CodeTLSError, "tls tunnel failure")

	ErrNoSuchProtein    = New(CodeNoSuchProtein, "no such protein")
	ErrAwaitTimedOut    = New(CodeAwaitTimedOut, "await timed out")
	ErrAwaitWoken       = New(CodeAwaitWoken, "await woken")
	ErrWakeupNotEnabled = New(CodeWakeupNotEnabled, "wakeup not enabled")
	ErrPoolExists       = New(CodePoolExists, "pool exists")
	ErrImpossibleRename = New(CodeImpossibleRename, "impossible rename")

	ErrAlreadyGangMember = New(CodeAlreadyGangMember, "hose is already a gang member")
	ErrNotAGangMember    = New(CodeNotAGangMember, "hose is not a gang member")
	ErrEmptyGang         = New(CodeEmptyGang, "gang is empty")
)

// 错误检查辅助函数

// IsNoSuchProtein 检查是否为 protein 不存在
func IsNoSuchProtein(err error) bool {
	return IsCode(err, CodeNoSuchProtein)
}

// IsTimeout 检查是否为等待超时
func IsTimeout(err error) bool {
	return IsCode(err, CodeAwaitTimedOut)
}

// IsWoken 检查是否被唤醒打断
func IsWoken(err error) bool {
	return IsCode(err, CodeAwaitWoken)
}
