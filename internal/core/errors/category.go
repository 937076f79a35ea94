package errors

// Category 错误分类
type Category string

const (
	CategoryAddress      Category = "address"      // 地址格式错误
	CategoryConnectivity Category = "connectivity" // 解析失败或所有候选地址不可达
	CategoryHandshakeIO  Category = "handshake_io" // 握手期间发送/接收失败，可重试
	CategoryProtocol     Category = "protocol"     // 版本或命令集不匹配
	CategorySecurity     Category = "security"     // TLS 策略不满足
	CategoryCommand      Category = "command"      // 服务端返回的命令结果
	CategoryTunnel       Category = "tunnel"       // TLS 隧道故障
	CategoryUnknown      Category = "unknown"
)

var codeCategories = map[ErrorCode]Category{
	CodePoolnameBadth: CategoryAddress,

	CodeNoSuchPool:    CategoryConnectivity,
	CodeServerUnreach: CategoryConnectivity,
	CodeSockBadth:     CategoryConnectivity,

	CodeSendBadth:       CategoryHandshakeIO,
	CodeRecvBadth:       CategoryHandshakeIO,
	CodeUnexpectedClose: CategoryHandshakeIO,

	CodeWrongVersion:         CategoryProtocol,
	CodeProtocolError:        CategoryProtocol,
	CodeUnsupportedOperation: CategoryProtocol,

	CodeNoTLS:       CategorySecurity,
	CodeTLSRequired: CategorySecurity,

	CodeTLSError: CategoryTunnel,
}

// CategoryOf 返回错误码所属分类，未登记的错误码都视为命令结果
func CategoryOf(code ErrorCode) Category {
	if c, ok := codeCategories[code]; ok {
		return c
	}
	return CategoryCommand
}

// CategoryFor 返回任意错误的分类
func CategoryFor(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var e *Error
	if As(err, &e) {
		return e.Category()
	}
	return CategoryUnknown
}

// IsRetryable 握手 I/O 错误可以通过重连重试
func IsRetryable(err error) bool {
	return CategoryFor(err) == CategoryHandshakeIO
}
