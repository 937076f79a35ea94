package protocol

// 完整问候：一个老服务端也能解析的合法请求，两个版本字节之后跟 10 字节填充
var greeting = [...]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x50,
	0x93, 0x93, 0x00, 0x80, 0x18, 0x00, 0x00, 0x02,
	0x00, 0x00, 0x00, 0x10, 0x40, 0x00, 0x00, 0x04,
	0x20, 0x00, 0x00, 0x01, 0x6f, 0x70, 0x00, 0x00,
	0x08, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01,
	0x40, 0x00, 0x00, 0x08, 0x20, 0x00, 0x00, 0x02,
	0x61, 0x72, 0x67, 0x73, 0x00, 0x00, 0x00, 0x00,
	0x10, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x05,
	0x20, 0x00, 0x00, 0x02, 0x5e, 0x2f, 0x5e, 0x2f,
	0x5e, 0x2f, 0x5e, 0x00,
	CurrentNetVersion, CurrentSlawVersion,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00,
}

const (
	// GreetingLen 完整问候长度
	GreetingLen = len(greeting)
	// GreetingVersionOffset 版本字节在完整问候中的偏移
	GreetingVersionOffset = 76
)

// Greeting 返回完整问候的副本
func Greeting() []byte {
	return append([]byte(nil), greeting[:]...)
}

// AbbreviatedGreeting TLS 升级后只发送两个版本字节
func AbbreviatedGreeting() []byte {
	return append([]byte(nil), greeting[GreetingVersionOffset:GreetingVersionOffset+2]...)
}

// IsGreeting 判断 b 是否以完整问候的固定前缀开头（服务端用）
func IsGreeting(b []byte) bool {
	if len(b) < GreetingVersionOffset {
		return false
	}
	for i := 0; i < GreetingVersionOffset; i++ {
		if b[i] != greeting[i] {
			return false
		}
	}
	return true
}
