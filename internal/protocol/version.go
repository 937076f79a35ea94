package protocol

// DefaultPort pool TCP 服务默认端口
const DefaultPort = 65456

const (
	// CurrentNetVersion 客户端支持的最高网络协议版本
	CurrentNetVersion = 3
	// CurrentSlawVersion 客户端支持的最高编码版本
	CurrentSlawVersion = 2
	// LegacySlawVersion 老服务端使用的编码版本
	LegacySlawVersion = 1

	// NetVersionTimeoutFix 之前的服务端把 -1 和 0 的超时含义颠倒
	NetVersionTimeoutFix = 2
	// NetVersionCreatinglyCodes 之前的服务端对 participate_creatingly 返回旧结果码
	NetVersionCreatinglyCodes = 3
)
