package packet

// Type 帧类型
type Type byte

const (
	// OpPacket 协议操作帧
	OpPacket Type = 1
)

// HeaderLen 帧头：1 字节类型 + 4 字节大端长度
const HeaderLen = 5

// MaxBodySize 单帧最大长度
const MaxBodySize = 64 << 20

func (t Type) IsOp() bool {
	return t == OpPacket
}
