package builder

import (
	"encoding/binary"
	"io"

	"poolnet/internal/packet"
)

// PacketBuilder 数据包构建器接口
type PacketBuilder interface {
	// WriteOp 编码并写出一个完整帧
	WriteOp(w io.Writer, op packet.Op) error
}

// DefaultPacketBuilder 默认数据包构建器
type DefaultPacketBuilder struct{}

// NewDefaultPacketBuilder 创建新的默认数据包构建器
func NewDefaultPacketBuilder() *DefaultPacketBuilder {
	return &DefaultPacketBuilder{}
}

// Frame 返回帧头和帧体拼接后的字节
func Frame(op packet.Op) []byte {
	body := packet.Marshal(op)
	buf := make([]byte, packet.HeaderLen, packet.HeaderLen+len(body))
	buf[0] = byte(packet.OpPacket)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(body)))
	return append(buf, body...)
}

// WriteOp 一次 Write 写出整帧，避免和其它写者交错
func (b *DefaultPacketBuilder) WriteOp(w io.Writer, op packet.Op) error {
	_, err := w.Write(Frame(op))
	return err
}
