package parser

import (
	"encoding/binary"
	"io"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
)

// PacketParser 数据包解析器接口
type PacketParser interface {
	// ReadOp 读取并解码一个完整帧
	ReadOp(r io.Reader) (packet.Op, error)
}

// DefaultPacketParser 默认数据包解析器
type DefaultPacketParser struct{}

// NewDefaultPacketParser 创建新的默认数据包解析器
func NewDefaultPacketParser() *DefaultPacketParser {
	return &DefaultPacketParser{}
}

// ReadOp 读取帧头和帧体；底层读错误原样返回，由调用方映射为连接错误
func (p *DefaultPacketParser) ReadOp(r io.Reader) (packet.Op, error) {
	var header [packet.HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return packet.Op{}, err
	}

	if t := packet.Type(header[0]); !t.IsOp() {
		return packet.Op{}, coreerrors.Newf(coreerrors.CodeProtocolError, "unknown packet type %d", header[0])
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > packet.MaxBodySize {
		return packet.Op{}, coreerrors.Newf(coreerrors.CodeProtocolError, "packet body %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return packet.Op{}, err
	}

	return packet.Unmarshal(body)
}
