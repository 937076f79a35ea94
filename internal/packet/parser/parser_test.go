package parser

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
	"poolnet/internal/packet/builder"
	"poolnet/internal/protocol"
)

func TestDefaultPacketParser_ReadOp(t *testing.T) {
	var buf bytes.Buffer
	ops := []packet.Op{
		packet.NewOp(protocol.CmdParticipate, packet.String("notes"), packet.Nil()),
		packet.NewOp(protocol.CmdResult, packet.Int(7), packet.Float(1.5), packet.RetortValue(protocol.RetortOK)),
	}
	b := builder.NewDefaultPacketBuilder()
	for _, op := range ops {
		require.NoError(t, b.WriteOp(&buf, op))
	}

	p := NewDefaultPacketParser()
	first, err := p.ReadOp(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdParticipate, first.Code)
	name, err := first.Str(0)
	require.NoError(t, err)
	assert.Equal(t, "notes", name)

	second, err := p.ReadOp(&buf)
	require.NoError(t, err)
	idx, err := second.Int(0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), idx)

	_, err = p.ReadOp(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestDefaultPacketParser_Errors(t *testing.T) {
	p := NewDefaultPacketParser()

	// 未知帧类型
	_, err := p.ReadOp(bytes.NewReader([]byte{9, 0, 0, 0, 0}))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))

	// 长度超限
	hdr := []byte{byte(packet.OpPacket), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(hdr[1:], packet.MaxBodySize+1)
	_, err = p.ReadOp(bytes.NewReader(hdr))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))

	// 帧体被截断
	frame := builder.Frame(packet.NewOp(protocol.CmdDeposit, packet.Bytes([]byte("abcdef"))))
	_, err = p.ReadOp(bytes.NewReader(frame[:len(frame)-2]))
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
