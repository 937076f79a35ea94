package builder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolnet/internal/packet"
	"poolnet/internal/protocol"
)

func TestFrame_Header(t *testing.T) {
	op := packet.NewOp(protocol.CmdDeposit, packet.Bytes([]byte("hello")))
	frame := Frame(op)

	require.GreaterOrEqual(t, len(frame), packet.HeaderLen)
	assert.Equal(t, byte(packet.OpPacket), frame[0])
	assert.Equal(t, uint32(len(frame)-packet.HeaderLen), binary.BigEndian.Uint32(frame[1:5]))

	decoded, err := packet.Unmarshal(frame[packet.HeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdDeposit, decoded.Code)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestDefaultPacketBuilder_WriteOp(t *testing.T) {
	b := NewDefaultPacketBuilder()

	var buf bytes.Buffer
	require.NoError(t, b.WriteOp(&buf, packet.NewOp(protocol.CmdWithdraw)))
	assert.Equal(t, Frame(packet.NewOp(protocol.CmdWithdraw)), buf.Bytes())

	assert.Error(t, b.WriteOp(failingWriter{}, packet.NewOp(protocol.CmdWithdraw)))
}
