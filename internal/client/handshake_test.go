package client

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/protocol"
)

// scripted 读出预设的回复，记录写入的内容
type scripted struct {
	io.Reader
	sent bytes.Buffer
}

func (s *scripted) Write(p []byte) (int, error) { return s.sent.Write(p) }

func newScripted(reply ...byte) *scripted {
	return &scripted{Reader: bytes.NewReader(reply)}
}

func TestNegotiate(t *testing.T) {
	cmds := protocol.NewCommandSet(protocol.CmdParticipate, protocol.CmdDeposit, protocol.CmdFancyAddAwaiter)
	mask := cmds.Bitmask()
	reply := append([]byte{3, 2, byte(len(mask))}, mask...)

	conn := newScripted(reply...)
	s, err := Negotiate(conn, false, "host:1")
	require.NoError(t, err)

	assert.Equal(t, protocol.Greeting(), conn.sent.Bytes())
	assert.Equal(t, uint8(3), s.NetVersion)
	assert.Equal(t, uint8(2), s.SlawVersion)
	assert.False(t, s.Legacy)
	assert.True(t, s.Supports(protocol.CmdFancyAddAwaiter))
	assert.True(t, s.Supports(protocol.CmdDeposit))
	assert.False(t, s.Supports(protocol.CmdStartTLS))
}

func TestNegotiate_Abbreviated(t *testing.T) {
	conn := newScripted(3, 2, 0)
	s, err := Negotiate(conn, true, "host:1")
	require.NoError(t, err)
	assert.Len(t, conn.sent.Bytes(), 2)
	assert.Empty(t, s.Commands.Commands())
}

func TestNegotiate_Legacy(t *testing.T) {
	// (0,0) 之后不再读取
	conn := newScripted(0, 0, 0xff)
	s, err := Negotiate(conn, false, "host:1")
	require.NoError(t, err)
	assert.True(t, s.Legacy)
}

func TestNegotiate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		code  coreerrors.ErrorCode
	}{
		{"http server", []byte("HTTP/1.1 400"), coreerrors.CodeWrongVersion},
		{"future version", []byte{9, 2, 0}, coreerrors.CodeWrongVersion},
		{"closed before version", []byte{3}, coreerrors.CodeUnexpectedClose},
		{"closed before count", []byte{3, 2}, coreerrors.CodeUnexpectedClose},
		{"short bitmask", []byte{3, 2, 4, 0xff}, coreerrors.CodeUnexpectedClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Negotiate(newScripted(tt.reply...), false, "host:1")
			require.Error(t, err)
			assert.Equal(t, tt.code, coreerrors.GetCode(err))
		})
	}
}

func TestNegotiate_UnexpectedCloseIsRetryable(t *testing.T) {
	_, err := Negotiate(newScripted(), false, "host:1")
	require.Error(t, err)
	assert.True(t, coreerrors.IsRetryable(err))
	assert.Equal(t, coreerrors.CategoryHandshakeIO, coreerrors.CategoryFor(err))
}
