package client

import (
	"errors"
	"io"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/protocol"
)

// Session 一次握手协商出的结果，TLS 升级后整体替换
type Session struct {
	NetVersion  uint8
	SlawVersion uint8
	Commands    protocol.CommandSet
	// Legacy 服务端回复了 (0,0)，没有进行协商
	Legacy bool
}

// Supports 服务端是否支持命令 c
func (s Session) Supports(c protocol.Command) bool {
	return s.Commands.Has(c)
}

// legacySession 老服务端重连后使用的会话
func legacySession(cmds protocol.CommandSet) Session {
	return Session{
		SlawVersion: protocol.LegacySlawVersion,
		Commands:    cmds,
		Legacy:      true,
	}
}

// sendBytes 写失败映射为 SEND_BADTH
func sendBytes(w io.Writer, b []byte, what string) error {
	if _, err := w.Write(b); err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeSendBadth, "send %s", what)
	}
	return nil
}

// recvBytes 对端关闭映射为 UNEXPECTED_CLOSE，其它读错误为 RECV_BADTH
func recvBytes(r io.Reader, b []byte, what string) error {
	n, err := io.ReadFull(r, b)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		corelog.Warnf("socket was closed unexpectedly while reading %s", what)
		return coreerrors.Wrapf(err, coreerrors.CodeUnexpectedClose, "recv %s", what)
	}
	corelog.Warnf("recv %s failed with %d of %d bytes read: %v", what, n, len(b), err)
	return coreerrors.Wrapf(err, coreerrors.CodeRecvBadth, "recv %s", what)
}

// Negotiate 发送问候并读取服务端版本和命令位图
//
// abbreviated 为 true 时只发两个版本字节（TLS 升级之后）。
// 服务端回复 (0,0) 时返回 Legacy 会话，不再读取后续字节，调用方需要重连。
func Negotiate(conn io.ReadWriter, abbreviated bool, hostPort string) (Session, error) {
	greet := protocol.Greeting()
	if abbreviated {
		greet = protocol.AbbreviatedGreeting()
	}
	if err := sendBytes(conn, greet, "greeting"); err != nil {
		return Session{}, err
	}

	var vers [2]byte
	if err := recvBytes(conn, vers[:], "version"); err != nil {
		return Session{}, err
	}
	s := Session{NetVersion: vers[0], SlawVersion: vers[1]}
	if s.NetVersion == 0 && s.SlawVersion == 0 {
		s.Legacy = true
		return s, nil
	}
	if s.NetVersion > protocol.CurrentNetVersion {
		if s.NetVersion == 'H' && s.SlawVersion == 'T' {
			corelog.Errorf("%s: looks like it might be an http server, not a pool server!", hostPort)
		} else {
			corelog.Errorf("%s: server claims protocol %d/slaw %d, but we only know protocol %d/slaw %d",
				hostPort, s.NetVersion, s.SlawVersion, protocol.CurrentNetVersion, protocol.CurrentSlawVersion)
		}
		return Session{}, coreerrors.Newf(coreerrors.CodeWrongVersion,
			"%s speaks protocol %d/slaw %d", hostPort, s.NetVersion, s.SlawVersion)
	}

	var n [1]byte
	if err := recvBytes(conn, n[:], "command count"); err != nil {
		return Session{}, err
	}
	mask := make([]byte, n[0])
	if err := recvBytes(conn, mask, "command bitmask"); err != nil {
		return Session{}, err
	}
	s.Commands = protocol.CommandSetFromBitmask(mask)
	return s, nil
}
