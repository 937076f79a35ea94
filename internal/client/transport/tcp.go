package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
)

// DSCPRealTimeInteractive CS4，写入 TOS 字节的值
const DSCPRealTimeInteractive = 32

// SocketOptions 在 connect 之前设置到套接字上的选项
type SocketOptions struct {
	NoDelay   bool
	TOS       int // 小于 0 表示不设置
	NoSigPipe bool
}

// DefaultSocketOptions 低延迟选项
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{NoDelay: true, TOS: DSCPRealTimeInteractive, NoSigPipe: true}
}

// DialFunc 连接一个候选地址
type DialFunc func(ctx context.Context, c Candidate) (net.Conn, error)

// Establisher 按顺序尝试候选地址，返回第一个成功的连接
type Establisher struct {
	Resolver Resolver
	Dial     DialFunc // 非空时由调用方负责套接字选项
	Options  SocketOptions
	Timeout  time.Duration // 单个候选的连接超时，0 表示不限

	// OnAttempt 每个候选尝试结束后调用，err 为 nil 表示成功
	OnAttempt func(c Candidate, err error)

	Logger corelog.Logger
}

// NewEstablisher 使用系统解析器和默认套接字选项
func NewEstablisher() *Establisher {
	return &Establisher{
		Resolver: SystemResolver{},
		Options:  DefaultSocketOptions(),
		Timeout:  10 * time.Second,
	}
}

func (e *Establisher) logger() corelog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return corelog.ForComponent("transport")
}

// Connect 解析 host 并依次连接候选地址（IPv4 优先）
// 解析失败返回 NO_SUCH_POOL；全部失败时沿用最后一个候选的错误码，没有则为 SERVER_UNREACH
func (e *Establisher) Connect(ctx context.Context, host string, port uint16) (net.Conn, error) {
	resolver := e.Resolver
	if resolver == nil {
		resolver = SystemResolver{}
	}
	candidates, err := resolver.LookupCandidates(ctx, host, port)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeNoSuchPool, "resolve %s", host)
	}
	if len(candidates) == 0 {
		return nil, coreerrors.Newf(coreerrors.CodeNoSuchPool, "resolve %s: no addresses", host)
	}
	SortCandidates(candidates)

	dial := e.Dial
	if dial == nil {
		dial = e.dialTCP
	}

	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeServerUnreach, "connect cancelled")
		}
		conn, err := dial(ctx, c)
		if e.OnAttempt != nil {
			e.OnAttempt(c, err)
		}
		if err == nil {
			return conn, nil
		}
		e.logger().Warnf("connect to %s failed: %v", c, err)
		lastErr = err
	}
	code := coreerrors.CodeServerUnreach
	var ce *coreerrors.Error
	if errors.As(lastErr, &ce) {
		code = ce.Code
	}
	return nil, coreerrors.Wrapf(lastErr, code, "%s: no candidate reachable", host)
}

func (e *Establisher) dialTCP(ctx context.Context, c Candidate) (net.Conn, error) {
	d := net.Dialer{Timeout: e.Timeout, Control: e.control}
	conn, err := d.DialContext(ctx, "tcp", c.Addr.String())
	if err != nil {
		return nil, err
	}
	// 运行时在 connect 之后总是打开 TCP_NODELAY
	if tcp, ok := conn.(*net.TCPConn); ok && !e.Options.NoDelay {
		if err := tcp.SetNoDelay(false); err != nil {
			conn.Close()
			return nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "clear TCP_NODELAY")
		}
	}
	return conn, nil
}

// control 在 connect 之前设置套接字选项
// TOS 设置失败只记录日志，其余失败视为 SOCK_BADTH
func (e *Establisher) control(network, address string, raw syscall.RawConn) error {
	var serr error
	err := raw.Control(func(fd uintptr) {
		serr = e.setOptions(int(fd), strings.HasSuffix(network, "6"), address)
	})
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "socket control")
	}
	return serr
}

func (e *Establisher) setOptions(fd int, v6 bool, address string) error {
	if e.Options.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "set TCP_NODELAY")
		}
	}
	if e.Options.TOS >= 0 {
		var err error
		if v6 {
			err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, e.Options.TOS)
		} else {
			err = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, e.Options.TOS)
		}
		if err != nil {
			e.logger().Debugf("set TOS on %s: %v", address, err)
		}
	}
	if e.Options.NoSigPipe {
		if err := setNoSigPipe(fd); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "set SO_NOSIGPIPE")
		}
	}
	return nil
}
