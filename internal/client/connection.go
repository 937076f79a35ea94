package client

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/core/dispose"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/packet"
	"poolnet/internal/packet/builder"
	"poolnet/internal/packet/parser"
	"poolnet/internal/protocol"
	"poolnet/internal/tunnel"
	"poolnet/internal/wakeup"
)

// Connection 一条完成握手（必要时完成 TLS 升级）的 pool 协议连接
//
// 不是并发安全的，只能由一个 goroutine 使用。
type Connection struct {
	addr    PoolAddress
	conn    net.Conn
	fd      int
	session Session
	tunnel  *tunnel.Task

	builder *builder.DefaultPacketBuilder
	parser  *parser.DefaultPacketParser
	log     corelog.Logger

	dispose dispose.Dispose
}

func newConnection(addr PoolAddress, conn net.Conn, session Session, logger corelog.Logger) (*Connection, error) {
	fd, err := wakeup.ConnFd(conn)
	if err != nil {
		_ = conn.Close()
		return nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "connection descriptor")
	}
	c := &Connection{
		addr:    addr,
		conn:    conn,
		fd:      fd,
		session: session,
		builder: builder.NewDefaultPacketBuilder(),
		parser:  parser.NewDefaultPacketParser(),
		log:     logger.WithField("pool", addr.String()),
	}
	c.dispose.AddCleanHandler("socket", c.closeSocket)
	return c, nil
}

// closeSocket 关闭当前逻辑连接（TLS 升级后是明文端）
func (c *Connection) closeSocket() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Errorf("failed to close socket: %v", err)
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "close socket")
	}
	return nil
}

// Session 当前会话
func (c *Connection) Session() Session { return c.session }

// Address 连接对应的 pool 地址
func (c *Connection) Address() PoolAddress { return c.addr }

// Fd 逻辑连接的描述符，可读表示有结果到达
func (c *Connection) Fd() int { return c.fd }

// Tunneled 是否经过 TLS 隧道
func (c *Connection) Tunneled() bool { return c.tunnel != nil }

// Close 关闭连接并等待隧道结束，返回隧道的错误
func (c *Connection) Close() error {
	return c.dispose.Close().Err()
}

// Hiatus 只关闭连接，不等待隧道
func (c *Connection) Hiatus() error {
	c.dispose.Skip("tunnel")
	if c.tunnel != nil {
		c.tunnel.Stop()
	}
	return c.dispose.Close().Err()
}

// ioErr 隧道已经出错时优先报告隧道错误
func (c *Connection) ioErr(err error, code coreerrors.ErrorCode, what string) error {
	if c.tunnel != nil {
		select {
		case <-c.tunnel.Done():
			if terr := c.tunnel.Err(); terr != nil {
				return terr
			}
		default:
		}
	}
	return coreerrors.Wrap(err, code, what)
}

func (c *Connection) send(op packet.Op) error {
	if err := c.builder.WriteOp(c.conn, op); err != nil {
		return c.ioErr(err, coreerrors.CodeSendBadth, "send "+op.Code.String())
	}
	return nil
}

var errWokenRead = errors.New("woken while reading")

const tunnelErrGrace = time.Second

// wakeReader 每次读之前同时等待连接和唤醒句柄
type wakeReader struct {
	conn net.Conn
	fd   int
	wake *wakeup.Wakeup
	n    int
}

func (r *wakeReader) Read(p []byte) (int, error) {
	_, woken, err := wakeup.Wait(wakeup.Forever, r.wake, r.fd)
	if err != nil {
		return 0, err
	}
	if woken {
		return 0, errWokenRead
	}
	n, err := r.conn.Read(p)
	r.n += n
	return n, err
}

// recv 读一个操作；wake 非空时可被唤醒，返回 AWAIT_WOKEN
// 唤醒时已经读了部分字节，错误详情 retort 为 AWAIT_WOKEN_DIRTY
func (c *Connection) recv(wake *wakeup.Wakeup) (packet.Op, error) {
	var r io.Reader = c.conn
	var wr *wakeReader
	if wake != nil {
		wr = &wakeReader{conn: c.conn, fd: c.fd, wake: wake}
		r = wr
	}
	op, err := c.parser.ReadOp(r)
	switch {
	case err == nil:
		return op, nil
	case errors.Is(err, errWokenRead):
		if wr.n > 0 {
			return op, coreerrors.Newf(coreerrors.CodeAwaitWoken, "woken after %d bytes of a result", wr.n).
				WithDetailInt("retort", int64(protocol.RetortAwaitWokenDirty))
		}
		return op, protocol.RetortAwaitWoken.Err()
	case errors.Is(err, coreerrors.ErrProtocolError):
		return op, err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.log.Warn("socket was closed unexpectedly")
		return op, c.ioErr(err, coreerrors.CodeUnexpectedClose, "recv result")
	default:
		return op, c.ioErr(err, coreerrors.CodeRecvBadth, "recv result")
	}
}

// readable 非阻塞检查是否有数据可读
func (c *Connection) readable() bool {
	ready, _, err := wakeup.Wait(0, nil, c.fd)
	return err == nil && len(ready) > 0
}

// call 发送请求并读取 RESULT，用于没有等待状态的连接
func (c *Connection) call(op packet.Op) (packet.Op, error) {
	if err := c.send(op); err != nil {
		return packet.Op{}, err
	}
	res, err := c.recv(nil)
	if err != nil {
		return res, err
	}
	if res.Code != protocol.CmdResult {
		return res, coreerrors.Newf(coreerrors.CodeProtocolError, "%s: expected result, got %s", op.Code, res.Code)
	}
	return res, nil
}

// callRetort 只关心第一个结果参数的请求
func (c *Connection) callRetort(op packet.Op) (protocol.Retort, error) {
	res, err := c.call(op)
	if err != nil {
		return 0, err
	}
	return res.Retort(0)
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetry
	outcomeLegacy
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	case outcomeLegacy:
		return "legacy"
	}
	return "fatal"
}

// Dial 建立到 addr 所在服务端的连接，完成握手和安全策略
func Dial(ctx context.Context, addr PoolAddress, opts Options) (*Connection, error) {
	start := time.Now()
	c, err := dial(ctx, addr, opts)
	metrics.RecordConnect(addr.Security.Scheme(), err, time.Since(start))
	return c, err
}

func dial(ctx context.Context, addr PoolAddress, opts Options) (*Connection, error) {
	log := opts.logger()
	maxTries := opts.maxTries()
	greet := true
	tries := 0

	for {
		conn, session, out, err := attempt(ctx, addr, opts, greet)
		switch out {
		case outcomeOK:
			c, err := newConnection(addr, conn, session, log)
			if err != nil {
				return nil, err
			}
			if err := c.applySecurity(ctx, opts); err != nil {
				if cerr := c.Close(); cerr != nil {
					log.Debugf("close after security failure: %v", cerr)
				}
				return nil, err
			}
			return c, nil

		case outcomeLegacy:
			// 老服务端：重连一次，不再发送问候
			metrics.RecordLegacyFallback()
			log.Debugf("%s did not negotiate, reconnecting as legacy", addr.HostPort())
			greet = false

		case outcomeRetry:
			tries++
			code := coreerrors.GetCode(err)
			log.Infof("When connecting to '%s', got %s on try %d of %d", addr, code, tries, maxTries)
			metrics.RecordHandshakeRetry(string(code))
			if tries >= maxTries {
				return nil, err
			}
			if serr := sleepContext(ctx, time.Duration(tries)*opts.BackoffStep); serr != nil {
				return nil, coreerrors.Wrap(serr, coreerrors.CodeServerUnreach, "connect cancelled")
			}

		default:
			return nil, err
		}
	}
}

// attempt 建立一次物理连接并握手；失败时连接已关闭
func attempt(ctx context.Context, addr PoolAddress, opts Options, greet bool) (net.Conn, Session, outcome, error) {
	conn, err := opts.establisher().Connect(ctx, addr.Host, addr.Port)
	if err != nil {
		return nil, Session{}, outcomeFatal, err
	}
	if !greet {
		return conn, legacySession(opts.LegacyCommands), outcomeOK, nil
	}

	session, err := Negotiate(conn, false, addr.HostPort())
	if err != nil {
		_ = conn.Close()
		if coreerrors.IsRetryable(err) {
			return nil, Session{}, outcomeRetry, err
		}
		return nil, Session{}, outcomeFatal, err
	}
	if session.Legacy {
		_ = conn.Close()
		return nil, Session{}, outcomeLegacy, nil
	}
	return conn, session, outcomeOK, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// applySecurity 握手后的安全策略；老服务端从不尝试 STARTTLS
func (c *Connection) applySecurity(ctx context.Context, opts Options) error {
	s := c.session
	sec := c.addr.Security
	starttls := !s.Legacy && s.Supports(protocol.CmdStartTLS)

	switch {
	case starttls && sec != Insecure:
		return c.startTLS(ctx, opts)
	case sec == Secure:
		return coreerrors.Newf(coreerrors.CodeNoTLS, "%s does not support TLS", c.addr.HostPort())
	case sec == Insecure && starttls && !s.Supports(protocol.CmdParticipate):
		// 支持 STARTTLS 但不支持 participate，说明服务端要求先升级
		return coreerrors.Newf(coreerrors.CodeTLSRequired, "%s requires TLS", c.addr.HostPort())
	}
	return nil
}

// startTLS 发送 STARTTLS，启动隧道，在明文端重新握手
func (c *Connection) startTLS(ctx context.Context, opts Options) (err error) {
	r, err := c.callRetort(packet.NewOp(protocol.CmdStartTLS, packet.Map()))
	if err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return err
	}

	certs, err := opts.clientCertificates()
	if err != nil {
		return err
	}
	tlsOpts := tunnel.TLSOptions{
		ServerName:       c.addr.Host,
		AllowUnverified:  c.addr.Security != Secure,
		RootCAs:          opts.RootCAs,
		Certificates:     certs,
		HandshakeTimeout: opts.DialTimeout,
	}

	// 隧道的生命周期跟随连接，不跟随 Dial 的 ctx；升级完成前 ctx 结束会中止隧道
	clear, task, err := tunnel.Launch(context.WithoutCancel(ctx), c.conn, tlsOpts, c.log)
	if err != nil {
		return err
	}
	stopOnCancel := context.AfterFunc(ctx, task.Stop)
	defer func() {
		if !stopOnCancel() && err == nil {
			err = coreerrors.Wrap(ctx.Err(), coreerrors.CodeTLSError, "dial cancelled during STARTTLS")
		}
	}()
	fd, err := wakeup.ConnFd(clear)
	if err != nil {
		_ = clear.Close()
		task.Stop()
		_ = task.Wait()
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "tunnel descriptor")
	}

	// 物理连接从此归隧道所有
	c.dispose.Skip("socket")
	c.conn = clear
	c.fd = fd
	c.tunnel = task
	c.dispose.AddCleanHandler("tunnel", func() error {
		err := task.Wait()
		if err != nil {
			c.log.Errorf("joining TLS tunnel: %v", err)
		}
		return err
	})
	c.dispose.AddCleanHandler("socket", c.closeSocket)

	session, err := Negotiate(clear, true, c.addr.HostPort())
	if err != nil {
		// 握手失败时隧道会先关闭明文端，稍等隧道把错误交出来
		select {
		case <-task.Done():
			if terr := task.Err(); terr != nil {
				return terr
			}
		case <-time.After(tunnelErrGrace):
		}
		return err
	}
	if session.Legacy {
		return coreerrors.New(coreerrors.CodeProtocolError, "server stopped negotiating after STARTTLS")
	}
	c.session = session
	return nil
}
