package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// 出站密文积压超过该值时拒绝新的明文写入
const maxCipherBacklog = 2 * BufSize

// wouldBlock 作为 net.Error 返回给 crypto/tls；Temporary 的读错误不会被记录为连接错误
type wouldBlock struct{}

func (wouldBlock) Error() string   { return "tunnel: would block" }
func (wouldBlock) Timeout() bool   { return true }
func (wouldBlock) Temporary() bool { return true }

// shimConn 放在 tls.Conn 下面的连接
// 握手期间直接阻塞读写物理连接；之后读在无数据时返回 wouldBlock，写只追加到出站缓冲
type shimConn struct {
	net.Conn
	sock *socketEndpoint

	mu          sync.Mutex
	nonblocking bool
	out         []byte
}

func (s *shimConn) setNonblocking(v bool) {
	s.mu.Lock()
	s.nonblocking = v
	s.mu.Unlock()
}

func (s *shimConn) isNonblocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonblocking
}

func (s *shimConn) Read(p []byte) (int, error) {
	if !s.isNonblocking() {
		return s.Conn.Read(p)
	}
	n, err := s.sock.Read(p)
	if errors.Is(err, ErrWantRead) {
		return 0, wouldBlock{}
	}
	return n, err
}

func (s *shimConn) Write(p []byte) (int, error) {
	if !s.isNonblocking() {
		return s.Conn.Write(p)
	}
	s.mu.Lock()
	s.out = append(s.out, p...)
	s.mu.Unlock()
	return len(p), nil
}

// flush 尽量把出站缓冲写到套接字
func (s *shimConn) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.out) > 0 {
		n, err := s.sock.Write(s.out)
		if n > 0 {
			s.out = s.out[:copy(s.out, s.out[n:])]
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *shimConn) backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// tlsEndpoint 密文一侧
type tlsEndpoint struct {
	shim    *shimConn
	conn    *tls.Conn
	pending bool
}

// newTLSEndpoint 在物理连接上完成 TLS 客户端握手，返回非阻塞端点
func newTLSEndpoint(ctx context.Context, physical net.Conn, cfg *tls.Config) (*tlsEndpoint, error) {
	ep, err := NewSocketEndpoint(physical)
	if err != nil {
		return nil, err
	}
	shim := &shimConn{Conn: physical, sock: ep.(*socketEndpoint)}
	conn := tls.Client(shim, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	shim.setNonblocking(true)
	// 握手时可能已经多读了后续记录
	return &tlsEndpoint{shim: shim, conn: conn, pending: true}, nil
}

func (t *tlsEndpoint) Read(p []byte) (int, error) {
	if err := t.Flush(); err != nil && !errors.Is(err, ErrWantWrite) {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if n > 0 {
		// tls.Conn 可能已经把后续记录读进了自己的缓冲
		t.pending = true
		return n, nil
	}
	t.pending = false
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return 0, ErrWantRead
	}
	if err == nil {
		return 0, ErrWantRead
	}
	return 0, err
}

func (t *tlsEndpoint) Write(p []byte) (int, error) {
	if t.shim.backlog() >= maxCipherBacklog {
		if err := t.Flush(); err != nil {
			return 0, err
		}
	}
	if len(p) > BufSize {
		p = p[:BufSize]
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, err
	}
	if ferr := t.Flush(); ferr != nil && !errors.Is(ferr, ErrWantWrite) {
		return n, ferr
	}
	return n, nil
}

func (t *tlsEndpoint) Flush() error  { return t.shim.flush() }
func (t *tlsEndpoint) Pending() bool { return t.pending }
func (t *tlsEndpoint) Backlog() int  { return t.shim.backlog() }
func (t *tlsEndpoint) Fd() int       { return t.shim.sock.Fd() }

// Close 发送 close_notify 后关闭物理连接
func (t *tlsEndpoint) Close() error {
	t.shim.setNonblocking(false)
	_ = t.shim.Conn.SetDeadline(time.Now().Add(time.Second))
	_ = t.Flush()
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}
