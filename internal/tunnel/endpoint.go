// Package tunnel 实现 STARTTLS 之后的本地明文/远端密文双向转发
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrWantRead 操作需要等底层描述符可读后重试
	ErrWantRead = errors.New("tunnel: operation would block on read")
	// ErrWantWrite 操作需要等底层描述符可写后重试
	ErrWantWrite = errors.New("tunnel: operation would block on write")
)

// Endpoint 泵的一端，所有方法都不阻塞
type Endpoint interface {
	// Read 返回 ErrWantRead/ErrWantWrite 表示稍后重试，io.EOF 表示对端关闭
	Read(p []byte) (int, error)
	// Write 可能只写入部分数据
	Write(p []byte) (int, error)
	// Flush 推送端点内部缓冲的数据；仍有积压时返回 ErrWantWrite
	Flush() error
	// Pending 端点内部可能还有无需等待描述符就能读出的数据
	Pending() bool
	// Backlog 端点内部尚未写到描述符的数据量
	Backlog() int
	// Fd 用于 poll 的描述符
	Fd() int
	Close() error
}

// socketEndpoint 直接对套接字做非阻塞读写
type socketEndpoint struct {
	conn net.Conn
	raw  syscall.RawConn
	fd   int
}

// NewSocketEndpoint 把一个带描述符的连接包装为端点
func NewSocketEndpoint(c net.Conn) (Endpoint, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("tunnel: %T has no file descriptor", c)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return nil, err
	}
	return &socketEndpoint{conn: c, raw: raw, fd: fd}, nil
}

func (s *socketEndpoint) Read(p []byte) (int, error) {
	var n int
	var rerr error
	if err := s.raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), p)
		return true
	}); err != nil {
		return 0, err
	}
	switch {
	case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EINTR):
		return 0, ErrWantRead
	case rerr != nil:
		return 0, rerr
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s *socketEndpoint) Write(p []byte) (int, error) {
	var n int
	var werr error
	if err := s.raw.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), p)
		return true
	}); err != nil {
		return 0, err
	}
	switch {
	case errors.Is(werr, unix.EAGAIN), errors.Is(werr, unix.EINTR):
		return 0, ErrWantWrite
	case errors.Is(werr, unix.EPIPE), errors.Is(werr, unix.ECONNRESET):
		return 0, io.EOF
	case werr != nil:
		return 0, werr
	}
	return n, nil
}

func (s *socketEndpoint) Flush() error  { return nil }
func (s *socketEndpoint) Pending() bool { return false }
func (s *socketEndpoint) Backlog() int  { return 0 }
func (s *socketEndpoint) Fd() int       { return s.fd }
func (s *socketEndpoint) Close() error  { return s.conn.Close() }
