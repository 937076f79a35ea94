// Package wakeup 提供跨 goroutine 打断阻塞等待的单许可唤醒原语
//
// 唤醒基于 socket pair：Signal 向写端写 1 字节，等待方把读端和业务描述符一起 poll。
// 多次 Signal 在没有等待者时只会让下一次等待立即返回一次，等待方返回前会清空读端。
package wakeup

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/prep/socketpair"
	"golang.org/x/sys/unix"
)

// Wakeup 单许可、边沿触发的唤醒句柄
type Wakeup struct {
	r, w   net.Conn
	rraw   syscall.RawConn
	wraw   syscall.RawConn
	rfd    int
	mu     sync.Mutex
	closed bool
}

// New 创建唤醒句柄
func New() (*Wakeup, error) {
	r, w, err := socketpair.New("unix")
	if err != nil {
		return nil, fmt.Errorf("wakeup socketpair: %w", err)
	}
	rraw, err := rawConn(r)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	wraw, err := rawConn(w)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	fd, err := fdOf(rraw)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return &Wakeup{r: r, w: w, rraw: rraw, wraw: wraw, rfd: fd}, nil
}

// Fd 读端描述符，用于 poll
func (w *Wakeup) Fd() int {
	return w.rfd
}

// Signal 唤醒一个（当前或下一个）等待者；写端满时视为已有未消费的唤醒
func (w *Wakeup) Signal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}
	var werr error
	err := w.wraw.Write(func(fd uintptr) bool {
		_, werr = unix.Write(int(fd), []byte{1})
		return true
	})
	if err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, unix.EAGAIN) && !errors.Is(werr, unix.EINTR) {
		return werr
	}
	return nil
}

// Drain 读空读端，返回读到的唤醒字节数
func (w *Wakeup) Drain() int {
	total := 0
	var buf [64]byte
	for {
		var n int
		var rerr error
		err := w.rraw.Read(func(fd uintptr) bool {
			n, rerr = unix.Read(int(fd), buf[:])
			return true
		})
		if err != nil || rerr != nil || n <= 0 {
			return total
		}
		total += n
	}
}

// Close 关闭两端
func (w *Wakeup) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(w.w.Close(), w.r.Close())
}

func rawConn(c net.Conn) (syscall.RawConn, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("%T does not expose a file descriptor", c)
	}
	return sc.SyscallConn()
}

func fdOf(raw syscall.RawConn) (int, error) {
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// ConnFd 返回连接底层的描述符；连接关闭前有效
func ConnFd(c net.Conn) (int, error) {
	raw, err := rawConn(c)
	if err != nil {
		return -1, err
	}
	return fdOf(raw)
}
