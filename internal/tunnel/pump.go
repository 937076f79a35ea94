package tunnel

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"

	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/wakeup"
)

// BufSize 每个方向的缓冲区大小
const BufSize = 16384

// StageState 一个读写阶段上次被什么阻塞
type StageState int

const (
	Idle StageState = iota
	WouldBlockOnRead
	WouldBlockOnWrite
)

func (s StageState) String() string {
	switch s {
	case Idle:
		return "idle"
	case WouldBlockOnRead:
		return "want-read"
	case WouldBlockOnWrite:
		return "want-write"
	default:
		return "unknown"
	}
}

// ring 简单的 FIFO 缓冲
type ring struct {
	buf  []byte
	head int
	tail int
}

func newRing() *ring { return &ring{buf: make([]byte, BufSize)} }

func (r *ring) len() int  { return r.tail - r.head }
func (r *ring) room() int { return len(r.buf) - r.len() }

// space 返回可写入的连续空间，必要时把数据挪到开头
func (r *ring) space() []byte {
	if r.tail == len(r.buf) && r.head > 0 {
		n := copy(r.buf, r.buf[r.head:r.tail])
		r.head, r.tail = 0, n
	}
	return r.buf[r.tail:]
}

func (r *ring) data() []byte { return r.buf[r.head:r.tail] }

func (r *ring) produce(n int) { r.tail += n }

func (r *ring) consume(n int) {
	r.head += n
	if r.head == r.tail {
		r.head, r.tail = 0, 0
	}
}

// Snapshot 泵的当前状态
type Snapshot struct {
	ReadA, WriteA, ReadB, WriteB StageState
	AToB, BToA                   int
	BytesAToB, BytesBToA         int64
}

// Pump 在两个非阻塞端点之间双向搬运数据
// A 是明文本地端，B 是 TLS 远端
type Pump struct {
	a, b Endpoint
	stop *wakeup.Wakeup
	log  corelog.Logger

	a2b, b2a *ring

	readA, writeA, readB, writeB StageState
	bytesA2B, bytesB2A           int64
}

// NewPump 创建泵；stop 被触发时 Run 返回 nil
func NewPump(a, b Endpoint, stop *wakeup.Wakeup, logger corelog.Logger) *Pump {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Pump{a: a, b: b, stop: stop, log: logger, a2b: newRing(), b2a: newRing()}
}

// Snapshot 只应在 Run 所在的 goroutine 或 Run 返回之后调用
func (p *Pump) Snapshot() Snapshot {
	return Snapshot{
		ReadA: p.readA, WriteA: p.writeA, ReadB: p.readB, WriteB: p.writeB,
		AToB: p.a2b.len(), BToA: p.b2a.len(),
		BytesAToB: p.bytesA2B, BytesBToA: p.bytesB2A,
	}
}

// 阻塞等待的上限，用于检查 stop 之外的退出条件
const pollTick = 250 * time.Millisecond

type readiness struct {
	readA, writeA, readB, writeB bool
}

// interest 根据各阶段状态计算需要关心的事件
func (p *Pump) interest() (aEv, bEv int16) {
	if p.writeA == Idle && p.a2b.room() > 0 {
		if p.readA == WouldBlockOnWrite {
			aEv |= unix.POLLOUT
		} else {
			aEv |= unix.POLLIN
		}
	}
	if p.readA == Idle && p.b2a.len() > 0 {
		if p.writeA == WouldBlockOnRead {
			aEv |= unix.POLLIN
		} else {
			aEv |= unix.POLLOUT
		}
	}
	if p.writeB == Idle && p.b2a.room() > 0 {
		if p.readB == WouldBlockOnWrite {
			bEv |= unix.POLLOUT
		} else {
			bEv |= unix.POLLIN
		}
	}
	if p.readB == Idle && (p.a2b.len() > 0 || p.b.Backlog() > 0) {
		if p.writeB == WouldBlockOnRead {
			bEv |= unix.POLLIN
		} else {
			bEv |= unix.POLLOUT
		}
	}
	if p.b.Backlog() > 0 {
		bEv |= unix.POLLOUT
	}
	return aEv, bEv
}

// immediate 是否有阶段无需等待描述符就能推进
func (p *Pump) immediate() bool {
	if p.b.Pending() && p.writeB == Idle && p.b2a.room() > 0 {
		return true
	}
	if p.a.Pending() && p.writeA == Idle && p.a2b.room() > 0 {
		return true
	}
	return false
}

// check 轮询两端就绪状态；stopped 表示 stop 被触发
func (p *Pump) check() (r readiness, stopped bool, err error) {
	aEv, bEv := p.interest()
	timeout := pollTick
	if p.immediate() {
		timeout = 0
	}
	fds := []unix.PollFd{
		{Fd: int32(p.a.Fd()), Events: aEv},
		{Fd: int32(p.b.Fd()), Events: bEv},
	}
	if p.stop != nil {
		fds = append(fds, unix.PollFd{Fd: int32(p.stop.Fd()), Events: unix.POLLIN})
	}
	ms := int(timeout / time.Millisecond)
	if _, err := unix.Poll(fds, ms); err != nil && !errors.Is(err, unix.EINTR) {
		return r, false, err
	}
	if p.stop != nil && fds[2].Revents != 0 {
		return r, true, nil
	}
	const hup = unix.POLLHUP | unix.POLLERR
	r.readA = fds[0].Revents&(unix.POLLIN|hup) != 0
	r.writeA = fds[0].Revents&(unix.POLLOUT|hup) != 0
	r.readB = fds[1].Revents&(unix.POLLIN|hup) != 0
	r.writeB = fds[1].Revents&(unix.POLLOUT|hup) != 0
	if p.b.Pending() {
		r.readB = true
	}
	if p.a.Pending() {
		r.readA = true
	}
	return r, false, nil
}

// readStage 读阶段的 want-read 不会留下未完成的操作，直接回到 Idle
func readStage(err error) (StageState, error) {
	if errors.Is(err, ErrWantRead) {
		return Idle, nil
	}
	return stage(err)
}

// stage 把一次读写结果转换成阶段状态；io.EOF 和其他错误原样返回
func stage(err error) (StageState, error) {
	switch {
	case err == nil:
		return Idle, nil
	case errors.Is(err, ErrWantRead):
		return WouldBlockOnRead, nil
	case errors.Is(err, ErrWantWrite):
		return WouldBlockOnWrite, nil
	default:
		return Idle, err
	}
}

// Run 搬运数据直到任意一端关闭、出错或 stop 被触发
// 对端正常关闭时返回 nil
func (p *Pump) Run() error {
	for {
		r, stopped, err := p.check()
		if err != nil {
			return err
		}
		if stopped {
			p.log.Debug("tunnel pump stopped")
			return nil
		}

		err = p.step(r)
		if errors.Is(err, io.EOF) {
			p.log.Debugf("tunnel pump finished: a->b %d bytes, b->a %d bytes", p.bytesA2B, p.bytesB2A)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *Pump) step(r readiness) error {
	var err error

	// 读 A
	if p.writeA == Idle && p.a2b.room() > 0 &&
		(r.readA || (r.writeA && p.readA == WouldBlockOnWrite)) {
		n, rerr := p.a.Read(p.a2b.space())
		p.a2b.produce(n)
		if p.readA, err = readStage(rerr); err != nil {
			return err
		}
	}

	// 写 A
	if p.readA == Idle && p.b2a.len() > 0 &&
		(r.writeA || (r.readA && p.writeA == WouldBlockOnRead)) {
		n, werr := p.a.Write(p.b2a.data())
		p.b2a.consume(n)
		if p.writeA, err = stage(werr); err != nil {
			return err
		}
		if n > 0 {
			p.bytesB2A += int64(n)
			metrics.AddTunnelBytes("inbound", n)
		}
	}

	// 读 B
	if p.writeB == Idle && p.b2a.room() > 0 &&
		(r.readB || (r.writeB && p.readB == WouldBlockOnWrite)) {
		n, rerr := p.b.Read(p.b2a.space())
		p.b2a.produce(n)
		if p.readB, err = readStage(rerr); err != nil {
			return err
		}
	}

	// 写 B
	if p.readB == Idle && p.a2b.len() > 0 &&
		(r.writeB || (r.readB && p.writeB == WouldBlockOnRead)) {
		n, werr := p.b.Write(p.a2b.data())
		p.a2b.consume(n)
		if p.writeB, err = stage(werr); err != nil {
			return err
		}
		if n > 0 {
			p.bytesA2B += int64(n)
			metrics.AddTunnelBytes("outbound", n)
		}
	} else if r.writeB && p.b.Backlog() > 0 {
		if ferr := p.b.Flush(); ferr != nil && !errors.Is(ferr, ErrWantWrite) {
			return ferr
		}
	}

	return nil
}
