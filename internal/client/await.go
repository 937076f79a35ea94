package client

import (
	"bytes"
	"time"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
	"poolnet/internal/protocol"
	"poolnet/internal/wakeup"
)

// awaitStatus 服务端是否还欠我们等待结果
type awaitStatus int

const (
	awaitNone awaitStatus = iota
	// awaitOld 已发送 MULTI_ADD_AWAITER，服务端会在有数据时回一个 RESULT
	awaitOld
	// awaitPreparing 已发送 FANCY_ADD_AWAITER，等待 RESULT_1
	awaitPreparing
	// awaitFancy RESULT_1 为 NO_SUCH_PROTEIN，等待 RESULT_2
	awaitFancy
	// awaitArrived protein 已到达，等待 RESULT_3
	awaitArrived
)

func (s awaitStatus) String() string {
	switch s {
	case awaitNone:
		return "none"
	case awaitOld:
		return "old-awaiting"
	case awaitPreparing:
		return "fancy-preparing"
	case awaitFancy:
		return "fancy-awaiting"
	case awaitArrived:
		return "fancy-arrived"
	}
	return "unknown"
}

type outstanding struct {
	status  awaitStatus
	index   int64
	pattern []byte
}

func (o *outstanding) reset() { *o = outstanding{} }

// compatible 未完成的等待是否针对同一个位置和模式
func (o outstanding) compatible(index int64, pattern []byte) bool {
	if o.status == awaitNone || o.index != index {
		return false
	}
	if o.pattern == nil || pattern == nil {
		return o.pattern == nil && pattern == nil
	}
	return bytes.Equal(o.pattern, pattern)
}

func (h *Hose) sendFancy(pattern []byte) error {
	idx := h.squished()
	if err := h.send(packet.NewOp(protocol.CmdFancyAddAwaiter, packet.Int(idx), patternValue(pattern))); err != nil {
		return err
	}
	h.out = outstanding{status: awaitPreparing, index: idx, pattern: pattern}
	return nil
}

// recvFancy1 读 RESULT_1 并推进状态；返回的错误是服务端的失败 retort
func (h *Hose) recvFancy1(pattern []byte) error {
	res, err := h.recvResult(protocol.CmdFancyResult1)
	if err != nil {
		return err
	}
	r, err := res.Retort(0)
	if err != nil {
		h.out.reset()
		return err
	}
	if !h.out.compatible(h.squished(), pattern) {
		h.out.reset()
		return nil
	}
	switch r {
	case protocol.RetortOK:
		h.out.status = awaitArrived
	case protocol.RetortNoSuchProtein:
		h.out.status = awaitFancy
	default:
		h.out.reset()
		return r.Err()
	}
	return nil
}

// recvFancy3 读 RESULT_3（"tip"），位置移到 protein 之后
func (h *Hose) recvFancy3() (Protein, error) {
	res, err := h.recvResult(protocol.CmdFancyResult3)
	h.out.reset()
	if err != nil {
		return Protein{}, err
	}
	p, err := proteinFrom(res, 2, 0, 1)
	if err != nil {
		return Protein{}, err
	}
	h.index = p.Index + 1
	return p, nil
}

// recvAwaitResult 老式等待的结果（"rpti"）
func (h *Hose) recvAwaitResult() (Protein, error) {
	res, err := h.result()
	if err != nil {
		return Protein{}, err
	}
	r, err := res.Retort(0)
	if err != nil {
		return Protein{}, err
	}
	if err := r.Err(); err != nil {
		return Protein{}, err
	}
	p, err := proteinFrom(res, 1, 2, 3)
	if err != nil {
		return Protein{}, err
	}
	h.index = p.Index + 1
	return p, nil
}

// nextInternal 不阻塞地读取下一条（匹配 pattern 的）protein
//
// opportunistic 为 true 时只消费已经到达的等待结果，不发新请求。
// 支持 fancy 等待的服务端上，没有数据时会留下一个服务端等待，
// 之后连接可读即表示有新数据。
func (h *Hose) nextInternal(opportunistic bool, pattern []byte) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	for {
		idx := h.squished()
		compat := h.out.compatible(idx, pattern)

		st := h.out.status
		if st == awaitOld {
			if compat && h.conn.readable() {
				h.out.reset()
				return h.recvAwaitResult()
			}
			// 过期的结果由 recvResult 丢弃
			st = awaitNone
		}

		switch st {
		case awaitNone:
			if opportunistic {
				return Protein{}, coreerrors.ErrNoSuchProtein
			}
			if h.fancy() {
				if err := h.sendFancy(pattern); err != nil {
					return Protein{}, err
				}
				continue
			}
			return h.plainNext()

		case awaitPreparing:
			if err := h.recvFancy1(pattern); err != nil {
				return Protein{}, err
			}

		case awaitFancy:
			if compat {
				if !h.conn.readable() {
					return Protein{}, coreerrors.ErrNoSuchProtein
				}
				res, err := h.recvResult(protocol.CmdFancyResult2)
				if err != nil {
					return Protein{}, err
				}
				r, err := res.Retort(0)
				if err != nil {
					h.out.reset()
					return Protein{}, err
				}
				if r != protocol.RetortOK {
					h.out.reset()
					return Protein{}, r.Err()
				}
				h.out.status = awaitArrived
				continue
			}
			if opportunistic {
				return Protein{}, coreerrors.ErrNoSuchProtein
			}
			h.out.reset()

		case awaitArrived:
			if !compat {
				if opportunistic {
					return Protein{}, coreerrors.ErrNoSuchProtein
				}
				h.out.reset()
				continue
			}
			return h.recvFancy3()
		}
	}
}

// multiAddAwaiter 有数据时直接返回；否则让服务端开始等待并返回 NO_SUCH_PROTEIN，
// 此后连接可读表示等待有了结果
func (h *Hose) multiAddAwaiter(pattern []byte) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	for {
		idx := h.squished()
		compat := h.out.compatible(idx, pattern)

		st := h.out.status
		if st == awaitOld {
			if compat {
				return Protein{}, coreerrors.ErrNoSuchProtein
			}
			st = awaitNone
		}

		switch st {
		case awaitNone:
			if h.fancy() {
				if err := h.sendFancy(pattern); err != nil {
					return Protein{}, err
				}
				continue
			}
			p, err := h.nextInternal(false, nil)
			if !coreerrors.IsNoSuchProtein(err) {
				return p, err
			}
			if err := h.send(packet.NewOp(protocol.CmdMultiAddAwaiter)); err != nil {
				return Protein{}, err
			}
			h.out = outstanding{status: awaitOld, index: h.squished()}
			return Protein{}, coreerrors.ErrNoSuchProtein

		case awaitPreparing:
			if err := h.recvFancy1(pattern); err != nil {
				return Protein{}, err
			}

		case awaitFancy:
			if compat {
				return Protein{}, coreerrors.ErrNoSuchProtein
			}
			h.out.reset()

		case awaitArrived:
			if !compat {
				h.out.reset()
				continue
			}
			return h.recvFancy3()
		}
	}
}

// fancyAwait 服务端等待 + 本地 poll 连接和唤醒句柄
func (h *Hose) fancyAwait(timeout time.Duration, pattern []byte) (Protein, error) {
	p, err := h.multiAddAwaiter(pattern)
	if !coreerrors.IsNoSuchProtein(err) {
		return p, err
	}
	if h.out.status != awaitFancy {
		return Protein{}, coreerrors.Newf(coreerrors.CodeProtocolError,
			"expected fancy-awaiting state, got %s", h.out.status)
	}

	ready, woken, err := wakeup.Wait(timeout, h.wake, h.conn.Fd())
	if err != nil {
		return Protein{}, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "poll connection")
	}
	if woken {
		// 服务端的等待还在，状态保持 awaitFancy，下次操作会处理
		return Protein{}, protocol.RetortAwaitWoken.Err()
	}
	if len(ready) == 0 {
		return Protein{}, coreerrors.ErrAwaitTimedOut
	}
	return h.nextInternal(false, pattern)
}

// oldAwaitNextSingle 不支持 fancy 的服务端：由服务端计时
func (h *Hose) oldAwaitNextSingle(timeout time.Duration) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	secs := timeoutSeconds(timeout)
	// 早期协议里 0 和 -1 的含义是反的
	if h.conn.Session().NetVersion < protocol.NetVersionTimeoutFix {
		switch secs {
		case -1:
			secs = 0
		case 0:
			secs = -1
		}
	}
	if err := h.send(packet.NewOp(protocol.CmdAwaitNextSingle, packet.Float(secs))); err != nil {
		return Protein{}, err
	}
	return h.recvAwaitResult()
}

func timeoutSeconds(d time.Duration) float64 {
	if d < 0 {
		return -1
	}
	return d.Seconds()
}

func (h *Hose) awaitNextSingle(timeout time.Duration) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	if h.fancy() {
		return h.fancyAwait(timeout, nil)
	}
	return h.oldAwaitNextSingle(timeout)
}

// AwaitNext 读取下一条 protein，没有时最多等待 timeout
//
// timeout 为 NoWait 时立即返回 AWAIT_TIMEDOUT，为 WaitForever 时一直等待。
// 当前位置的数据已被丢弃时跳到最早的 protein。
func (h *Hose) AwaitNext(timeout time.Duration) (Protein, error) {
	p, err := h.awaitNext(timeout)
	return p, observe("await_next", err)
}

func (h *Hose) awaitNext(timeout time.Duration) (Protein, error) {
	p, err := h.nextInternal(false, nil)
	if err == nil || coreerrors.IsWoken(err) || timeout == NoWait {
		return p, noSuchToTimeout(err)
	}
	for {
		if coreerrors.IsNoSuchProtein(err) {
			oldest, oerr := h.OldestIndex()
			switch {
			case oerr == nil && oldest > h.index:
				h.index = oldest
				if p, err = h.nextInternal(false, nil); !coreerrors.IsNoSuchProtein(err) {
					return p, err
				}
			case oerr != nil && !coreerrors.IsNoSuchProtein(oerr):
				return Protein{}, oerr
			}
		}
		if p, err = h.awaitNextSingle(timeout); !coreerrors.IsNoSuchProtein(err) {
			return p, err
		}
	}
}

func noSuchToTimeout(err error) error {
	if coreerrors.IsNoSuchProtein(err) {
		return coreerrors.ErrAwaitTimedOut
	}
	return err
}

// AwaitProbeForward 等待下一条匹配 pattern 的 protein
//
// 服务端不支持带模式等待时在客户端逐条过滤；失败时位置恢复到调用前。
func (h *Hose) AwaitProbeForward(pattern []byte, timeout time.Duration) (Protein, error) {
	p, err := h.awaitProbeForward(pattern, timeout)
	return p, observe("await_probe_frwd", err)
}

func (h *Hose) awaitProbeForward(pattern []byte, timeout time.Duration) (Protein, error) {
	if timeout == NoWait {
		p, err := h.probeForward(pattern)
		return p, noSuchToTimeout(err)
	}
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	if h.fancy() {
		return h.fancyAwait(timeout, pattern)
	}

	saved := h.index
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		remaining := timeout
		if timeout > 0 {
			if remaining = time.Until(deadline); remaining <= 0 {
				h.index = saved
				return Protein{}, coreerrors.ErrAwaitTimedOut
			}
		}
		p, err := h.awaitNext(remaining)
		if err != nil {
			h.index = saved
			if timeout > 0 {
				err = noSuchToTimeout(err)
			}
			return Protein{}, err
		}
		if MatchPattern(p.Data, pattern) {
			return p, nil
		}
	}
}
