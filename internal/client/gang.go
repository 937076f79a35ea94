package client

import (
	"errors"
	"sort"
	"time"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/protocol"
	"poolnet/internal/wakeup"
)

// pollGang 等待成员连接或唤醒，测试中可替换
var pollGang = wakeup.Wait

// Gang 一组 hose，轮流读取，任意一个有数据即可返回
//
// 一个 hose 同一时间只能属于一个 gang。Gang 和成员都只能由一个 goroutine 使用，
// WakeUp 除外。
type Gang struct {
	// members[0] 是最后加入的成员
	members []*Hose
	// last 上一次检查的成员，下一轮从它之后开始
	last *Hose
	wake *wakeup.Wakeup
	log  corelog.Logger
}

// NewGang 创建空 gang，唤醒始终可用
func NewGang() (*Gang, error) {
	w, err := wakeup.New()
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeSockBadth, "gang wakeup")
	}
	return &Gang{wake: w, log: corelog.ForComponent("gang")}, nil
}

// Join 加入成员
func (g *Gang) Join(h *Hose) error {
	if h == nil {
		return coreerrors.New(coreerrors.CodeNullHose, "nil hose")
	}
	if h.gang != nil {
		return coreerrors.ErrAlreadyGangMember
	}
	g.members = append([]*Hose{h}, g.members...)
	h.gang = g
	if g.last == nil {
		g.last = h
	}
	return nil
}

// Leave 移除成员；移除的是上一次检查的成员时，下一轮仍从它原来的后继开始
func (g *Gang) Leave(h *Hose) error {
	i := g.find(h)
	if i < 0 {
		return coreerrors.ErrNotAGangMember
	}
	g.members = append(g.members[:i], g.members[i+1:]...)
	h.gang = nil
	if g.last == h {
		if n := len(g.members); n > 0 {
			g.last = g.members[(i-1+n)%n]
		} else {
			g.last = nil
		}
	}
	return nil
}

func (g *Gang) find(h *Hose) int {
	for i, m := range g.members {
		if m == h {
			return i
		}
	}
	return -1
}

// Disband 移除全部成员，withdraw 为 true 时同时退出各自的 pool
func (g *Gang) Disband(withdraw bool) error {
	var errs []error
	for _, h := range append([]*Hose(nil), g.members...) {
		if err := g.Leave(h); err != nil {
			errs = append(errs, err)
		}
		if withdraw {
			if err := h.Withdraw(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := g.wake.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Count 成员数量
func (g *Gang) Count() int { return len(g.members) }

// Nth 第 i 个成员，越界返回 nil
func (g *Gang) Nth(i int) *Hose {
	if i < 0 || i >= len(g.members) {
		return nil
	}
	return g.members[i]
}

// WakeUp 打断当前或下一次 AwaitNext
func (g *Gang) WakeUp() error {
	if err := g.wake.Signal(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "wake up gang")
	}
	metrics.RecordWakeup()
	return nil
}

// order 从 last 之后开始绕一圈，last 排在最后
func (g *Gang) order() []*Hose {
	n := len(g.members)
	start := g.find(g.last)
	out := make([]*Hose, 0, n)
	for k := 1; k <= n; k++ {
		out = append(out, g.members[(start+k)%n])
	}
	return out
}

// sweep 依次尝试 members，遇到数据或非 NO_SUCH_PROTEIN 错误即返回
func (g *Gang) sweep(members []*Hose, next func(*Hose) (Protein, error)) (*Hose, Protein, error) {
	err := error(coreerrors.ErrEmptyGang)
	for _, h := range members {
		var p Protein
		p, err = next(h)
		g.last = h
		if err == nil {
			return h, p, nil
		}
		if !coreerrors.IsNoSuchProtein(err) {
			return nil, Protein{}, err
		}
	}
	return nil, Protein{}, err
}

func hoseNext(h *Hose) (Protein, error) { return h.Next() }

func opportunisticNext(h *Hose) (Protein, error) { return h.nextInternal(true, nil) }

// Next 不等待地轮询各成员
func (g *Gang) Next() (*Hose, Protein, error) {
	if len(g.members) == 0 {
		return nil, Protein{}, coreerrors.ErrEmptyGang
	}
	return g.sweep(g.order(), hoseNext)
}

// prepareAwait 让每个成员进入等待；途中发现数据直接返回
func (g *Gang) prepareAwait() (*Hose, Protein, []*Hose, error) {
	var first error
	waiting := make([]*Hose, 0, len(g.members))
	for _, h := range g.order() {
		p, err := h.multiAddAwaiter(nil)
		switch {
		case err == nil:
			g.last = h
			return h, p, nil, nil
		case coreerrors.IsNoSuchProtein(err):
			waiting = append(waiting, h)
		case first == nil:
			g.log.Debugf("can't await %s: %v", h.Address(), err)
			first = err
		}
		g.last = h
	}
	if first != nil {
		return nil, Protein{}, nil, first
	}
	return nil, Protein{}, waiting, coreerrors.ErrNoSuchProtein
}

// AwaitNext 等待任意成员出现新 protein，返回所在的 hose
func (g *Gang) AwaitNext(timeout time.Duration) (*Hose, Protein, error) {
	h, p, err := g.Next()
	if timeout == NoWait || !coreerrors.IsNoSuchProtein(err) {
		return h, p, noSuchToTimeout(err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		var waiting []*Hose
		h, p, waiting, err = g.prepareAwait()
		if !coreerrors.IsNoSuchProtein(err) {
			return h, p, err
		}

		remaining := timeout
		if timeout > 0 {
			if remaining = time.Until(deadline); remaining < 0 {
				remaining = 0
			}
		}
		fds := make([]int, len(waiting))
		for i, m := range waiting {
			fds[i] = m.conn.Fd()
		}
		ready, woken, werr := pollGang(remaining, g.wake, fds...)
		if werr != nil {
			return nil, Protein{}, coreerrors.Wrap(werr, coreerrors.CodeSockBadth, "poll gang")
		}
		// Wait 已经消耗了唤醒，必须优先返回
		if woken {
			return nil, Protein{}, protocol.RetortAwaitWoken.Err()
		}
		if len(ready) == 0 {
			break
		}

		h, p, err = g.sweep(winnersFirst(g.order(), waiting, ready), opportunisticNext)
		if err == nil || !coreerrors.IsNoSuchProtein(err) {
			return h, p, err
		}
		g.log.Debugf("woken without a protein, awaiting again")
	}

	h, p, err = g.Next()
	return h, p, noSuchToTimeout(err)
}

// winnersFirst 可读的成员排在前面，其余保持原顺序
func winnersFirst(order, waiting []*Hose, ready []int) []*Hose {
	won := make(map[*Hose]bool, len(ready))
	for _, i := range ready {
		won[waiting[i]] = true
	}
	out := append([]*Hose(nil), order...)
	sort.SliceStable(out, func(i, j int) bool { return won[out[i]] && !won[out[j]] })
	return out
}
