package testutils

import (
	"bytes"
	"math"
	"sort"
	"time"

	"poolnet/internal/packet"
	"poolnet/internal/protocol"
)

type storedProtein struct {
	index int64
	ts    float64
	data  []byte
}

// memPool 内存中的 pool，由 PoolServer.mu 保护
type memPool struct {
	name     string
	kind     string
	options  packet.Value
	proteins []storedProtein
	// oldest 最早仍保留的索引，next 下一个存入的索引
	oldest, next int64
	frozen       bool
	hoses        int
	changed      chan struct{}
}

func newMemPool(name, kind string, options packet.Value) *memPool {
	return &memPool{name: name, kind: kind, options: options, changed: make(chan struct{})}
}

func (p *memPool) deposit(data []byte) (storedProtein, protocol.Retort) {
	if p.frozen {
		return storedProtein{}, protocol.RetortFrozen
	}
	sp := storedProtein{
		index: p.next,
		ts:    float64(time.Now().UnixNano()) / 1e9,
		data:  append([]byte(nil), data...),
	}
	// 时间戳单调递增，按时间查找依赖这一点
	if n := len(p.proteins); n > 0 && sp.ts <= p.proteins[n-1].ts {
		sp.ts = math.Nextafter(p.proteins[n-1].ts, math.Inf(1))
	}
	p.proteins = append(p.proteins, sp)
	p.next++
	close(p.changed)
	p.changed = make(chan struct{})
	return sp, protocol.RetortOK
}

func (p *memPool) empty() bool { return p.next == p.oldest }

func (p *memPool) nth(idx int64) (storedProtein, bool) {
	if idx < p.oldest || idx >= p.next {
		return storedProtein{}, false
	}
	return p.proteins[idx-p.oldest], true
}

func matches(sp storedProtein, pattern []byte) bool {
	return pattern == nil || bytes.Contains(sp.data, pattern)
}

// forward 从 from 开始向后找第一条匹配的 protein
func (p *memPool) forward(from int64, pattern []byte) (storedProtein, bool) {
	if from < p.oldest {
		from = p.oldest
	}
	for i := from; i < p.next; i++ {
		sp, _ := p.nth(i)
		if matches(sp, pattern) {
			return sp, true
		}
	}
	return storedProtein{}, false
}

// backward 从 before-1 开始向前找
func (p *memPool) backward(before int64, pattern []byte) (storedProtein, bool) {
	if before > p.next {
		before = p.next
	}
	for i := before - 1; i >= p.oldest; i-- {
		sp, _ := p.nth(i)
		if matches(sp, pattern) {
			return sp, true
		}
	}
	return storedProtein{}, false
}

func (p *memPool) advanceOldest(idx int64) protocol.Retort {
	if idx > p.next {
		return protocol.RetortNoSuchProtein
	}
	if idx <= p.oldest {
		return protocol.RetortOK
	}
	p.proteins = p.proteins[idx-p.oldest:]
	p.oldest = idx
	return protocol.RetortOK
}

// lookup 按时间查找
func (p *memPool) lookup(ts float64, cmp int64) (int64, bool) {
	best := int64(-1)
	bestDiff := math.Inf(1)
	for _, sp := range p.proteins {
		d := sp.ts - ts
		switch cmp {
		case 1: // 不晚于 ts 的最后一条
			if d <= 0 {
				best = sp.index
			}
		case 2: // 不早于 ts 的第一条
			if d >= 0 {
				return sp.index, true
			}
		default:
			if math.Abs(d) < bestDiff {
				best, bestDiff = sp.index, math.Abs(d)
			}
		}
	}
	return best, best >= 0
}

func (s *PoolServer) poolNames(prefix string) []string {
	var names []string
	for n := range s.pools {
		if prefix == "" || len(n) > len(prefix) && n[:len(prefix)+1] == prefix+"/" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
