package testutils

import (
	"bufio"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"poolnet/internal/packet"
	"poolnet/internal/packet/builder"
	"poolnet/internal/packet/parser"
	"poolnet/internal/protocol"
)

// serverSession 一条客户端连接的服务端状态
type serverSession struct {
	srv     *PoolServer
	conn    net.Conn
	r       *bufio.Reader
	builder *builder.DefaultPacketBuilder
	parser  *parser.DefaultPacketParser

	mu  sync.Mutex // 保护写
	out io.Writer

	legacy     bool
	netVersion uint8
	cmds       protocol.CommandSet

	pool *memPool
	// cursor 服务端记录的 hose 位置，MULTI_ADD_AWAITER 和 AWAIT_NEXT_SINGLE 使用
	cursor int64

	// await 非空表示有一个后台等待，新操作到达前要先取消
	await *pendingAwait
}

type pendingAwait struct {
	cancel chan struct{}
	done   chan struct{}
}

func (ss *serverSession) write(op packet.Op) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	w := ss.out
	if w == nil {
		w = ss.conn
	}
	return ss.builder.WriteOp(w, op)
}

func (ss *serverSession) writeAll(ops ...packet.Op) error {
	for _, op := range ops {
		if err := ss.write(op); err != nil {
			return err
		}
	}
	return nil
}

func (ss *serverSession) close() {
	ss.cancelAwait()
	if ss.pool != nil {
		ss.srv.mu.Lock()
		ss.pool.hoses--
		ss.srv.mu.Unlock()
		ss.pool = nil
	}
}

// cancelAwait 取消后台等待，等它把取消结果写出
func (ss *serverSession) cancelAwait() {
	if ss.await == nil {
		return
	}
	close(ss.await.cancel)
	<-ss.await.done
	ss.await = nil
}

func (ss *serverSession) loop() error {
	for {
		op, err := ss.parser.ReadOp(ss.r)
		if err != nil {
			return err
		}
		ss.cancelAwait()

		ss.srv.mu.Lock()
		ss.srv.received[op.Code]++
		ss.srv.mu.Unlock()

		if !ss.cmds.Has(op.Code) {
			ss.srv.log.Debugf("unsupported %s", op.Code)
			if err := ss.write(result(packet.RetortValue(protocol.RetortUnsupportedOperation))); err != nil {
				return err
			}
			continue
		}
		if err := ss.handle(op); err != nil {
			return err
		}
	}
}

func result(args ...packet.Value) packet.Op {
	return packet.NewOp(protocol.CmdResult, args...)
}

func retort(r protocol.Retort) packet.Value { return packet.RetortValue(r) }

func proteinValue(sp storedProtein, ok bool) packet.Value {
	if !ok {
		return packet.Nil()
	}
	return packet.Bytes(sp.data)
}

func tsValue(sp storedProtein, ok bool) packet.Value {
	return packet.Timestamp(sp.ts, ok)
}

func indexValue(sp storedProtein, ok bool) packet.Value {
	if !ok {
		return packet.Int(-1)
	}
	return packet.Int(sp.index)
}

func found(ok bool) protocol.Retort {
	if ok {
		return protocol.RetortOK
	}
	return protocol.RetortNoSuchProtein
}

// ptir protein, 时间戳, 索引, retort
func ptir(sp storedProtein, ok bool) packet.Op {
	return result(proteinValue(sp, ok), tsValue(sp, ok), indexValue(sp, ok), retort(found(ok)))
}

// rpti 等待类结果
func rpti(r protocol.Retort, sp storedProtein, ok bool) packet.Op {
	return result(retort(r), proteinValue(sp, ok), tsValue(sp, ok), indexValue(sp, ok))
}

func optBytes(op packet.Op, i int) []byte {
	if i >= len(op.Args) || op.Args[i].IsNil() {
		return nil
	}
	b, _ := op.Args[i].AsBytes()
	if b == nil {
		b = []byte{}
	}
	return b
}

// withPool 在锁内访问当前 pool，没有 participate 时返回 false
func (ss *serverSession) withPool(fn func(p *memPool)) bool {
	ss.srv.mu.Lock()
	defer ss.srv.mu.Unlock()
	if ss.pool == nil {
		return false
	}
	fn(ss.pool)
	return true
}

func (ss *serverSession) handle(op packet.Op) error {
	s := ss.srv
	switch op.Code {
	case protocol.CmdStartTLS:
		if r := s.cfg.StartTLSRetort; r != 0 {
			return ss.write(result(retort(r), packet.Map()))
		}
		if err := ss.write(result(retort(protocol.RetortOK), packet.Map())); err != nil {
			return err
		}
		return s.startTLS(ss)

	case protocol.CmdCreate:
		name, _ := op.Str(0)
		kind, _ := op.Str(1)
		opts, _ := op.Arg(2)
		s.mu.Lock()
		r := protocol.RetortOK
		if _, ok := s.pools[name]; ok {
			r = protocol.RetortExists
		} else {
			s.pools[name] = newMemPool(name, kind, opts)
		}
		s.mu.Unlock()
		return ss.write(result(retort(r)))

	case protocol.CmdDispose, protocol.CmdSleep:
		name, _ := op.Str(0)
		s.mu.Lock()
		p, ok := s.pools[name]
		r := protocol.RetortOK
		switch {
		case !ok:
			r = protocol.RetortNoSuchPool
		case p.hoses > 0:
			r = protocol.RetortInUse
		case op.Code == protocol.CmdDispose:
			delete(s.pools, name)
		}
		s.mu.Unlock()
		return ss.write(result(retort(r)))

	case protocol.CmdRename:
		from, _ := op.Str(0)
		to, _ := op.Str(1)
		s.mu.Lock()
		p, ok := s.pools[from]
		_, exists := s.pools[to]
		r := protocol.RetortOK
		switch {
		case !ok:
			r = protocol.RetortNoSuchPool
		case exists:
			r = protocol.RetortExists
		case p.hoses > 0:
			r = protocol.RetortInUse
		default:
			delete(s.pools, from)
			p.name = to
			s.pools[to] = p
		}
		s.mu.Unlock()
		return ss.write(result(retort(r)))

	case protocol.CmdList, protocol.CmdListEx:
		prefix := ""
		if op.Code == protocol.CmdListEx {
			prefix, _ = op.Str(0)
		}
		s.mu.Lock()
		names := s.poolNames(prefix)
		s.mu.Unlock()
		items := make([]packet.Value, len(names))
		for i, n := range names {
			items[i] = packet.String(n)
		}
		return ss.write(result(retort(protocol.RetortOK), packet.List(items...)))

	case protocol.CmdParticipate:
		name, _ := op.Str(0)
		return ss.write(result(retort(ss.attach(name, "", packet.Nil(), false))))

	case protocol.CmdParticipateCreatingly:
		name, _ := op.Str(0)
		kind, _ := op.Str(1)
		opts, _ := op.Arg(2)
		return ss.write(result(retort(ss.attach(name, kind, opts, true))))

	case protocol.CmdSetHoseName:
		name, _ := op.Str(0)
		s.mu.Lock()
		s.names = append(s.names, name)
		s.mu.Unlock()
		return nil

	case protocol.CmdWithdraw:
		r := protocol.RetortOK
		if !ss.withPool(func(p *memPool) { p.hoses-- }) {
			r = protocol.RetortNullHose
		}
		ss.pool = nil
		return ss.write(result(retort(r)))
	}

	if ss.pool == nil {
		return ss.write(result(retort(protocol.RetortNullHose)))
	}
	return ss.handleData(op)
}

// attach participate 和 participate_creatingly
func (ss *serverSession) attach(name, kind string, opts packet.Value, creatingly bool) protocol.Retort {
	s := ss.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[name]
	created := false
	if !ok {
		if !creatingly {
			return protocol.RetortNoSuchPool
		}
		p = newMemPool(name, kind, opts)
		s.pools[name] = p
		created = true
	}
	p.hoses++
	ss.pool = p

	if !creatingly {
		return protocol.RetortOK
	}
	// 老版本协议的结果码
	if ss.netVersion < protocol.NetVersionCreatinglyCodes {
		if created {
			return protocol.RetortOK
		}
		return protocol.RetortExists
	}
	if created {
		return protocol.RetortCreated
	}
	return protocol.RetortOK
}

func (ss *serverSession) handleData(op packet.Op) error {
	var reply packet.Op
	switch op.Code {
	case protocol.CmdDeposit:
		data, _ := op.Bytes(0)
		ss.withPool(func(p *memPool) {
			sp, r := p.deposit(data)
			reply = result(packet.Int(sp.index), retort(r), packet.Timestamp(sp.ts, r == protocol.RetortOK))
		})

	case protocol.CmdNthProtein:
		idx, _ := op.Int(0)
		ss.withPool(func(p *memPool) {
			sp, ok := p.nth(idx)
			reply = result(proteinValue(sp, ok), tsValue(sp, ok), retort(found(ok)))
		})

	case protocol.CmdNext, protocol.CmdProbeFrwd:
		idx, _ := op.Int(0)
		pattern := optBytes(op, 1)
		ss.withPool(func(p *memPool) {
			ss.cursor = idx
			var sp storedProtein
			ok := false
			if idx >= p.oldest {
				sp, ok = p.forward(idx, pattern)
			}
			if ok {
				ss.cursor = sp.index + 1
			}
			reply = ptir(sp, ok)
		})

	case protocol.CmdPrev:
		idx, _ := op.Int(0)
		ss.withPool(func(p *memPool) {
			sp, ok := p.backward(idx, nil)
			reply = ptir(sp, ok)
		})

	case protocol.CmdProbeBack:
		idx, _ := op.Int(0)
		pattern := optBytes(op, 1)
		ss.withPool(func(p *memPool) {
			sp, ok := p.backward(idx, pattern)
			reply = ptir(sp, ok)
		})

	case protocol.CmdNewestIndex, protocol.CmdOldestIndex:
		ss.withPool(func(p *memPool) {
			if p.empty() {
				reply = result(packet.Int(-1), retort(protocol.RetortNoSuchProtein))
				return
			}
			idx := p.oldest
			if op.Code == protocol.CmdNewestIndex {
				idx = p.next - 1
			}
			reply = result(packet.Int(idx), retort(protocol.RetortOK))
		})

	case protocol.CmdIndexLookup:
		ts, _ := op.Float(0)
		rel, _ := op.Int(1)
		cmp, _ := op.Int(2)
		ss.withPool(func(p *memPool) {
			if rel >= 0 {
				base, ok := p.nth(rel)
				if !ok {
					reply = result(packet.Int(-1), retort(protocol.RetortNoSuchProtein))
					return
				}
				ts += base.ts
			}
			idx, ok := p.lookup(ts, cmp)
			reply = result(packet.Int(idx), retort(found(ok)))
		})

	case protocol.CmdAdvanceOldest:
		idx, _ := op.Int(0)
		ss.withPool(func(p *memPool) { reply = result(retort(p.advanceOldest(idx))) })

	case protocol.CmdChangeOptions:
		opts, _ := op.Arg(0)
		ss.withPool(func(p *memPool) {
			if v, ok := opts.Get("frozen"); ok {
				n, _ := v.AsInt()
				p.frozen = n != 0
			}
			p.options = opts
			reply = result(retort(protocol.RetortOK))
		})

	case protocol.CmdInfo:
		ss.withPool(func(p *memPool) {
			reply = result(retort(protocol.RetortOK), packet.Map(
				packet.Entry("type", packet.String(p.kind)),
				packet.Entry("terminal", packet.Int(1)),
				packet.Entry("name", packet.String(p.name)),
				packet.Entry("proteins", packet.Int(p.next-p.oldest)),
			))
		})

	case protocol.CmdSubFetch, protocol.CmdSubFetchEx:
		reply = ss.subFetch(op)

	case protocol.CmdAwaitNextSingle:
		return ss.awaitNextSingle(op)

	case protocol.CmdMultiAddAwaiter:
		ss.startOldAwait()
		return nil

	case protocol.CmdFancyAddAwaiter:
		return ss.startFancyAwait(op)

	default:
		reply = result(retort(protocol.RetortUnsupportedOperation))
	}
	return ss.write(reply)
}

func (ss *serverSession) subFetch(op packet.Op) packet.Op {
	list, _ := op.Arg(0)
	clamp := false
	if op.Code == protocol.CmdSubFetchEx {
		n, _ := op.Int(1)
		clamp = n != 0
	}
	var reply packet.Op
	ss.withPool(func(p *memPool) {
		items := make([]packet.Value, 0, list.Len())
		for _, req := range list.Items() {
			items = append(items, fetchOne(p, req, clamp))
		}
		oldest, newest := int64(-1), int64(-1)
		if !p.empty() {
			oldest, newest = p.oldest, p.next-1
		}
		reply = result(packet.List(items...), packet.Int(oldest), packet.Int(newest))
	})
	return reply
}

func getInt(v packet.Value, key string, def int64) int64 {
	f, ok := v.Get(key)
	if !ok {
		return def
	}
	n, ok := f.AsInt()
	if !ok {
		return def
	}
	return n
}

func fetchOne(p *memPool, req packet.Value, clamp bool) packet.Value {
	idx := getInt(req, "idx", -1)
	if clamp && !p.empty() {
		if idx < p.oldest {
			idx = p.oldest
		}
		if idx >= p.next {
			idx = p.next - 1
		}
	}
	sp, ok := p.nth(idx)
	if !ok {
		return packet.Map(
			packet.Entry("idx", packet.Int(idx)),
			packet.Entry("retort", retort(protocol.RetortNoSuchProtein)),
		)
	}
	data := sp.data
	roff := getInt(req, "roff", -1)
	rbytes := int64(-1)
	var prot packet.Value = packet.Nil()
	if roff >= 0 && roff <= int64(len(data)) {
		end := int64(len(data))
		if n := getInt(req, "rbytes", -1); n >= 0 && roff+n < end {
			end = roff + n
		}
		prot = packet.Bytes(data[roff:end])
		rbytes = end - roff
	} else if getInt(req, "des", 0) != 0 || getInt(req, "ing", 0) != 0 {
		prot = packet.Bytes(data)
	}
	return packet.Map(
		packet.Entry("idx", packet.Int(idx)),
		packet.Entry("retort", retort(protocol.RetortOK)),
		packet.Entry("time", packet.Float(sp.ts)),
		packet.Entry("tbytes", packet.Int(int64(len(data)))),
		packet.Entry("dbytes", packet.Int(0)),
		packet.Entry("ibytes", packet.Int(0)),
		packet.Entry("rbytes", packet.Int(rbytes)),
		packet.Entry("ndes", packet.Int(0)),
		packet.Entry("ning", packet.Int(0)),
		packet.Entry("prot", prot),
	)
}

// poll 在锁内查找，找不到时返回变化通知
func (ss *serverSession) poll(from int64, pattern []byte) (storedProtein, bool, <-chan struct{}) {
	s := ss.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss.pool == nil {
		return storedProtein{}, false, nil
	}
	sp, ok := ss.pool.forward(from, pattern)
	return sp, ok, ss.pool.changed
}

// awaitNextSingle 在处理循环里阻塞等待
func (ss *serverSession) awaitNextSingle(op packet.Op) error {
	secs, _ := op.Float(0)
	if ss.netVersion < protocol.NetVersionTimeoutFix {
		switch secs {
		case 0:
			secs = -1
		case -1:
			secs = 0
		}
	}
	var timer <-chan time.Time
	if secs >= 0 {
		t := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer t.Stop()
		timer = t.C
	}
	for {
		sp, ok, changed := ss.poll(ss.cursor, nil)
		if ok {
			ss.cursor = sp.index + 1
			return ss.write(rpti(protocol.RetortOK, sp, true))
		}
		if changed == nil {
			return ss.write(rpti(protocol.RetortNullHose, sp, false))
		}
		if secs == 0 {
			return ss.write(rpti(protocol.RetortAwaitTimedOut, sp, false))
		}
		select {
		case <-changed:
		case <-timer:
			return ss.write(rpti(protocol.RetortAwaitTimedOut, storedProtein{}, false))
		case <-ss.srv.quit:
			return io.EOF
		}
	}
}

// startOldAwait 有数据时回一个 RESULT，被新操作取消时回 NO_SUCH_PROTEIN
func (ss *serverSession) startOldAwait() {
	from := ss.cursor
	ss.background(func(cancel <-chan struct{}) {
		for {
			sp, ok, changed := ss.poll(from, nil)
			if ok {
				ss.cursor = sp.index + 1
				_ = ss.write(rpti(protocol.RetortOK, sp, true))
				return
			}
			if changed == nil {
				_ = ss.write(rpti(protocol.RetortNullHose, sp, false))
				return
			}
			select {
			case <-changed:
			case <-cancel:
				_ = ss.write(rpti(protocol.RetortNoSuchProtein, storedProtein{}, false))
				return
			case <-ss.srv.quit:
				return
			}
		}
	})
}

// startFancyAwait RESULT_1 立即回复；没有数据时后台等待 RESULT_2 和 RESULT_3
func (ss *serverSession) startFancyAwait(op packet.Op) error {
	from, _ := op.Int(0)
	pattern := optBytes(op, 1)

	sp, ok, changed := ss.poll(from, pattern)
	if ok {
		return ss.writeAll(
			packet.NewOp(protocol.CmdFancyResult1, retort(protocol.RetortOK), packet.Float(sp.ts), packet.Int(sp.index)),
			packet.NewOp(protocol.CmdFancyResult3, packet.Float(sp.ts), packet.Int(sp.index), packet.Bytes(sp.data)),
		)
	}
	if changed == nil {
		return ss.write(packet.NewOp(protocol.CmdFancyResult1, retort(protocol.RetortNullHose), packet.Float(math.NaN()), packet.Int(-1)))
	}
	if err := ss.write(packet.NewOp(protocol.CmdFancyResult1, retort(protocol.RetortNoSuchProtein), packet.Float(math.NaN()), packet.Int(-1))); err != nil {
		return err
	}
	ss.background(func(cancel <-chan struct{}) {
		for {
			select {
			case <-changed:
			case <-cancel:
				_ = ss.write(packet.NewOp(protocol.CmdFancyResult2, retort(protocol.RetortNoSuchProtein), packet.Float(math.NaN()), packet.Int(-1)))
				return
			case <-ss.srv.quit:
				return
			}
			sp, ok, changed = ss.poll(from, pattern)
			if ok {
				_ = ss.writeAll(
					packet.NewOp(protocol.CmdFancyResult2, retort(protocol.RetortOK), packet.Float(sp.ts), packet.Int(sp.index)),
					packet.NewOp(protocol.CmdFancyResult3, packet.Float(sp.ts), packet.Int(sp.index), packet.Bytes(sp.data)),
				)
				return
			}
			if changed == nil {
				return
			}
		}
	})
	return nil
}

func (ss *serverSession) background(fn func(cancel <-chan struct{})) {
	a := &pendingAwait{cancel: make(chan struct{}), done: make(chan struct{})}
	ss.await = a
	go func() {
		defer close(a.done)
		fn(a.cancel)
	}()
}
