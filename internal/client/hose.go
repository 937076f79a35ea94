package client

import (
	"bytes"
	"context"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/core/metrics"
	"poolnet/internal/packet"
	"poolnet/internal/protocol"
	"poolnet/internal/wakeup"
)

const (
	// WaitForever 一直等待
	WaitForever = wakeup.Forever
	// NoWait 不等待，没有数据时返回 AWAIT_TIMEDOUT
	NoWait time.Duration = 0
)

// TimeComparison 按时间查找索引时的匹配方式
type TimeComparison int64

const (
	Closest TimeComparison = iota
	ClosestLower
	ClosestHigher
)

func (c TimeComparison) String() string {
	switch c {
	case Closest:
		return "closest"
	case ClosestLower:
		return "closest-lower"
	case ClosestHigher:
		return "closest-higher"
	}
	return "unknown"
}

// Protein pool 中的一条记录，内容对本包不透明
type Protein struct {
	Index     int64
	Timestamp float64 // 秒，服务端没给出时为 NaN
	Data      []byte
}

// Time 把时间戳转换为 time.Time，缺省时返回零值
func (p Protein) Time() time.Time {
	if math.IsNaN(p.Timestamp) || math.IsInf(p.Timestamp, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(p.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// MatchPattern 服务端不支持带模式等待时，客户端用它过滤 protein
func MatchPattern(data, pattern []byte) bool {
	return bytes.Contains(data, pattern)
}

// Hose 到远程 pool 的一个读写句柄
//
// 除 WakeUp 外的方法都不是并发安全的。
type Hose struct {
	ctx  context.Context
	addr PoolAddress
	opts Options
	conn *Connection
	log  corelog.Logger

	name      string
	index     int64
	dirty     bool
	withdrawn bool

	wake *wakeup.Wakeup
	out  outstanding
	gang *Gang
}

func newHose(ctx context.Context, addr PoolAddress, opts Options) *Hose {
	name := opts.HoseName
	if name == "" {
		name = uuid.NewString()
	}
	return &Hose{
		// 断线重连不受调用方 ctx 取消的影响
		ctx:  context.WithoutCancel(ctx),
		addr: addr,
		opts: opts,
		name: name,
		log:  opts.logger().WithField("hose", name),
	}
}

// Participate 连接 uri 指定的已有 pool
func Participate(ctx context.Context, uri string, opts ...Option) (*Hose, error) {
	addr, err := ParsePoolAddress(uri, false)
	if err != nil {
		return nil, err
	}
	h := newHose(ctx, addr, buildOptions(opts))
	if err := h.participate(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// ParticipateCreatingly 连接 pool，不存在时用 poolType 和 createOpts 创建
//
// created 表示本次调用创建了 pool。
func ParticipateCreatingly(ctx context.Context, uri, poolType string, createOpts packet.Value, opts ...Option) (*Hose, bool, error) {
	addr, err := ParsePoolAddress(uri, false)
	if err != nil {
		return nil, false, err
	}
	h := newHose(ctx, addr, buildOptions(opts))

	conn, err := Dial(ctx, addr, h.opts)
	if err != nil {
		return nil, false, err
	}
	if err := requireCommand(conn.Session(), protocol.CmdParticipateCreatingly); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	r, err := conn.callRetort(packet.NewOp(protocol.CmdParticipateCreatingly,
		packet.String(addr.Pool), packet.String(poolType), createOpts, packet.Nil()))
	if err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	// 老服务端按 participate 的视角回复
	if conn.Session().NetVersion < protocol.NetVersionCreatinglyCodes {
		switch r {
		case protocol.RetortExists:
			r = protocol.RetortOK
		case protocol.RetortOK:
			r = protocol.RetortCreated
		}
	}
	if r != protocol.RetortOK && r != protocol.RetortCreated {
		_ = conn.Close()
		return nil, false, r.Err()
	}
	h.conn = conn
	if err := h.sendName(); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	return h, r == protocol.RetortCreated, nil
}

// participate 建立连接并加入 pool，成功后 h.conn 可用
func (h *Hose) participate(ctx context.Context) error {
	conn, err := Dial(ctx, h.addr, h.opts)
	if err != nil {
		return err
	}
	if err := requireCommand(conn.Session(), protocol.CmdParticipate); err != nil {
		_ = conn.Close()
		return err
	}
	r, err := conn.callRetort(packet.NewOp(protocol.CmdParticipate, packet.String(h.addr.Pool), packet.Nil()))
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		_ = conn.Close()
		return err
	}
	h.conn = conn
	if err := h.sendName(); err != nil {
		_ = conn.Close()
		h.conn = nil
		return err
	}
	return nil
}

func requireCommand(s Session, c protocol.Command) error {
	if !s.Supports(c) {
		return coreerrors.Newf(coreerrors.CodeUnsupportedOperation, "server does not support %s", c)
	}
	return nil
}

// sendName 告诉服务端 hose 名称，没有回复
func (h *Hose) sendName() error {
	if !h.conn.Session().Supports(protocol.CmdSetHoseName) {
		return nil
	}
	prog := ""
	if len(os.Args) > 0 {
		prog = os.Args[0]
	}
	return h.send(packet.NewOp(protocol.CmdSetHoseName,
		packet.String(h.name), packet.String(prog), packet.Int(int64(os.Getpid()))))
}

// Name hose 名称
func (h *Hose) Name() string { return h.name }

// SetName 修改名称并同步到服务端
func (h *Hose) SetName(name string) error {
	h.name = name
	h.log = h.opts.logger().WithField("hose", name)
	if err := h.prepare(); err != nil {
		return err
	}
	return h.sendName()
}

// Address pool 地址
func (h *Hose) Address() PoolAddress { return h.addr }

// Session 当前连接协商出的会话
func (h *Hose) Session() Session {
	if h.conn == nil {
		return Session{}
	}
	return h.conn.Session()
}

// Index 下一次 Next 读取的位置
func (h *Hose) Index() int64 { return h.index }

// Dirty 连接是否需要在下一次操作前重建
func (h *Hose) Dirty() bool { return h.dirty }

// Withdraw 退出 pool 并关闭连接；连接已脏时不再发送 withdraw
func (h *Hose) Withdraw() error {
	if h.withdrawn {
		return nil
	}
	if h.gang != nil {
		_ = h.gang.Leave(h)
	}
	var err error
	if h.conn != nil {
		if !h.dirty {
			err = h.withdrawOp()
		}
		if cerr := h.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		h.conn = nil
	}
	h.closeWakeup()
	h.withdrawn = true
	return err
}

func (h *Hose) withdrawOp() error {
	if err := h.send(packet.NewOp(protocol.CmdWithdraw)); err != nil {
		return err
	}
	res, err := h.result()
	if err != nil {
		return err
	}
	r, err := res.Retort(0)
	if err != nil {
		return err
	}
	return r.Err()
}

// Hiatus 直接关闭连接，不通知服务端也不等待 TLS 隧道
func (h *Hose) Hiatus() error {
	if h.withdrawn {
		return nil
	}
	var err error
	if h.conn != nil {
		err = h.conn.Hiatus()
		h.conn = nil
	}
	h.closeWakeup()
	h.withdrawn = true
	return err
}

func (h *Hose) closeWakeup() {
	if h.wake != nil {
		_ = h.wake.Close()
		h.wake = nil
	}
}

// EnableWakeup 允许其他 goroutine 用 WakeUp 打断等待，可以重复调用
func (h *Hose) EnableWakeup() error {
	if h.wake != nil {
		return nil
	}
	w, err := wakeup.New()
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "enable wakeup")
	}
	h.wake = w
	return nil
}

// WakeUp 打断当前或下一次等待，使其返回 AWAIT_WOKEN；可以在任意 goroutine 调用
func (h *Hose) WakeUp() error {
	w := h.wake
	if w == nil {
		return coreerrors.ErrWakeupNotEnabled
	}
	if err := w.Signal(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeSockBadth, "wake up")
	}
	metrics.RecordWakeup()
	return nil
}

// prepare 每个数据操作之前调用：检查 hose 状态，必要时重连
func (h *Hose) prepare() error {
	if h.withdrawn {
		return coreerrors.New(coreerrors.CodeNullHose, "hose has been withdrawn")
	}
	return h.clearDirty()
}

// clearDirty 丢弃脏连接，重新加入 pool；索引保留在本地，不需要重新定位
func (h *Hose) clearDirty() error {
	if !h.dirty {
		return nil
	}
	h.log.Infof("dirty net pool hose, reconnecting")
	metrics.RecordDirtyReconnect()
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			h.log.Debugf("close dirty connection: %v", err)
		}
		h.conn = nil
	}
	h.out.reset()
	if err := h.participate(h.ctx); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

// broken 传输层错误之后连接状态未知，标记为脏
func (h *Hose) broken(err error) error {
	switch coreerrors.CategoryFor(err) {
	case coreerrors.CategoryHandshakeIO, coreerrors.CategoryTunnel:
		h.dirty = true
	}
	return err
}

func (h *Hose) send(op packet.Op) error {
	if err := h.conn.send(op); err != nil {
		return h.broken(err)
	}
	return nil
}

// recvResult 读到 expected 为止，丢弃过期的等待结果
func (h *Hose) recvResult(expected protocol.Command) (packet.Op, error) {
	for {
		op, err := h.conn.recv(h.wake)
		if err != nil {
			if coreerrors.IsWoken(err) {
				// 服务端仍欠一个结果
				h.dirty = true
				return op, err
			}
			return op, h.broken(err)
		}
		if h.out.status == awaitOld {
			h.out.reset()
			h.log.Debugf("discarding stale await result %s", op.Code)
			continue
		}
		if op.Code != expected {
			h.log.Debugf("discarding %s while waiting for %s", op.Code, expected)
			continue
		}
		return op, nil
	}
}

// result 读一个 RESULT；无论成败，之后都没有未完成的等待
func (h *Hose) result() (packet.Op, error) {
	op, err := h.recvResult(protocol.CmdResult)
	h.out.reset()
	return op, err
}

// call 发送请求读取 RESULT，并检查下标为 ri 的 retort
func (h *Hose) call(op packet.Op, ri int) (packet.Op, error) {
	if err := h.prepare(); err != nil {
		return packet.Op{}, err
	}
	if err := h.send(op); err != nil {
		return packet.Op{}, err
	}
	res, err := h.result()
	if err != nil {
		return res, err
	}
	r, err := res.Retort(ri)
	if err != nil {
		return res, err
	}
	return res, r.Err()
}

func (h *Hose) supports(c protocol.Command) error {
	if err := h.prepare(); err != nil {
		return err
	}
	return requireCommand(h.conn.Session(), c)
}

func (h *Hose) fancy() bool {
	return h.conn.Session().Supports(protocol.CmdFancyAddAwaiter)
}

// squished 负索引按 0 发送
func (h *Hose) squished() int64 {
	if h.index < 0 {
		return 0
	}
	return h.index
}

func patternValue(pattern []byte) packet.Value {
	if pattern == nil {
		return packet.Nil()
	}
	return packet.Bytes(pattern)
}

// observe 记录读取结果
func observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = string(coreerrors.GetCode(err))
	}
	metrics.RecordFetch(op, result)
	return err
}

// Deposit 追加一条 protein，返回它的索引和时间戳
func (h *Hose) Deposit(data []byte) (int64, float64, error) {
	res, err := h.call(packet.NewOp(protocol.CmdDeposit, packet.Bytes(data)), 1)
	if err != nil {
		return 0, math.NaN(), err
	}
	idx, err := res.Int(0)
	if err != nil {
		return 0, math.NaN(), err
	}
	ts := math.NaN()
	if len(res.Args) > 2 {
		if f, ok := res.Args[2].AsFloat(); ok {
			ts = f
		}
	}
	metrics.RecordDeposit(len(data))
	return idx, ts, nil
}

// Nth 读取索引为 idx 的 protein，不移动当前位置
func (h *Hose) Nth(idx int64) (Protein, error) {
	res, err := h.call(packet.NewOp(protocol.CmdNthProtein, packet.Int(idx)), 2)
	if err != nil {
		return Protein{}, observe("nth", err)
	}
	p, err := proteinFrom(res, 0, 1, -1)
	p.Index = idx
	return p, observe("nth", err)
}

// Curr 读取当前位置的 protein
func (h *Hose) Curr() (Protein, error) {
	return h.Nth(h.index)
}

// proteinFrom 按参数下标取出 protein 字段；ii 为负表示结果中没有索引
func proteinFrom(op packet.Op, pi, ti, ii int) (Protein, error) {
	var p Protein
	var err error
	if p.Data, err = op.Bytes(pi); err != nil {
		return Protein{}, err
	}
	if p.Timestamp, err = op.Float(ti); err != nil {
		return Protein{}, err
	}
	if ii >= 0 {
		if p.Index, err = op.Int(ii); err != nil {
			return Protein{}, err
		}
	}
	return p, nil
}

// fetchPTIR 发送请求并解析 "ptir" 格式的结果
func (h *Hose) fetchPTIR(op packet.Op) (Protein, error) {
	res, err := h.call(op, 3)
	if err != nil {
		return Protein{}, err
	}
	return proteinFrom(res, 0, 1, 2)
}

// Next 不等待地读取当前位置之后的第一条 protein
func (h *Hose) Next() (Protein, error) {
	p, err := h.nextInternal(false, nil)
	return p, observe("next", err)
}

// plainNext 没有等待状态时的 NEXT 请求
func (h *Hose) plainNext() (Protein, error) {
	p, err := h.fetchPTIR(packet.NewOp(protocol.CmdNext, packet.Int(h.squished())))
	if err != nil {
		return Protein{}, err
	}
	h.index = p.Index + 1
	return p, nil
}

// Prev 读取当前位置之前的 protein，并把位置移到它
func (h *Hose) Prev() (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	if h.index <= 0 {
		return Protein{}, observe("prev", coreerrors.ErrNoSuchProtein)
	}
	if !h.conn.Session().Supports(protocol.CmdPrev) {
		p, err := h.slowPrev()
		return p, observe("prev", err)
	}
	p, err := h.fetchPTIR(packet.NewOp(protocol.CmdPrev, packet.Int(h.index)))
	if err != nil {
		return Protein{}, observe("prev", err)
	}
	h.index = p.Index
	return p, observe("prev", nil)
}

// slowPrev 老服务端：用 newest_index 和 nth 退一格
func (h *Hose) slowPrev() (Protein, error) {
	newest, err := h.NewestIndex()
	if err != nil {
		return Protein{}, err
	}
	start := h.index
	if start > newest+1 {
		start = newest + 1
	}
	h.index = start - 1
	p, err := h.Nth(h.index)
	if err != nil {
		return Protein{}, err
	}
	return p, nil
}

// ProbeForward 不等待地向后查找第一条匹配 pattern 的 protein
func (h *Hose) ProbeForward(pattern []byte) (Protein, error) {
	p, err := h.probeForward(pattern)
	return p, observe("probe_frwd", err)
}

func (h *Hose) probeForward(pattern []byte) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	if h.fancy() {
		return h.nextInternal(false, pattern)
	}
	p, err := h.fetchPTIR(packet.NewOp(protocol.CmdProbeFrwd, packet.Int(h.squished()), patternValue(pattern)))
	if err != nil {
		return Protein{}, err
	}
	h.index = p.Index + 1
	return p, nil
}

// ProbeBackward 从当前位置向前查找匹配 pattern 的 protein，位置停在找到的 protein
func (h *Hose) ProbeBackward(pattern []byte) (Protein, error) {
	p, err := h.probeBackward(pattern)
	return p, observe("probe_back", err)
}

func (h *Hose) probeBackward(pattern []byte) (Protein, error) {
	if err := h.prepare(); err != nil {
		return Protein{}, err
	}
	if h.index <= 0 {
		return Protein{}, coreerrors.ErrNoSuchProtein
	}
	if h.conn.Session().Supports(protocol.CmdProbeBack) {
		p, err := h.fetchPTIR(packet.NewOp(protocol.CmdProbeBack, packet.Int(h.index), patternValue(pattern)))
		if err != nil {
			return Protein{}, err
		}
		h.index = p.Index
		return p, nil
	}

	saved := h.index
	for h.index > 0 {
		p, err := h.Prev()
		if err != nil {
			h.index = saved
			return Protein{}, err
		}
		if MatchPattern(p.Data, pattern) {
			return p, nil
		}
	}
	h.index = saved
	return Protein{}, coreerrors.ErrNoSuchProtein
}

// indexQuery newest/oldest 请求，NO_SUCH_PROTEIN 时仍返回服务端给的索引
func (h *Hose) indexQuery(c protocol.Command) (int64, error) {
	res, err := h.call(packet.NewOp(c), 1)
	if err != nil && !coreerrors.IsNoSuchProtein(err) {
		return 0, err
	}
	idx, ierr := res.Int(0)
	if ierr != nil {
		return 0, ierr
	}
	return idx, err
}

// NewestIndex 最新 protein 的索引，空 pool 返回 NO_SUCH_PROTEIN
func (h *Hose) NewestIndex() (int64, error) {
	return h.indexQuery(protocol.CmdNewestIndex)
}

// OldestIndex 最早仍保留的 protein 的索引
func (h *Hose) OldestIndex() (int64, error) {
	return h.indexQuery(protocol.CmdOldestIndex)
}

// IndexLookup 按时间查找索引；relative 时 ts 是相对当前 protein 的秒数
func (h *Hose) IndexLookup(ts float64, cmp TimeComparison, relative bool) (int64, error) {
	if err := h.supports(protocol.CmdIndexLookup); err != nil {
		return 0, err
	}
	rel := int64(-1)
	if relative {
		rel = h.index
	}
	res, err := h.call(packet.NewOp(protocol.CmdIndexLookup,
		packet.Float(ts), packet.Int(rel), packet.Int(int64(cmp))), 1)
	if err != nil {
		return 0, err
	}
	return res.Int(0)
}

// SeekTo 设置当前位置，不访问服务端
func (h *Hose) SeekTo(idx int64) { h.index = idx }

// SeekBy 相对移动当前位置
func (h *Hose) SeekBy(offset int64) { h.index += offset }

// SeekToTime 移动到时间戳为 ts 附近的 protein
func (h *Hose) SeekToTime(ts float64, cmp TimeComparison) error {
	idx, err := h.IndexLookup(ts, cmp, false)
	if err != nil {
		return err
	}
	h.index = idx
	return nil
}

// SeekByTime 相对当前 protein 的时间移动 lapse 秒
func (h *Hose) SeekByTime(lapse float64, cmp TimeComparison) error {
	idx, err := h.IndexLookup(lapse, cmp, true)
	if err != nil {
		return err
	}
	h.index = idx
	return nil
}

// Rewind 移动到最早的 protein；空 pool 不是错误
func (h *Hose) Rewind() error {
	idx, err := h.OldestIndex()
	if coreerrors.IsNoSuchProtein(err) {
		return nil
	}
	if err != nil {
		return err
	}
	h.index = idx
	return nil
}

// ToLast 移动到最新的 protein
func (h *Hose) ToLast() error {
	idx, err := h.NewestIndex()
	if coreerrors.IsNoSuchProtein(err) {
		return nil
	}
	if err != nil {
		return err
	}
	h.index = idx
	return nil
}

// Runout 移动到最新 protein 之后，下一次 Next 只返回新存入的数据
func (h *Hose) Runout() error {
	idx, err := h.NewestIndex()
	if err != nil && !coreerrors.IsNoSuchProtein(err) {
		return err
	}
	h.index = idx + 1
	return nil
}

// AdvanceOldest 丢弃 idx 之前的 protein
func (h *Hose) AdvanceOldest(idx int64) error {
	if err := h.supports(protocol.CmdAdvanceOldest); err != nil {
		return err
	}
	_, err := h.call(packet.NewOp(protocol.CmdAdvanceOldest, packet.Int(idx)), 0)
	return err
}

// ChangeOptions 修改 pool 选项，options 为 map
func (h *Hose) ChangeOptions(options packet.Value) error {
	if err := h.supports(protocol.CmdChangeOptions); err != nil {
		return err
	}
	_, err := h.call(packet.NewOp(protocol.CmdChangeOptions, options), 0)
	return err
}

// Info 查询 pool 信息；hops 为 0 时只描述本端，负数表示一直转发到终点
func (h *Hose) Info(hops int64) (packet.Value, error) {
	if hops == 0 {
		return packet.Map(
			packet.Entry("type", packet.String("tcp")),
			packet.Entry("terminal", packet.Int(0)),
			packet.Entry("host", packet.String(h.addr.Host)),
			packet.Entry("port", packet.Int(int64(h.addr.Port))),
			packet.Entry("net-pool-version", packet.Int(int64(h.Session().NetVersion))),
			packet.Entry("slaw-version", packet.Int(int64(h.Session().SlawVersion))),
		), nil
	}
	if err := h.supports(protocol.CmdInfo); err != nil {
		return packet.Nil(), err
	}
	if hops > 0 {
		hops--
	}
	res, err := h.call(packet.NewOp(protocol.CmdInfo, packet.Int(hops)), 0)
	if err != nil {
		return packet.Nil(), err
	}
	return res.Arg(1)
}
