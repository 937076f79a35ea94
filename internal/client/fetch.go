package client

import (
	"math"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
	"poolnet/internal/protocol"
)

// FetchOp 批量读取中的一项
type FetchOp struct {
	Index        int64
	WantDescrips bool
	WantIngests  bool
	// RudeOffset 为 -1 表示不要 rude 数据；RudeLength 为 -1 表示读到结尾
	RudeOffset int64
	RudeLength int64
}

// FetchResult 一项读取的结果，字段缺失时为 -1（时间戳为 NaN）
type FetchResult struct {
	// Index 开启 clamp 时可能与请求不同
	Index        int64
	Err          error
	Timestamp    float64
	TotalBytes   int64
	DescripBytes int64
	IngestBytes  int64
	RudeBytes    int64
	NumDescrips  int64
	NumIngests   int64
	// Data 服务端返回的部分 protein，Err 非空时为 nil
	Data []byte
}

func boolValue(b bool) packet.Value {
	if b {
		return packet.Int(1)
	}
	return packet.Int(0)
}

func (op FetchOp) value() packet.Value {
	return packet.Map(
		packet.Entry("idx", packet.Int(op.Index)),
		packet.Entry("des", boolValue(op.WantDescrips)),
		packet.Entry("ing", boolValue(op.WantIngests)),
		packet.Entry("roff", packet.Int(op.RudeOffset)),
		packet.Entry("rbytes", packet.Int(op.RudeLength)),
	)
}

func intField(v packet.Value, key string) int64 {
	f, ok := v.Get(key)
	if !ok {
		return -1
	}
	n, ok := f.AsInt()
	if !ok {
		return -1
	}
	return n
}

// Fetch 一次请求读取多条 protein 的部分内容，并返回 pool 当前的最早和最新索引
//
// clamp 为 true 时越界的索引被服务端调整到最近的有效位置。
func (h *Hose) Fetch(ops []FetchOp, clamp bool) ([]FetchResult, int64, int64, error) {
	if err := h.prepare(); err != nil {
		return nil, 0, 0, err
	}
	s := h.conn.Session()
	c := protocol.CmdSubFetchEx
	if s.Supports(protocol.CmdSubFetch) && !clamp {
		c = protocol.CmdSubFetch
	}
	if err := requireCommand(s, c); err != nil {
		return nil, 0, 0, err
	}

	items := make([]packet.Value, len(ops))
	for i, op := range ops {
		items[i] = op.value()
	}
	req := packet.NewOp(c, packet.List(items...))
	if c == protocol.CmdSubFetchEx {
		req.Args = append(req.Args, boolValue(clamp))
	}
	if err := h.send(req); err != nil {
		return nil, 0, 0, err
	}
	res, err := h.result()
	if err != nil {
		return nil, 0, 0, err
	}
	list, err := res.Arg(0)
	if err != nil {
		return nil, 0, 0, err
	}
	oldest, err := res.Int(1)
	if err != nil {
		return nil, 0, 0, err
	}
	newest, err := res.Int(2)
	if err != nil {
		return nil, 0, 0, err
	}

	results := make([]FetchResult, len(ops))
	var first error
	for i, op := range ops {
		r, err := fetchResult(list.Index(i), op.Index, clamp)
		if err != nil && first == nil {
			first = err
		}
		results[i] = r
		_ = observe("fetch", r.Err)
	}
	return results, oldest, newest, first
}

func fetchResult(v packet.Value, want int64, clamp bool) (FetchResult, error) {
	r := FetchResult{Index: want}
	idx := intField(v, "idx")
	if idx != want {
		if !clamp {
			return r, coreerrors.Newf(coreerrors.CodeProtocolError, "fetch asked for %d, got %d", want, idx)
		}
		r.Index = idx
	}

	tort := protocol.Retort(intField(v, "retort"))
	if f, ok := v.Get("retort"); !ok || f.IsNil() {
		tort = protocol.RetortProtocolError
	}
	r.Err = tort.Err()

	r.Timestamp = math.NaN()
	if f, ok := v.Get("time"); ok {
		if ts, ok := f.AsFloat(); ok {
			r.Timestamp = ts
		}
	}
	r.TotalBytes = intField(v, "tbytes")
	r.DescripBytes = intField(v, "dbytes")
	r.IngestBytes = intField(v, "ibytes")
	r.RudeBytes = intField(v, "rbytes")
	r.NumDescrips = intField(v, "ndes")
	r.NumIngests = intField(v, "ning")
	if r.Err == nil {
		if f, ok := v.Get("prot"); ok && f.Kind() == packet.KindBytes {
			r.Data, _ = f.AsBytes()
		}
	}
	return r, nil
}
