package packet

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/protocol"
)

// 帧体使用 protobuf 线格式，字段号如下
//
//	Op:       1 code(varint)  2 arg(bytes, 重复)
//	Value:    1 kind(varint)  2 int(zigzag)  3 float(fixed64)  4 data(bytes)
//	          5 item(bytes, 重复)  6 entry(bytes, 重复)
//	MapEntry: 1 key(bytes)  2 value(bytes)
const (
	fieldOpCode protowire.Number = 1
	fieldOpArg  protowire.Number = 2

	fieldValKind  protowire.Number = 1
	fieldValInt   protowire.Number = 2
	fieldValFloat protowire.Number = 3
	fieldValData  protowire.Number = 4
	fieldValItem  protowire.Number = 5
	fieldValEntry protowire.Number = 6

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2
)

const maxDepth = 32

// Marshal 编码操作为帧体
func Marshal(op Op) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOpCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(op.Code)))
	for _, a := range op.Args {
		b = protowire.AppendTag(b, fieldOpArg, protowire.BytesType)
		b = protowire.AppendBytes(b, appendValue(nil, a))
	}
	return b
}

func appendValue(b []byte, v Value) []byte {
	if v.kind != KindNil {
		b = protowire.AppendTag(b, fieldValKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.kind))
	}
	switch v.kind {
	case KindInt, KindRetort:
		b = protowire.AppendTag(b, fieldValInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.i))
	case KindFloat:
		b = protowire.AppendTag(b, fieldValFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.f))
	case KindString:
		b = protowire.AppendTag(b, fieldValData, protowire.BytesType)
		b = protowire.AppendString(b, v.s)
	case KindBytes:
		b = protowire.AppendTag(b, fieldValData, protowire.BytesType)
		b = protowire.AppendBytes(b, v.b)
	case KindList:
		for _, item := range v.list {
			b = protowire.AppendTag(b, fieldValItem, protowire.BytesType)
			b = protowire.AppendBytes(b, appendValue(nil, item))
		}
	case KindMap:
		for _, e := range v.m {
			var eb []byte
			eb = protowire.AppendTag(eb, fieldEntryKey, protowire.BytesType)
			eb = protowire.AppendString(eb, e.Key)
			eb = protowire.AppendTag(eb, fieldEntryValue, protowire.BytesType)
			eb = protowire.AppendBytes(eb, appendValue(nil, e.Value))
			b = protowire.AppendTag(b, fieldValEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, eb)
		}
	}
	return b
}

func malformed(what string, n int) error {
	if n < 0 {
		return coreerrors.Wrapf(protowire.ParseError(n), coreerrors.CodeProtocolError, "malformed %s", what)
	}
	return coreerrors.Newf(coreerrors.CodeProtocolError, "malformed %s", what)
}

// Unmarshal 解码帧体
func Unmarshal(b []byte) (Op, error) {
	var op Op
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Op{}, malformed("op tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldOpCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Op{}, malformed("op code", n)
			}
			op.Code = protocol.Command(int32(uint32(v)))
			b = b[n:]
		case num == fieldOpArg && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Op{}, malformed("op argument", n)
			}
			val, err := decodeValue(raw, 0)
			if err != nil {
				return Op{}, err
			}
			op.Args = append(op.Args, val)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Op{}, malformed("op field", n)
			}
			b = b[n:]
		}
	}
	return op, nil
}

func decodeValue(b []byte, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, coreerrors.New(coreerrors.CodeProtocolError, "value nested too deeply")
	}
	var v Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Value{}, malformed("value tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldValKind && typ == protowire.VarintType:
			k, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, malformed("value kind", n)
			}
			if k > uint64(KindMap) {
				return Value{}, coreerrors.Newf(coreerrors.CodeProtocolError, "unknown value kind %d", k)
			}
			v.kind = Kind(k)
			b = b[n:]
		case num == fieldValInt && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, malformed("int value", n)
			}
			v.i = protowire.DecodeZigZag(x)
			b = b[n:]
		case num == fieldValFloat && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Value{}, malformed("float value", n)
			}
			v.f = math.Float64frombits(x)
			b = b[n:]
		case num == fieldValData && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, malformed("data value", n)
			}
			v.b = append([]byte(nil), raw...)
			b = b[n:]
		case num == fieldValItem && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, malformed("list item", n)
			}
			item, err := decodeValue(raw, depth+1)
			if err != nil {
				return Value{}, err
			}
			v.list = append(v.list, item)
			b = b[n:]
		case num == fieldValEntry && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, malformed("map entry", n)
			}
			e, err := decodeEntry(raw, depth+1)
			if err != nil {
				return Value{}, err
			}
			v.m = append(v.m, e)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Value{}, malformed("value field", n)
			}
			b = b[n:]
		}
	}
	if v.kind == KindString {
		v.s = string(v.b)
		v.b = nil
	}
	if v.kind == KindBytes && v.b == nil {
		v.b = []byte{}
	}
	return v, nil
}

func decodeEntry(b []byte, depth int) (MapEntry, error) {
	var e MapEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, malformed("entry tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, malformed("entry key", n)
			}
			e.Key = string(raw)
			b = b[n:]
		case num == fieldEntryValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, malformed("entry value", n)
			}
			v, err := decodeValue(raw, depth)
			if err != nil {
				return e, err
			}
			e.Value = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, malformed("entry field", n)
			}
			b = b[n:]
		}
	}
	return e, nil
}
