package packet

import (
	"fmt"
	"math"

	"poolnet/internal/protocol"
)

// Kind 参数值类型
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindRetort
	KindList
	KindMap
)

var kindNames = [...]string{"nil", "int", "float", "string", "bytes", "retort", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value 操作参数，不可变
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	list []Value
	m    []MapEntry
}

// MapEntry map 值中的一项，保持插入顺序
type MapEntry struct {
	Key   string
	Value Value
}

func Nil() Value { return Value{} }
func Int(v int64) Value { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value { return Value{kind: KindBytes, b: v} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }
func Map(es ...MapEntry) Value { return Value{kind: KindMap, m: es} }
func Entry(k string, v Value) MapEntry { return MapEntry{Key: k, Value: v} }

// RetortValue 封装服务端结果码
func RetortValue(r protocol.Retort) Value {
	return Value{kind: KindRetort, i: int64(r)}
}

// OptString 空字符串编码为 nil
func OptString(s string) Value {
	if s == "" {
		return Nil()
	}
	return String(s)
}

// Timestamp 时间戳以浮点秒编码，缺省为 NaN
func Timestamp(ts float64, ok bool) Value {
	if !ok {
		return Float(math.NaN())
	}
	return Float(ts)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }
func (v Value) Len() int { return len(v.list) }
func (v Value) Index(i int) Value {
	if i < 0 || i >= len(v.list) {
		return Nil()
	}
	return v.list[i]
}
func (v Value) Items() []Value { return v.list }
func (v Value) Entries() []MapEntry { return v.m }

// AsInt 返回整数值；retort 也可以按整数读取
func (v Value) AsInt() (int64, bool) {
	if v.kind == KindInt || v.kind == KindRetort {
		return v.i, true
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindBytes:
		return string(v.b), true
	case KindNil:
		return "", true
	}
	return "", false
}

func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes:
		return v.b, true
	case KindString:
		return []byte(v.s), true
	case KindNil:
		return nil, true
	}
	return nil, false
}

func (v Value) AsRetort() (protocol.Retort, bool) {
	if v.kind == KindRetort || v.kind == KindInt {
		return protocol.Retort(v.i), true
	}
	return 0, false
}

// Get 在 map 中按键查找
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Nil(), false
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.b))
	case KindRetort:
		return protocol.Retort(v.i).String()
	case KindList:
		return fmt.Sprintf("list[%d]", len(v.list))
	case KindMap:
		return fmt.Sprintf("map[%d]", len(v.m))
	}
	return v.kind.String()
}
