// Package packet 定义 pool 协议的操作帧：一个命令码加一组类型化参数
package packet

import (
	"fmt"
	"strings"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/protocol"
)

// Op 一个协议操作（请求或结果）
type Op struct {
	Code protocol.Command
	Args []Value
}

// NewOp 创建操作
func NewOp(code protocol.Command, args ...Value) Op {
	return Op{Code: code, Args: args}
}

func (o Op) String() string {
	parts := make([]string, len(o.Args))
	for i, a := range o.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", o.Code, strings.Join(parts, ", "))
}

func (o Op) argErr(i int, want string) error {
	return coreerrors.Newf(coreerrors.CodeProtocolError, "%s: argument %d is not %s", o.Code, i, want)
}

// Arg 返回第 i 个参数，缺失视为协议错误
func (o Op) Arg(i int) (Value, error) {
	if i < 0 || i >= len(o.Args) {
		return Nil(), coreerrors.Newf(coreerrors.CodeProtocolError, "%s: missing argument %d of %d", o.Code, i, len(o.Args))
	}
	return o.Args[i], nil
}

func (o Op) Int(i int) (int64, error) {
	v, err := o.Arg(i)
	if err != nil {
		return 0, err
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, o.argErr(i, "an int")
	}
	return n, nil
}

func (o Op) Float(i int) (float64, error) {
	v, err := o.Arg(i)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsFloat()
	if !ok {
		return 0, o.argErr(i, "a float")
	}
	return f, nil
}

func (o Op) Str(i int) (string, error) {
	v, err := o.Arg(i)
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", o.argErr(i, "a string")
	}
	return s, nil
}

func (o Op) Bytes(i int) ([]byte, error) {
	v, err := o.Arg(i)
	if err != nil {
		return nil, err
	}
	b, ok := v.AsBytes()
	if !ok {
		return nil, o.argErr(i, "bytes")
	}
	return b, nil
}

func (o Op) Retort(i int) (protocol.Retort, error) {
	v, err := o.Arg(i)
	if err != nil {
		return 0, err
	}
	r, ok := v.AsRetort()
	if !ok {
		return 0, o.argErr(i, "a retort")
	}
	return r, nil
}
