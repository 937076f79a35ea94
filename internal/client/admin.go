package client

import (
	"context"

	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
	"poolnet/internal/protocol"
)

// 管理操作每次都建立一条临时连接

// withConnection 连接 addr 所在服务端，执行 fn 后关闭连接
func withConnection(ctx context.Context, addr PoolAddress, opts []Option, fn func(*Connection) error) error {
	conn, err := Dial(ctx, addr, buildOptions(opts))
	if err != nil {
		return err
	}
	err = fn(conn)
	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// simpleCommand 需要服务端支持 c 的单 retort 命令
func simpleCommand(ctx context.Context, uri string, c protocol.Command, opts []Option, args func(PoolAddress) []packet.Value) error {
	addr, err := ParsePoolAddress(uri, false)
	if err != nil {
		return err
	}
	return withConnection(ctx, addr, opts, func(conn *Connection) error {
		if err := requireCommand(conn.Session(), c); err != nil {
			return err
		}
		r, err := conn.callRetort(packet.NewOp(c, args(addr)...))
		if err != nil {
			return err
		}
		return r.Err()
	})
}

// Create 创建 pool，createOpts 为 pool 选项 map
func Create(ctx context.Context, uri, poolType string, createOpts packet.Value, opts ...Option) error {
	return simpleCommand(ctx, uri, protocol.CmdCreate, opts, func(a PoolAddress) []packet.Value {
		return []packet.Value{packet.String(a.Pool), packet.String(poolType), createOpts}
	})
}

// Dispose 删除 pool
func Dispose(ctx context.Context, uri string, opts ...Option) error {
	return simpleCommand(ctx, uri, protocol.CmdDispose, opts, func(a PoolAddress) []packet.Value {
		return []packet.Value{packet.String(a.Pool)}
	})
}

// Sleep 让服务端释放 pool 占用的资源，直到下次有人使用
func Sleep(ctx context.Context, uri string, opts ...Option) error {
	return simpleCommand(ctx, uri, protocol.CmdSleep, opts, func(a PoolAddress) []packet.Value {
		return []packet.Value{packet.String(a.Pool)}
	})
}

// Rename 重命名 pool，两个地址必须指向同一个服务端
func Rename(ctx context.Context, oldURI, newURI string, opts ...Option) error {
	from, err := ParsePoolAddress(oldURI, false)
	if err != nil {
		return err
	}
	to, err := ParsePoolAddress(newURI, false)
	if err != nil {
		return err
	}
	if !from.SameServer(to) {
		return coreerrors.Newf(coreerrors.CodeImpossibleRename,
			"can't rename %s to %s: different servers", from.HostPort(), to.HostPort())
	}
	return simpleCommand(ctx, oldURI, protocol.CmdRename, opts, func(a PoolAddress) []packet.Value {
		return []packet.Value{packet.String(a.Pool), packet.String(to.Pool)}
	})
}

// List 列出服务端上的 pool；uri 带 pool 部分时只列出该目录下的
func List(ctx context.Context, uri string, opts ...Option) ([]string, error) {
	addr, err := ParsePoolAddress(uri, true)
	if err != nil {
		return nil, err
	}
	var names []string
	err = withConnection(ctx, addr, opts, func(conn *Connection) error {
		var op packet.Op
		switch {
		case addr.Pool == "":
			if err := requireCommand(conn.Session(), protocol.CmdList); err != nil {
				return err
			}
			op = packet.NewOp(protocol.CmdList)
		case conn.Session().Supports(protocol.CmdListEx):
			op = packet.NewOp(protocol.CmdListEx, packet.String(addr.Pool))
		default:
			return coreerrors.Newf(coreerrors.CodeUnsupportedOperation,
				"%s can't list a subdirectory", addr.HostPort())
		}
		res, err := conn.call(op)
		if err != nil {
			return err
		}
		r, err := res.Retort(0)
		if err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return err
		}
		list, err := res.Arg(1)
		if err != nil {
			return err
		}
		for _, v := range list.Items() {
			s, ok := v.AsString()
			if !ok {
				return coreerrors.Newf(coreerrors.CodeProtocolError, "pool list contains %s", v.Kind())
			}
			names = append(names, s)
		}
		return nil
	})
	return names, err
}
