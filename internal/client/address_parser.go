package client

import (
	"errors"
	"net"
	"strconv"
	"strings"

	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/protocol"
)

// Security 连接安全级别，由 URI scheme 决定
type Security int

const (
	// Insecure 不使用 TLS（tcp://）
	Insecure Security = iota
	// Opportunistic 服务端支持时升级 TLS，不校验证书（tcpo://）
	Opportunistic
	// Secure 必须 TLS 且校验证书（tcps://）
	Secure
)

var securitySchemes = [...]string{"tcp", "tcpo", "tcps"}

// Scheme 返回对应的 URI scheme
func (s Security) Scheme() string {
	if s >= 0 && int(s) < len(securitySchemes) {
		return securitySchemes[s]
	}
	return "tcp"
}

func (s Security) String() string {
	switch s {
	case Insecure:
		return "insecure"
	case Opportunistic:
		return "opportunistic"
	case Secure:
		return "secure"
	}
	return "security(" + strconv.Itoa(int(s)) + ")"
}

func securityFromScheme(scheme string) (Security, bool) {
	for i, s := range securitySchemes {
		if s == scheme {
			return Security(i), true
		}
	}
	return Insecure, false
}

// PoolAddress 解析后的远程 pool 地址
type PoolAddress struct {
	Host       string // 不带方括号
	Port       uint16
	PortString string // 原样保留，用于日志和 info
	Pool       string
	Security   Security
}

// HostPort 返回可直接用于拨号和日志的 host:port
func (a PoolAddress) HostPort() string {
	return net.JoinHostPort(a.Host, a.PortString)
}

// String 规范形式的 URI
func (a PoolAddress) String() string {
	return a.Security.Scheme() + "://" + net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port))) + "/" + a.Pool
}

// SameServer host 和端口都相同
func (a PoolAddress) SameServer(b PoolAddress) bool {
	return a.Host == b.Host && a.Port == b.Port
}

func badPoolName(uri, format string, args ...interface{}) error {
	return coreerrors.Newf(coreerrors.CodePoolnameBadth, "%q: "+format, append([]interface{}{uri}, args...)...)
}

// ParsePoolAddress 解析 scheme://host[:port]/pool
//
// host、port 不能为空；emptyPoolOK 为 false 时 pool 也不能为空（list 允许空）。
// 端口支持十进制、0x 十六进制和前导 0 八进制。
func ParsePoolAddress(uri string, emptyPoolOK bool) (PoolAddress, error) {
	var addr PoolAddress

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return addr, badPoolName(uri, "missing scheme")
	}
	sec, ok := securityFromScheme(scheme)
	if !ok {
		corelog.Errorf("Didn't expect '%s' as a protocol in '%s'", scheme, uri)
		return addr, badPoolName(uri, "unknown scheme %q", scheme)
	}
	addr.Security = sec

	authority, pool, ok := strings.Cut(rest, "/")
	if !ok {
		return addr, badPoolName(uri, "missing pool name")
	}
	addr.Pool = pool

	host, port, err := splitAuthority(authority)
	if err != nil {
		return addr, badPoolName(uri, "%v", err)
	}
	addr.Host = host
	addr.PortString = port

	if addr.Host == "" {
		return addr, badPoolName(uri, "empty host")
	}
	if addr.PortString == "" {
		return addr, badPoolName(uri, "empty port")
	}
	if addr.Pool == "" && !emptyPoolOK {
		return addr, badPoolName(uri, "empty pool name")
	}

	n, err := strconv.ParseUint(addr.PortString, 0, 16)
	if err != nil {
		return addr, badPoolName(uri, "invalid port %q", addr.PortString)
	}
	addr.Port = uint16(n)
	return addr, nil
}

// splitAuthority 拆分 host[:port]，支持 [v6]:port；缺省端口为默认端口
func splitAuthority(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", errMissingBracket
		}
		host = authority[1:end]
		tail := authority[end+1:]
		switch {
		case tail == "":
			return host, strconv.Itoa(protocol.DefaultPort), nil
		case tail[0] == ':':
			return host, tail[1:], nil
		default:
			return "", "", errJunkAfterBracket
		}
	}
	i := strings.LastIndexByte(authority, ':')
	if i < 0 {
		return authority, strconv.Itoa(protocol.DefaultPort), nil
	}
	return authority[:i], authority[i+1:], nil
}

var (
	errMissingBracket   = errors.New("missing ']' in host")
	errJunkAfterBracket = errors.New("unexpected text after ']'")
)
