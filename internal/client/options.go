package client

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"poolnet/internal/client/transport"
	coreerrors "poolnet/internal/core/errors"
	corelog "poolnet/internal/core/log"
	"poolnet/internal/protocol"
)

const (
	// DefaultMaxTries 握手 I/O 失败时最多建立连接的次数
	DefaultMaxTries = 3
	// DefaultBackoffStep 第 n 次失败后等待 n 倍该时长
	DefaultBackoffStep = 100 * time.Millisecond
)

// Options 建立连接和打开 hose 的参数
type Options struct {
	MaxTries    int
	BackoffStep time.Duration

	// LegacyCommands 服务端回复 (0,0) 后假定支持的命令
	LegacyCommands protocol.CommandSet

	DialTimeout   time.Duration
	SocketOptions transport.SocketOptions
	Resolver      transport.Resolver
	// Establisher 非空时忽略 DialTimeout、SocketOptions 和 Resolver
	Establisher *transport.Establisher

	// STARTTLS 客户端身份（PEM），两者同时设置才生效
	Certificate string
	PrivateKey  string
	RootCAs     *x509.CertPool

	// HoseName 为空时生成随机名称
	HoseName string

	Logger corelog.Logger
}

// Option 修改 Options
type Option func(*Options)

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		MaxTries:       DefaultMaxTries,
		BackoffStep:    DefaultBackoffStep,
		LegacyCommands: protocol.LegacyCommands(),
		DialTimeout:    10 * time.Second,
		SocketOptions:  transport.DefaultSocketOptions(),
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func WithLogger(l corelog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithResolver(r transport.Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

func WithEstablisher(e *transport.Establisher) Option {
	return func(o *Options) { o.Establisher = e }
}

// WithHandshakeRetry 设置握手重试次数和退避步长
func WithHandshakeRetry(maxTries int, step time.Duration) Option {
	return func(o *Options) {
		o.MaxTries = maxTries
		o.BackoffStep = step
	}
}

func WithLegacyCommands(s protocol.CommandSet) Option {
	return func(o *Options) { o.LegacyCommands = s }
}

// WithClientCertificate STARTTLS 时出示的客户端证书
func WithClientCertificate(certPEM, keyPEM string) Option {
	return func(o *Options) {
		o.Certificate = certPEM
		o.PrivateKey = keyPEM
	}
}

func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *Options) { o.RootCAs = pool }
}

func WithHoseName(name string) Option {
	return func(o *Options) { o.HoseName = name }
}

func WithSocketOptions(so transport.SocketOptions) Option {
	return func(o *Options) { o.SocketOptions = so }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) { o.DialTimeout = d }
}

// WithOptions 整体替换，用于由配置文件生成的参数
func WithOptions(src Options) Option {
	return func(o *Options) { *o = src }
}

func (o Options) logger() corelog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return corelog.ForComponent("client")
}

func (o Options) establisher() *transport.Establisher {
	if o.Establisher != nil {
		return o.Establisher
	}
	e := transport.NewEstablisher()
	if o.Resolver != nil {
		e.Resolver = o.Resolver
	}
	e.Options = o.SocketOptions
	e.Timeout = o.DialTimeout
	e.Logger = o.Logger
	return e
}

func (o Options) maxTries() int {
	if o.MaxTries < 1 {
		return 1
	}
	return o.MaxTries
}

// clientCertificates 解析 PEM 证书和私钥
func (o Options) clientCertificates() ([]tls.Certificate, error) {
	if o.Certificate == "" || o.PrivateKey == "" {
		return nil, nil
	}
	cert, err := tls.X509KeyPair([]byte(o.Certificate), []byte(o.PrivateKey))
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTLSError, "load client certificate")
	}
	return []tls.Certificate{cert}, nil
}
